package kanban

import (
	"encoding/json"
	"fmt"
)

// Broadcast event names published on a board's channel.
const (
	EventCardsReorder = "cards-reorder"
	EventListsReorder = "lists-reorder"
	EventCardCreated  = "card-created"
	EventCardUpdated  = "card-updated"
	EventListCreated  = "list-created"
	EventListDeleted  = "list-deleted"
	EventListCopied   = "list-copied"
)

// Event is the envelope every board broadcast travels in. UserID and Origin
// echo the identity and origin token of the request that caused it.
type Event struct {
	Type    string          `json:"type"`
	BoardID string          `json:"boardId"`
	UserID  string          `json:"userId"`
	Origin  string          `json:"origin,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type CardsReorderPayload struct {
	Cards []CardPosition `json:"cards"`
}

type ListsReorderPayload struct {
	Lists []ListPosition `json:"lists"`
}

type ListDeletedPayload struct {
	ListID string `json:"listId"`
}

type CardPayload struct {
	Card Card `json:"card"`
}

type ListPayload struct {
	List List `json:"list"`
}

// NewEvent marshals data into an event envelope.
func NewEvent(typ, boardID, userID, origin string, data any) (Event, error) {
	ev := Event{Type: typ, BoardID: boardID, UserID: userID, Origin: origin}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		ev.Data = raw
	}
	return ev, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s event has no payload: %w", e.Type, ErrInvalidInput)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
