package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/database"
	"github.com/CrowderSoup/taskflow/kanban"
	"github.com/CrowderSoup/taskflow/services"
)

func (h *DataHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req struct {
		Title          string     `json:"title"`
		ListID         string     `json:"listId"`
		Description    string     `json:"description"`
		Priority       string     `json:"priority"`
		DueDate        *time.Time `json:"dueDate"`
		EstimatedHours *float64   `json:"estimatedHours"`
		Origin         string     `json:"origin"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}
	if err := required("title", req.Title); err != nil {
		writeError(w, log, err)
		return
	}
	if err := required("listId", req.ListID); err != nil {
		writeError(w, log, err)
		return
	}
	if err := nonNegative("estimatedHours", req.EstimatedHours); err != nil {
		writeError(w, log, err)
		return
	}
	priority, err := kanban.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, log, err)
		return
	}

	boardID, err := h.dataService.ListBoardID(r.Context(), req.ListID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	if _, err := h.authorize(r.Context(), boardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}

	card, err := h.dataService.CreateCard(r.Context(), database.NewCard{
		ListID:         req.ListID,
		Title:          req.Title,
		Description:    req.Description,
		Priority:       priority,
		DueDate:        req.DueDate,
		EstimatedHours: req.EstimatedHours,
	})
	if err != nil {
		writeError(w, log, err)
		return
	}

	h.broadcast(r.Context(), log, kanban.EventCardCreated, boardID, id.UserID, originOf(r, req.Origin), kanban.CardPayload{Card: *card})
	h.record(r.Context(), log, id, boardID, "CREATE", "CARD", card.ID)
	h.notify(r, log, services.ActionCardCreated, boardID, id, *card)
	writeJSON(w, http.StatusCreated, card)
}

// UpdateCard changes the fields present in the body
func (h *DataHandler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}
	cardID := mux.Vars(r)["cardId"]

	var req struct {
		Title          *string    `json:"title"`
		Description    *string    `json:"description"`
		Priority       *string    `json:"priority"`
		DueDate        *time.Time `json:"dueDate"`
		ClearDueDate   bool       `json:"clearDueDate"`
		EstimatedHours *float64   `json:"estimatedHours"`
		Completed      *bool      `json:"completed"`
		Origin         string     `json:"origin"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}
	if req.Title != nil {
		if err := required("title", *req.Title); err != nil {
			writeError(w, log, err)
			return
		}
	}
	if err := nonNegative("estimatedHours", req.EstimatedHours); err != nil {
		writeError(w, log, err)
		return
	}

	upd := database.CardUpdate{
		Title:          req.Title,
		Description:    req.Description,
		DueDate:        req.DueDate,
		ClearDueDate:   req.ClearDueDate,
		EstimatedHours: req.EstimatedHours,
		Completed:      req.Completed,
	}
	if req.Priority != nil {
		p, err := kanban.ParsePriority(*req.Priority)
		if err != nil {
			writeError(w, log, err)
			return
		}
		upd.Priority = &p
	}

	boardID, err := h.dataService.CardBoardID(r.Context(), cardID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	if _, err := h.authorize(r.Context(), boardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}

	before, err := h.dataService.GetCard(r.Context(), cardID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	card, err := h.dataService.UpdateCard(r.Context(), cardID, upd)
	if err != nil {
		writeError(w, log, err)
		return
	}

	h.broadcast(r.Context(), log, kanban.EventCardUpdated, boardID, id.UserID, originOf(r, req.Origin), kanban.CardPayload{Card: *card})
	h.record(r.Context(), log, id, boardID, "UPDATE", "CARD", card.ID)
	if !before.Completed() && card.Completed() {
		h.notify(r, log, services.ActionCardCompleted, boardID, id, *card)
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *DataHandler) AddAssignee(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}
	cardID := mux.Vars(r)["cardId"]

	var req struct {
		UserID   string `json:"userId"`
		UserName string `json:"userName"`
		Origin   string `json:"origin"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}
	if err := required("userId", req.UserID); err != nil {
		writeError(w, log, err)
		return
	}

	boardID, err := h.dataService.CardBoardID(r.Context(), cardID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	if _, err := h.authorize(r.Context(), boardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}

	assignee, err := h.dataService.AddAssignee(r.Context(), cardID, req.UserID, req.UserName)
	if err != nil {
		writeError(w, log, err)
		return
	}
	if card, err := h.dataService.GetCard(r.Context(), cardID); err == nil {
		h.broadcast(r.Context(), log, kanban.EventCardUpdated, boardID, id.UserID, originOf(r, req.Origin), kanban.CardPayload{Card: *card})
	} else {
		log.WithError(err).Warn("Failed to reload card for broadcast")
	}
	h.record(r.Context(), log, id, boardID, "ASSIGN", "CARD", cardID)
	writeJSON(w, http.StatusCreated, assignee)
}

// ReorderCards applies a batch of card positions atomically and broadcasts
// the normalized result to the board.
func (h *DataHandler) ReorderCards(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req reorderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}
	var positions []kanban.CardPosition
	if err := decodeBatch("cards", req.Cards, &positions); err != nil {
		writeError(w, log, err)
		return
	}
	if _, err := h.authorize(r.Context(), req.BoardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}

	applied, err := h.dataService.ReorderCards(r.Context(), req.BoardID, positions)
	if err != nil {
		writeError(w, log, err)
		return
	}

	origin := originOf(r, req.Origin)
	h.broadcast(r.Context(), log, kanban.EventCardsReorder, req.BoardID, id.UserID, origin, kanban.CardsReorderPayload{Cards: applied})
	log.WithFields(logrus.Fields{"board_id": req.BoardID, "cards": len(applied)}).Debug("Cards reordered")
	writeJSON(w, http.StatusOK, kanban.CardsReorderPayload{Cards: applied})
}

// notify hands a card change to the webhook integrations without waiting.
func (h *DataHandler) notify(r *http.Request, log logrus.FieldLogger, action, boardID string, id services.Identity, card kanban.Card) {
	if h.notifier == nil {
		return
	}
	title, err := h.dataService.BoardTitle(r.Context(), boardID)
	if err != nil {
		log.WithError(err).Warn("Failed to load board title for notification")
	}
	h.notifier.NotifyAsync(services.Notification{
		Action:     action,
		BoardID:    boardID,
		BoardTitle: title,
		UserName:   id.Name,
		Card:       card,
	})
}
