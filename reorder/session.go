package reorder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/kanban"
)

// DefaultActivationDistance is how far, in pixels, the pointer must travel
// before a press turns into a drag.
const DefaultActivationDistance = 8

// maxIssuedOrigins bounds the set of origin tokens remembered for echo
// filtering. Echoes older than this many mutations are applied again, which
// is harmless because they carry the same positions.
const maxIssuedOrigins = 64

var (
	ErrClosed        = errors.New("session closed")
	ErrNotDragging   = errors.New("no drag in progress")
	ErrAlreadyActive = errors.New("drag already in progress")
	ErrUnknownEntity = errors.New("unknown card or list")
)

// Kind tells cards and lists apart.
type Kind string

const (
	KindCard Kind = "card"
	KindList Kind = "list"
)

// State is the drag state of a session.
type State int

const (
	Idle State = iota
	Dragging
)

func (s State) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// Identity is the user a session acts for.
type Identity struct {
	UserID string
	Name   string
}

// Active identifies the entity being dragged.
type Active struct {
	Kind Kind
	ID   string
}

// Target identifies the entity under the pointer. A list target means the
// list's drop zone rather than one of its cards.
type Target struct {
	Kind Kind
	ID   string
}

// Persister writes batched positions. Each call must apply all positions or none.
type Persister interface {
	PersistCards(ctx context.Context, boardID, origin string, positions []kanban.CardPosition) error
	PersistLists(ctx context.Context, boardID, origin string, positions []kanban.ListPosition) error
}

// Fetcher loads the authoritative board graph.
type Fetcher interface {
	FetchBoard(ctx context.Context, boardID string) (*kanban.Board, error)
}

// PersistError is returned by DragEnd when the write failed and local state
// was rolled back.
type PersistError struct {
	Kind Kind
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s order: %v", e.Kind, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

type Option func(*Session)

// WithFetcher sets the source used for full refreshes after structural events.
func WithFetcher(f Fetcher) Option {
	return func(s *Session) { s.fetcher = f }
}

func WithActivationDistance(d float64) Option {
	return func(s *Session) { s.activation = d }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Session) { s.log = log }
}

// WithOriginFunc replaces the origin token generator.
func WithOriginFunc(fn func() string) Option {
	return func(s *Session) { s.newOrigin = fn }
}

// Session holds the local state of one open board view. Drag input is applied
// optimistically; remote events are reconciled as they arrive. The mutex is
// never held across a network call, so a persistence result and a remote
// event may interleave and the later write wins.
type Session struct {
	mu sync.Mutex

	board     kanban.Board
	self      Identity
	persister Persister
	fetcher   Fetcher
	log       logrus.FieldLogger

	activation float64
	newOrigin  func() string

	state    State
	active   Active
	snapshot kanban.Board

	issued      map[string]struct{}
	issuedOrder []string
	closed      bool
}

func NewSession(board kanban.Board, self Identity, persister Persister, opts ...Option) *Session {
	s := &Session{
		board:      board.Clone(),
		self:       self,
		persister:  persister,
		log:        logrus.StandardLogger(),
		activation: DefaultActivationDistance,
		newOrigin:  uuid.NewString,
		issued:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.board.SortByOrder()
	s.log = s.log.WithField("board_id", board.ID)
	return s
}

// Board returns a copy of the local board state.
func (s *Session) Board() kanban.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Clone()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close detaches the session from its view. Results that arrive afterwards
// are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.state = Idle
	s.mu.Unlock()
}

// DragStart begins a drag once the pointer has travelled the activation
// distance. It reports whether the session is now dragging.
func (s *Session) DragStart(a Active, distance float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	if s.state == Dragging {
		return false, ErrAlreadyActive
	}
	switch a.Kind {
	case KindCard:
		if _, _, ok := s.board.FindCard(a.ID); !ok {
			return false, fmt.Errorf("card %s: %w", a.ID, ErrUnknownEntity)
		}
	case KindList:
		if s.board.FindList(a.ID) < 0 {
			return false, fmt.Errorf("list %s: %w", a.ID, ErrUnknownEntity)
		}
	default:
		return false, fmt.Errorf("drag kind %q: %w", a.Kind, ErrUnknownEntity)
	}
	if distance < s.activation {
		return false, nil
	}

	s.state = Dragging
	s.active = a
	s.snapshot = s.board.Clone()
	return true, nil
}

// DragOver projects a card drag onto local state. List drags only move on
// DragEnd. Nothing is sent over the network.
func (s *Session) DragOver(over Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != Dragging || s.active.Kind != KindCard {
		return
	}
	s.moveCard(s.active.ID, over)
}

func (s *Session) moveCard(cardID string, over Target) {
	if over.ID == cardID {
		return
	}
	src, from, ok := s.board.FindCard(cardID)
	if !ok {
		return
	}

	var dst, to int
	switch over.Kind {
	case KindCard:
		li, ci, found := s.board.FindCard(over.ID)
		if !found {
			return
		}
		dst, to = li, ci
	case KindList:
		dst = s.board.FindList(over.ID)
		if dst < 0 {
			return
		}
		to = len(s.board.Lists[dst].Cards)
	default:
		return
	}

	if src == dst {
		cards := s.board.Lists[src].Cards
		if to >= len(cards) {
			to = len(cards) - 1
		}
		s.board.Lists[src].Cards = arrayMove(cards, from, to)
		resequenceCards(&s.board.Lists[src])
		return
	}

	card := s.board.Lists[src].Cards[from]
	srcCards := s.board.Lists[src].Cards
	s.board.Lists[src].Cards = append(srcCards[:from:from], srcCards[from+1:]...)

	card.ListID = s.board.Lists[dst].ID
	dstCards := s.board.Lists[dst].Cards
	out := make([]kanban.Card, 0, len(dstCards)+1)
	out = append(out, dstCards[:to]...)
	out = append(out, card)
	out = append(out, dstCards[to:]...)
	s.board.Lists[dst].Cards = out

	resequenceCards(&s.board.Lists[src])
	resequenceCards(&s.board.Lists[dst])
}

// DragEnd finishes the drag and persists the result in one batched call. A
// nil target cancels the drag and restores the pre-drag state. When the write
// fails the pre-drag state is restored and a *PersistError is returned.
func (s *Session) DragEnd(ctx context.Context, over *Target) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != Dragging {
		s.mu.Unlock()
		return ErrNotDragging
	}
	active := s.active
	snapshot := s.snapshot
	s.state = Idle
	s.active = Active{}
	s.snapshot = kanban.Board{}

	if over == nil {
		s.board = snapshot
		s.mu.Unlock()
		return nil
	}

	boardID := s.board.ID
	var persist func() error
	switch active.Kind {
	case KindList:
		from := s.board.FindList(active.ID)
		to := s.listIndex(*over)
		if from < 0 || to < 0 || from == to {
			s.mu.Unlock()
			return nil
		}
		s.board.Lists = arrayMove(s.board.Lists, from, to)
		for i := range s.board.Lists {
			s.board.Lists[i].Order = i
		}
		positions := kanban.ListPositions(s.board)
		origin := s.issue()
		persist = func() error { return s.persister.PersistLists(ctx, boardID, origin, positions) }
	default:
		positions := kanban.CardPositions(s.board)
		origin := s.issue()
		persist = func() error { return s.persister.PersistCards(ctx, boardID, origin, positions) }
	}
	s.mu.Unlock()

	err := persist()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err != nil {
		s.board = snapshot
		s.log.WithError(err).WithField("kind", active.Kind).Warn("Reorder failed, restored previous order")
		return &PersistError{Kind: active.Kind, Err: err}
	}
	return nil
}

// listIndex resolves a drop target to a list index. Hovering a card counts as
// hovering the list holding it.
func (s *Session) listIndex(over Target) int {
	if over.Kind == KindCard {
		li, _, ok := s.board.FindCard(over.ID)
		if !ok {
			return -1
		}
		return li
	}
	return s.board.FindList(over.ID)
}

func (s *Session) issue() string {
	origin := s.newOrigin()
	s.issued[origin] = struct{}{}
	s.issuedOrder = append(s.issuedOrder, origin)
	if len(s.issuedOrder) > maxIssuedOrigins {
		delete(s.issued, s.issuedOrder[0])
		s.issuedOrder = s.issuedOrder[1:]
	}
	return origin
}

// ownEcho reports whether ev was caused by this session. Reorder events
// without an origin token fall back to comparing the acting user. Structural
// events are never applied locally ahead of the server, so only a matching
// origin makes them an echo.
func (s *Session) ownEcho(ev kanban.Event) bool {
	if ev.Origin != "" {
		_, ok := s.issued[ev.Origin]
		return ok
	}
	switch ev.Type {
	case kanban.EventCardsReorder, kanban.EventListsReorder:
		return ev.UserID != "" && ev.UserID == s.self.UserID
	}
	return false
}

// ApplyRemote reconciles local state with an event from the board channel.
// Echoes of this session's own writes are dropped.
func (s *Session) ApplyRemote(ctx context.Context, ev kanban.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if ev.BoardID != "" && ev.BoardID != s.board.ID {
		s.mu.Unlock()
		return nil
	}
	if s.ownEcho(ev) {
		s.mu.Unlock()
		s.log.WithField("event", ev.Type).Debug("Dropped own echo")
		return nil
	}

	refresh := false
	var err error
	switch ev.Type {
	case kanban.EventCardsReorder:
		var p kanban.CardsReorderPayload
		if err = ev.Decode(&p); err == nil {
			refresh = s.applyCardOrder(p.Cards)
		}
	case kanban.EventListsReorder:
		var p kanban.ListsReorderPayload
		if err = ev.Decode(&p); err == nil {
			s.applyListOrder(p.Lists)
		}
	case kanban.EventListDeleted:
		var p kanban.ListDeletedPayload
		if err = ev.Decode(&p); err == nil {
			if i := s.board.FindList(p.ListID); i >= 0 {
				s.board.Lists = append(s.board.Lists[:i:i], s.board.Lists[i+1:]...)
			}
			refresh = true
		}
	case kanban.EventCardCreated, kanban.EventCardUpdated, kanban.EventListCreated, kanban.EventListCopied:
		refresh = true
	default:
		s.log.WithField("event", ev.Type).Debug("Ignoring unknown event")
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if refresh {
		return s.Refresh(ctx)
	}
	return nil
}

// applyCardOrder rebuilds every list the payload touches from the payload's
// order values. Card fields the payload does not carry come from local state.
// It reports whether the payload names a list this session does not hold yet,
// in which case the board must be refreshed.
func (s *Session) applyCardOrder(positions []kanban.CardPosition) bool {
	known := make(map[string]kanban.Card)
	affected := make(map[string]struct{})
	for _, l := range s.board.Lists {
		for _, c := range l.Cards {
			known[c.ID] = c
		}
	}
	for _, p := range positions {
		affected[p.ListID] = struct{}{}
		if c, ok := known[p.ID]; ok {
			affected[c.ListID] = struct{}{}
		}
	}

	for i := range s.board.Lists {
		list := &s.board.Lists[i]
		if _, ok := affected[list.ID]; !ok {
			continue
		}
		var incoming []kanban.CardPosition
		for _, p := range positions {
			if p.ListID == list.ID {
				incoming = append(incoming, p)
			}
		}
		sort.SliceStable(incoming, func(a, b int) bool { return incoming[a].Order < incoming[b].Order })

		cards := make([]kanban.Card, 0, len(incoming))
		for _, p := range incoming {
			c, ok := known[p.ID]
			if !ok {
				c = kanban.Card{ID: p.ID}
			}
			c.ListID = p.ListID
			c.Order = p.Order
			cards = append(cards, c)
		}
		list.Cards = cards
	}

	for _, p := range positions {
		if s.board.FindList(p.ListID) < 0 {
			return true
		}
	}
	return false
}

// applyListOrder sorts lists by the payload's order values. Lists the payload
// does not mention keep their relative order after the ones it does.
func (s *Session) applyListOrder(positions []kanban.ListPosition) {
	order := make(map[string]int, len(positions))
	for _, p := range positions {
		order[p.ID] = p.Order
	}
	sort.SliceStable(s.board.Lists, func(i, j int) bool {
		oi, iok := order[s.board.Lists[i].ID]
		oj, jok := order[s.board.Lists[j].ID]
		switch {
		case iok && jok:
			return oi < oj
		default:
			return iok && !jok
		}
	})
	for i := range s.board.Lists {
		s.board.Lists[i].Order = i
	}
}

// Refresh replaces local state with the authoritative board. Without a
// fetcher it does nothing.
func (s *Session) Refresh(ctx context.Context) error {
	if s.fetcher == nil {
		return nil
	}
	s.mu.Lock()
	boardID := s.board.ID
	s.mu.Unlock()

	fresh, err := s.fetcher.FetchBoard(ctx, boardID)
	if err != nil {
		return fmt.Errorf("refresh board %s: %w", boardID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.board = fresh.Clone()
	s.board.SortByOrder()
	return nil
}

func arrayMove[T any](items []T, from, to int) []T {
	out := make([]T, 0, len(items))
	moved := items[from]
	out = append(out, items[:from]...)
	out = append(out, items[from+1:]...)
	out = append(out[:to], append([]T{moved}, out[to:]...)...)
	return out
}

func resequenceCards(l *kanban.List) {
	for i := range l.Cards {
		l.Cards[i].Order = i
	}
}
