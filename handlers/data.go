package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/database"
	"github.com/CrowderSoup/taskflow/kanban"
	"github.com/CrowderSoup/taskflow/services"
	"github.com/CrowderSoup/taskflow/workload"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200

	// originHeader carries the client's origin token on mutations whose body
	// has no origin field.
	originHeader = "X-Origin"
)

// DataHandler serves boards, lists, cards and their analytics.
type DataHandler struct {
	dataService *database.DataService
	engine      *workload.Engine
	hub         *services.Hub
	publisher   services.Publisher
	notifier    *services.Dispatcher
	log         logrus.FieldLogger
}

func NewDataHandler(
	dataService *database.DataService,
	engine *workload.Engine,
	hub *services.Hub,
	publisher services.Publisher,
	notifier *services.Dispatcher,
	log logrus.FieldLogger,
) *DataHandler {
	if publisher == nil {
		publisher = hub
	}
	return &DataHandler{
		dataService: dataService,
		engine:      engine,
		hub:         hub,
		publisher:   publisher,
		notifier:    notifier,
		log:         log,
	}
}

// caller returns the identity and a logger scoped to it.
func (h *DataHandler) caller(w http.ResponseWriter, r *http.Request) (services.Identity, logrus.FieldLogger, bool) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "user not found"})
		return services.Identity{}, nil, false
	}
	return id, h.log.WithField("user_id", id.UserID), true
}

// authorize returns the caller's role on the board. Boards the caller is not
// a member of are reported as not found.
func (h *DataHandler) authorize(ctx context.Context, boardID, userID string) (string, error) {
	if err := required("boardId", boardID); err != nil {
		return "", err
	}
	return h.dataService.MemberRole(ctx, boardID, userID)
}

func (h *DataHandler) requireOwner(ctx context.Context, boardID, userID string) error {
	role, err := h.authorize(ctx, boardID, userID)
	if err != nil {
		return err
	}
	if role != kanban.RoleOwner {
		return fmt.Errorf("only the board owner may do this: %w", kanban.ErrForbidden)
	}
	return nil
}

// broadcast publishes a board event. Failures are logged and never fail the
// request.
func (h *DataHandler) broadcast(ctx context.Context, log logrus.FieldLogger, typ, boardID, userID, origin string, data any) {
	ev, err := kanban.NewEvent(typ, boardID, userID, origin, data)
	if err != nil {
		log.WithError(err).Error("Failed to build event")
		return
	}
	if err := h.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.WithError(err).WithFields(logrus.Fields{"board_id": boardID, "event": typ}).Warn("Failed to publish event")
	}
}

// record appends to the board's activity log on a best-effort basis.
func (h *DataHandler) record(ctx context.Context, log logrus.FieldLogger, id services.Identity, boardID, action, entityType, entityID string) {
	err := h.dataService.RecordActivity(context.WithoutCancel(ctx), &kanban.Activity{
		BoardID:    boardID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     id.UserID,
		UserName:   id.Name,
	})
	if err != nil {
		log.WithError(err).WithField("board_id", boardID).Warn("Failed to record activity")
	}
}

func originOf(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get(originHeader)
}

// ListBoards returns the boards the caller owns or belongs to
func (h *DataHandler) ListBoards(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}
	boards, err := h.dataService.ListBoards(r.Context(), id.UserID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

func (h *DataHandler) CreateBoard(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}
	if err := required("title", req.Title); err != nil {
		writeError(w, log, err)
		return
	}

	if err := h.dataService.UpsertUser(r.Context(), id.UserID, id.Name); err != nil {
		writeError(w, log, err)
		return
	}
	board, err := h.dataService.CreateBoard(r.Context(), id.UserID, id.Name, req.Title, req.Description)
	if err != nil {
		writeError(w, log, err)
		return
	}

	h.record(r.Context(), log, id, board.ID, "CREATE", "BOARD", board.ID)
	log.WithField("board_id", board.ID).Info("Board created")
	writeJSON(w, http.StatusCreated, board)
}

// GetBoard returns the full board graph
func (h *DataHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}
	boardID := mux.Vars(r)["boardId"]
	if _, err := h.authorize(r.Context(), boardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}
	board, err := h.dataService.GetBoard(r.Context(), boardID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *DataHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}
	boardID := mux.Vars(r)["boardId"]
	if _, err := h.authorize(r.Context(), boardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}
	members, err := h.dataService.ListMembers(r.Context(), boardID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// AddMember lets the owner share a board with another user
func (h *DataHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}
	boardID := mux.Vars(r)["boardId"]

	var req struct {
		UserID   string `json:"userId"`
		UserName string `json:"userName"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}
	if err := required("userId", req.UserID); err != nil {
		writeError(w, log, err)
		return
	}
	if err := h.requireOwner(r.Context(), boardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}

	member, err := h.dataService.AddMember(r.Context(), boardID, req.UserID, req.UserName)
	if err != nil {
		writeError(w, log, err)
		return
	}
	h.record(r.Context(), log, id, boardID, "ADD_MEMBER", "BOARD", req.UserID)
	writeJSON(w, http.StatusCreated, member)
}

// Analytics returns board metrics, per-member workloads and recent reports
func (h *DataHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}
	boardID := mux.Vars(r)["boardId"]
	if _, err := h.authorize(r.Context(), boardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}
	members, err := h.dataService.ListMembers(r.Context(), boardID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	analytics, err := h.engine.BoardAnalytics(r.Context(), boardID, members)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

// Workload returns one user's workload on a board, the caller's by default.
func (h *DataHandler) Workload(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}
	boardID := mux.Vars(r)["boardId"]
	if _, err := h.authorize(r.Context(), boardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = id.UserID
	}
	snapshot, err := h.engine.CalculateUserWorkload(r.Context(), userID, boardID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// GenerateReport snapshots the board's metrics now
func (h *DataHandler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}
	boardID := mux.Vars(r)["boardId"]
	if _, err := h.authorize(r.Context(), boardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}
	report, err := h.engine.GenerateBoardReport(r.Context(), boardID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (h *DataHandler) Activity(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}
	boardID := mux.Vars(r)["boardId"]
	if _, err := h.authorize(r.Context(), boardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, log, fmt.Errorf("%w: limit must be a positive integer", kanban.ErrInvalidInput))
			return
		}
		limit = min(n, maxActivityLimit)
	}

	activity, err := h.dataService.ListActivity(r.Context(), boardID, limit)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}
