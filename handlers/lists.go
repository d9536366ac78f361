package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/kanban"
)

func (h *DataHandler) CreateList(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req struct {
		Title   string `json:"title"`
		BoardID string `json:"boardId"`
		Status  string `json:"status"`
		Origin  string `json:"origin"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}
	if err := required("title", req.Title); err != nil {
		writeError(w, log, err)
		return
	}
	status, err := kanban.ParseListStatus(req.Status)
	if err != nil {
		writeError(w, log, err)
		return
	}
	if _, err := h.authorize(r.Context(), req.BoardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}

	list, err := h.dataService.CreateList(r.Context(), req.BoardID, req.Title, status)
	if err != nil {
		writeError(w, log, err)
		return
	}

	h.broadcast(r.Context(), log, kanban.EventListCreated, req.BoardID, id.UserID, originOf(r, req.Origin), kanban.ListPayload{List: *list})
	h.record(r.Context(), log, id, req.BoardID, "CREATE", "LIST", list.ID)
	writeJSON(w, http.StatusCreated, list)
}

// DeleteList removes a list and its cards. Only the board owner may do it.
func (h *DataHandler) DeleteList(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}
	listID := mux.Vars(r)["listId"]

	boardID, err := h.dataService.ListBoardID(r.Context(), listID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	if err := h.requireOwner(r.Context(), boardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}
	if err := h.dataService.DeleteList(r.Context(), listID); err != nil {
		writeError(w, log, err)
		return
	}

	h.broadcast(r.Context(), log, kanban.EventListDeleted, boardID, id.UserID, originOf(r, ""), kanban.ListDeletedPayload{ListID: listID})
	h.record(r.Context(), log, id, boardID, "DELETE", "LIST", listID)
	w.WriteHeader(http.StatusNoContent)
}

// CopyList duplicates a list with its cards at the end of the board
func (h *DataHandler) CopyList(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}
	listID := mux.Vars(r)["listId"]

	boardID, err := h.dataService.ListBoardID(r.Context(), listID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	if _, err := h.authorize(r.Context(), boardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}
	copied, err := h.dataService.CopyList(r.Context(), listID)
	if err != nil {
		writeError(w, log, err)
		return
	}

	h.broadcast(r.Context(), log, kanban.EventListCopied, boardID, id.UserID, originOf(r, ""), kanban.ListPayload{List: *copied})
	h.record(r.Context(), log, id, boardID, "COPY", "LIST", copied.ID)
	writeJSON(w, http.StatusCreated, copied)
}

type reorderRequest struct {
	BoardID string          `json:"boardId"`
	Origin  string          `json:"origin"`
	Cards   json.RawMessage `json:"cards"`
	Lists   json.RawMessage `json:"lists"`
}

// ReorderLists applies a batch of list positions and broadcasts the
// normalized result.
func (h *DataHandler) ReorderLists(w http.ResponseWriter, r *http.Request) {
	id, log, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req reorderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}
	var positions []kanban.ListPosition
	if err := decodeBatch("lists", req.Lists, &positions); err != nil {
		writeError(w, log, err)
		return
	}
	if _, err := h.authorize(r.Context(), req.BoardID, id.UserID); err != nil {
		writeError(w, log, err)
		return
	}

	applied, err := h.dataService.ReorderLists(r.Context(), req.BoardID, positions)
	if err != nil {
		writeError(w, log, err)
		return
	}

	origin := originOf(r, req.Origin)
	h.broadcast(r.Context(), log, kanban.EventListsReorder, req.BoardID, id.UserID, origin, kanban.ListsReorderPayload{Lists: applied})
	log.WithFields(logrus.Fields{"board_id": req.BoardID, "lists": len(applied)}).Debug("Lists reordered")
	writeJSON(w, http.StatusOK, kanban.ListsReorderPayload{Lists: applied})
}
