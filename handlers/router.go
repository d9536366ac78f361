package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every API route. Everything except token issuance and the
// health check requires a valid token.
func NewRouter(authHandler *AuthHandler, dataHandler *DataHandler, authMiddleware *AuthMiddleware, log logrus.FieldLogger) *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestLogger(log))

	// Public routes
	r.HandleFunc("/api/auth/token", authHandler.IssueToken).Methods(http.MethodPost)
	r.HandleFunc("/api/healthz", authHandler.Healthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware.Auth)

	api.HandleFunc("/auth/verify", authHandler.VerifyToken).Methods(http.MethodGet)

	// Boards
	api.HandleFunc("/boards", dataHandler.ListBoards).Methods(http.MethodGet)
	api.HandleFunc("/boards", dataHandler.CreateBoard).Methods(http.MethodPost)
	api.HandleFunc("/boards/{boardId}", dataHandler.GetBoard).Methods(http.MethodGet)
	api.HandleFunc("/boards/{boardId}/members", dataHandler.ListMembers).Methods(http.MethodGet)
	api.HandleFunc("/boards/{boardId}/members", dataHandler.AddMember).Methods(http.MethodPost)
	api.HandleFunc("/boards/{boardId}/analytics", dataHandler.Analytics).Methods(http.MethodGet)
	api.HandleFunc("/boards/{boardId}/workload", dataHandler.Workload).Methods(http.MethodGet)
	api.HandleFunc("/boards/{boardId}/reports", dataHandler.GenerateReport).Methods(http.MethodPost)
	api.HandleFunc("/boards/{boardId}/activity", dataHandler.Activity).Methods(http.MethodGet)

	// Lists
	api.HandleFunc("/lists", dataHandler.CreateList).Methods(http.MethodPost)
	api.HandleFunc("/lists/reorder", dataHandler.ReorderLists).Methods(http.MethodPatch)
	api.HandleFunc("/lists/{listId}", dataHandler.DeleteList).Methods(http.MethodDelete)
	api.HandleFunc("/lists/{listId}/copy", dataHandler.CopyList).Methods(http.MethodPost)

	// Cards
	api.HandleFunc("/cards", dataHandler.CreateCard).Methods(http.MethodPost)
	api.HandleFunc("/cards/reorder", dataHandler.ReorderCards).Methods(http.MethodPatch)
	api.HandleFunc("/cards/{cardId}", dataHandler.UpdateCard).Methods(http.MethodPatch)
	api.HandleFunc("/cards/{cardId}/assignees", dataHandler.AddAssignee).Methods(http.MethodPost)

	// WebSocket route for real-time updates
	api.HandleFunc("/ws", dataHandler.HandleWebSocket).Methods(http.MethodGet)

	return r
}
