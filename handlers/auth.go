package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/database"
	"github.com/CrowderSoup/taskflow/services"
)

// AuthHandler handles authentication-related endpoints
type AuthHandler struct {
	authService *services.AuthService
	dataService *database.DataService
	devTokens   bool
	log         logrus.FieldLogger
}

func NewAuthHandler(authService *services.AuthService, dataService *database.DataService, devTokens bool, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		dataService: dataService,
		devTokens:   devTokens,
		log:         log,
	}
}

// IssueToken mints a token for any identity. It only exists in development
// setups where no identity provider sits in front of the API.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if !h.devTokens {
		http.NotFound(w, r)
		return
	}

	var req struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := required("userId", req.UserID); err != nil {
		writeError(w, h.log, err)
		return
	}

	id := services.Identity{UserID: req.UserID, Name: req.Name}
	token, err := h.authService.CreateJWT(id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.dataService.UpsertUser(r.Context(), id.UserID, id.Name); err != nil {
		writeError(w, h.log, err)
		return
	}

	h.log.WithField("user_id", id.UserID).Info("Issued development token")
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// VerifyToken reports the identity behind the caller's token
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "valid",
		"identity": id,
	})
}

// Healthz checks the database connection.
func (h *AuthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.dataService.Ping(r.Context()); err != nil {
		h.log.WithError(err).Error("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
