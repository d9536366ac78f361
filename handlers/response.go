package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskflow/kanban"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain errors onto status codes. Unexpected errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, kanban.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, kanban.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, kanban.ErrNotFound):
		status = http.StatusNotFound
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("Request failed")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", kanban.ErrInvalidInput)
		}
		return fmt.Errorf("%w: invalid request body: %v", kanban.ErrInvalidInput, err)
	}
	return nil
}

// decodeBatch decodes a positional batch, which must be a JSON array.
func decodeBatch(field string, raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return fmt.Errorf("%w: %s must be an array", kanban.ErrInvalidInput, field)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: invalid %s: %v", kanban.ErrInvalidInput, field, err)
	}
	return nil
}

func required(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", kanban.ErrInvalidInput, field)
	}
	return nil
}

func nonNegative(field string, value *float64) error {
	if value != nil && *value < 0 {
		return fmt.Errorf("%w: %s must not be negative", kanban.ErrInvalidInput, field)
	}
	return nil
}
