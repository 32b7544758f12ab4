package controller

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("⚠️ encode response:", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation *appErrors.ErrValidation
		transition *appErrors.InvalidStateTransition
		conflict   *appErrors.ErrCampaignConflict
		denied     *appErrors.ComplianceDenied
		contention *appErrors.LockContention
		transport  *appErrors.TransportError
	)
	status := http.StatusInternalServerError
	switch {
	case appErrors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.As(err, &validation), errors.Is(err, appErrors.ErrMalformedPayload):
		status = http.StatusBadRequest
	case errors.Is(err, appErrors.ErrInvalidSignature):
		status = http.StatusUnauthorized
	case errors.As(err, &transition), errors.As(err, &conflict), errors.As(err, &denied), errors.As(err, &contention):
		status = http.StatusConflict
	case errors.As(err, &transport):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		log.Println("❌ request failed:", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return appErrors.NewValidation("body", err.Error())
	}
	return nil
}

func pathID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		return 0, appErrors.NewValidation("id", "must be a positive integer")
	}
	return id, nil
}

func queryInt(r *http.Request, name string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(name))
	return v
}
