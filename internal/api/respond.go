package api

import (
	"encoding/json"
	"net/http"

	"tunnel-billing/internal/apperr"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError renders err as the error envelope. Server-side failures are
// logged with their cause; the body only carries the public message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, envelope := apperr.Render(err)
	if status >= http.StatusInternalServerError {
		loggerFrom(r.Context()).WithError(err).
			WithField("kind", apperr.KindOf(err).String()).
			Error("request error")
	}
	respondJSON(w, status, envelope)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("body", "Invalid JSON body")
	}
	return nil
}
