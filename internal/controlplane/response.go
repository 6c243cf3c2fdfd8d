package controlplane

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/apphost/pkg/models"
)

// RespondWithJSON writes a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondWithError writes the {"detail": ...} body the CLI shows to users
func RespondWithError(w http.ResponseWriter, statusCode int, format string, args ...any) {
	RespondWithJSON(w, statusCode, models.ErrorResponse{Detail: fmt.Sprintf(format, args...)})
}

// DecodeJSON decodes a request body, rejecting unknown fields
func DecodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
