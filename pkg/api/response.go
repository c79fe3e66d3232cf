package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/budgeted-influence-service/pkg/validation"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// writeSuccess writes a successful JSON response
func writeSuccess(w http.ResponseWriter, logger zerolog.Logger, status int, message string, data interface{}) {
	writeJSON(w, logger, status, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// writeError writes an error JSON response. Validation failures carry their
// field errors as data.
func writeError(w http.ResponseWriter, logger zerolog.Logger, status int, message string, err error) {
	resp := Response{Success: false, Message: message}
	if err != nil {
		resp.Error = err.Error()
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			resp.Data = map[string]interface{}{"validation_errors": verrs}
		}
	}
	writeJSON(w, logger, status, resp)
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().
			Err(err).
			Int("status_code", status).
			Msg("Failed to encode JSON response")
	}
}

// decodeJSON reads the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
