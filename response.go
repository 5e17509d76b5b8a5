package bantutrack

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/guetchou/bantudelice-tracking/session"
	"github.com/guetchou/bantudelice-tracking/track"
)

type errorPayload struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Operation string `json:"operation"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func buildErrorPayload(op, code, msg string) []byte {
	b, _ := json.Marshal(errorPayload{Error: errorBody{Operation: op, Code: code, Message: msg}})
	return b
}

// errorStatus maps the error taxonomy to HTTP status and boundary code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, track.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, track.ErrClosed):
		return http.StatusConflict, "Closed"
	case errors.Is(err, track.ErrStaleTransition):
		return http.StatusConflict, "StaleTransition"
	case errors.Is(err, track.ErrInvalidReport):
		return http.StatusBadRequest, "InvalidReport"
	case errors.Is(err, session.ErrUnknownSubscriber):
		return http.StatusNotFound, "NotFound"
	}
	return http.StatusInternalServerError, "Internal"
}

func writeError(w http.ResponseWriter, op string, err error) {
	status, code := errorStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buildErrorPayload(op, code, err.Error()))
}
