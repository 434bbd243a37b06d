package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/dbchat/internal/failure"
	"github.com/JonMunkholm/dbchat/internal/observability"
)

func statusFor(err error) int {
	switch failure.KindOf(err) {
	case failure.Connection, failure.Execution:
		return http.StatusBadRequest
	case failure.Generation, failure.Narration:
		return http.StatusBadGateway
	case failure.SafetyRejection:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writeFailure reports a typed failure with its readable message and hint.
func writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	body := map[string]any{
		"error_code": string(failure.KindOf(err)),
		"message":    failure.UserMessage(err),
		"trace_id":   observability.TraceIDFromContext(ctx),
	}
	var fe *failure.E
	if errors.As(err, &fe) && fe.Hint != "" {
		body["hint"] = fe.Hint
	}
	writeJSON(w, statusFor(err), body)
}
