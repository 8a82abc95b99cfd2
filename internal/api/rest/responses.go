package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	domainerrors "github.com/finsentinel/risk-scoring-backend/internal/domain/errors"
)

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			slog.Error("encoding response failed", "error", err)
		}
	}
}

// writeError maps domain errors onto the JSON error envelope. Unknown
// errors are reported as opaque internal errors.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *domainerrors.AppError
	if errors.As(err, &appErr) {
		status := appErr.StatusCode
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(r.Context(), "request failed",
				"path", r.URL.Path,
				"code", appErr.Code,
				"error", err,
			)
		}
		writeJSON(w, status, errorResponse{Error: errorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		}})
		return
	}

	slog.ErrorContext(r.Context(), "request failed",
		"path", r.URL.Path,
		"error", err,
	)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{
		Code:    "INTERNAL_ERROR",
		Message: "An internal error occurred",
	}})
}
