package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Path    string `json:"path"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if data == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, r, status, data)
}

func Error(w http.ResponseWriter, r *http.Request, status int, message string) {
	ErrorWithCode(w, r, status, message, "")
}

func ErrorWithCode(w http.ResponseWriter, r *http.Request, status int, message string, code string) {
	writeJSON(w, r, status, ErrorResponse{
		Status:  status,
		Message: message,
		Code:    code,
		Path:    r.URL.Path,
	})
}

// writeJSON encodes before writing the header so an encoding failure can
// still be reported as a 500.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Default().ErrorContext(r.Context(), "failed to encode response", slog.String("error", err.Error()))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
