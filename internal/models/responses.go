package models

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

type APIResponse struct {
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"-"`
}

func (r *APIResponse) MarshalJSON() ([]byte, error) {
	type Alias APIResponse
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(r),
		Timestamp: r.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func NewSuccessResponse(message string, data interface{}) *APIResponse {
	return &APIResponse{
		Status:    "success",
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func NewErrorResponse(message string) *APIResponse {
	return &APIResponse{
		Status:    "error",
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// NewKindErrorResponse inclui o tipo de erro da taxonomia na resposta.
func NewKindErrorResponse(err error) *APIResponse {
	resp := NewErrorResponse(err.Error())
	resp.ErrorKind = ErrorKind(err)
	return resp
}

func NewWaitingResponse(message string, data interface{}) *APIResponse {
	return &APIResponse{
		Status:    "waiting",
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// StatusCodeFor traduz o tipo de erro para o status HTTP.
func StatusCodeFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionLimitExceeded), errors.Is(err, ErrSessionNotConnected):
		return http.StatusConflict
	case errors.Is(err, ErrTransportFailure):
		return http.StatusBadGateway
	case errors.Is(err, ErrPersistenceFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func RespondWithJSON(w http.ResponseWriter, statusCode int, response *APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// RespondWithError responde com o status correspondente ao tipo do erro.
func RespondWithError(w http.ResponseWriter, err error) {
	RespondWithJSON(w, StatusCodeFor(err), NewKindErrorResponse(err))
}
