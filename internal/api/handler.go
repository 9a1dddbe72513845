package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mt_relay/internal/api/auth"
	"mt_relay/internal/directory"
	"mt_relay/internal/relay"
	"mt_relay/internal/storage"
)

// Handler обрабатывает API запросы
type Handler struct {
	storage     *storage.Storage
	relaySvc    *relay.Service
	directory   *directory.Directory
	authService *auth.Service
	events      *EventHub
	logger      *slog.Logger
}

func New(
	st *storage.Storage,
	relaySvc *relay.Service,
	dir *directory.Directory,
	authService *auth.Service,
	events *EventHub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		storage:     st,
		relaySvc:    relaySvc,
		directory:   dir,
		authService: authService,
		events:      events,
		logger:      logger,
	}
}

// Helper функции для JSON ответов

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func (h *Handler) respondSuccess(w http.ResponseWriter, message string, data any) {
	h.respondJSON(w, http.StatusOK, SuccessResponse{
		Message: message,
		Data:    data,
	})
}

// respondRelayError переводит ошибки ядра в HTTP статусы. Внутренние
// ошибки хранилища наружу не показываем.
func (h *Handler) respondRelayError(w http.ResponseWriter, err error) {
	switch {
	case relay.IsValidation(err):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, relay.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, relay.ErrInvalidState):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, relay.ErrConflict):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("Internal error", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
