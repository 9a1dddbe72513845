package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	apimw "mt_relay/internal/api/middleware"
	"mt_relay/internal/models"

	"github.com/gorilla/mux"
)

type RegisterAccountRequest struct {
	ExternalAccountID string `json:"external_account_id"`
	Role              string `json:"role"`
	LinkedSenderID    *int   `json:"linked_sender_id,omitempty"`
}

type RegisterAccountResponse struct {
	Account *models.Account `json:"account"`
	APIKey  string          `json:"api_key"` // Показывается один раз
}

type LinkReceiverRequest struct {
	SenderID int `json:"sender_id"`
}

type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// HandleRegisterAccount регистрирует терминал и выдает ему API ключ
func (h *Handler) HandleRegisterAccount(w http.ResponseWriter, r *http.Request) {
	userID, _ := apimw.GetUserID(r.Context())

	var req RegisterAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Валидация
	if req.ExternalAccountID == "" {
		h.respondError(w, http.StatusBadRequest, "external_account_id is required")
		return
	}

	if req.Role != models.RoleSender && req.Role != models.RoleReceiver {
		h.respondError(w, http.StatusBadRequest, "role must be SENDER or RECEIVER")
		return
	}

	if req.Role == models.RoleSender && req.LinkedSenderID != nil {
		h.respondError(w, http.StatusBadRequest, "sender cannot link to another sender")
		return
	}

	// Привязка должна указывать на sender этого же пользователя
	if req.LinkedSenderID != nil {
		sender, err := h.storage.GetAccount(userID, *req.LinkedSenderID)
		if err != nil || sender.Role != models.RoleSender {
			h.respondError(w, http.StatusBadRequest, "linked_sender_id must reference your sender account")
			return
		}
	}

	apiKey, err := h.authService.GenerateAPIKey()
	if err != nil {
		h.logger.Error("Failed to generate api key", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	account, err := h.storage.CreateAccount(userID, req.ExternalAccountID, req.Role, req.LinkedSenderID, apiKey)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			h.respondError(w, http.StatusConflict, "Account already registered")
			return
		}

		h.logger.Error("Failed to create account", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Failed to create account")

		return
	}

	h.respondSuccess(w, "Account registered", RegisterAccountResponse{
		Account: account,
		APIKey:  apiKey,
	})
}

// HandleGetAccounts возвращает все терминалы пользователя
func (h *Handler) HandleGetAccounts(w http.ResponseWriter, r *http.Request) {
	userID, _ := apimw.GetUserID(r.Context())

	accounts, err := h.storage.GetAccounts(userID)
	if err != nil {
		h.logger.Error("Failed to get accounts", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Failed to get accounts")

		return
	}

	// Отмечаем живость по последнему heartbeat
	for i := range accounts {
		accounts[i].Live = h.directory.IsLive(&accounts[i])
	}

	h.respondSuccess(w, "", accounts)
}

// HandleDeleteAccount удаляет терминал
func (h *Handler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, _ := apimw.GetUserID(r.Context())
	accountID, _ := strconv.Atoi(mux.Vars(r)["id"])

	if err := h.storage.DeleteAccount(userID, accountID); err != nil {
		h.respondRelayError(w, err)
		return
	}

	h.respondSuccess(w, "Account deleted", nil)
}

// HandleLinkReceiver привязывает receiver к sender
func (h *Handler) HandleLinkReceiver(w http.ResponseWriter, r *http.Request) {
	userID, _ := apimw.GetUserID(r.Context())
	accountID, _ := strconv.Atoi(mux.Vars(r)["id"])

	var req LinkReceiverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.storage.LinkReceiver(userID, accountID, req.SenderID); err != nil {
		h.respondRelayError(w, err)
		return
	}

	h.respondSuccess(w, "Receiver linked", nil)
}

// HandleSetEntitlement включает или выключает допуск к опросу
func (h *Handler) HandleSetEntitlement(w http.ResponseWriter, r *http.Request) {
	userID, _ := apimw.GetUserID(r.Context())
	accountID, _ := strconv.Atoi(mux.Vars(r)["id"])

	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.storage.SetEntitled(userID, accountID, req.Enabled); err != nil {
		h.respondRelayError(w, err)
		return
	}

	h.respondSuccess(w, "Entitlement updated", nil)
}

// HandleSetSuspended блокирует или разблокирует терминал
func (h *Handler) HandleSetSuspended(w http.ResponseWriter, r *http.Request) {
	userID, _ := apimw.GetUserID(r.Context())
	accountID, _ := strconv.Atoi(mux.Vars(r)["id"])

	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.storage.SetSuspended(userID, accountID, req.Enabled); err != nil {
		h.respondRelayError(w, err)
		return
	}

	h.respondSuccess(w, "Suspension updated", nil)
}
