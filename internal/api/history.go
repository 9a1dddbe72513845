package api

import (
	"net/http"
	"strconv"
	"time"

	apimw "mt_relay/internal/api/middleware"
	"mt_relay/internal/models"
)

// HandleGetSignals возвращает историю сигналов отправителя с
// пагинацией и фильтрами по символу и датам
func (h *Handler) HandleGetSignals(w http.ResponseWriter, r *http.Request) {
	userID, _ := apimw.GetUserID(r.Context())

	account, ok := h.senderFromQuery(w, r, userID)
	if !ok {
		return
	}

	filter := models.HistoryFilter{
		Symbol: r.URL.Query().Get("symbol"),
	}

	// Парсим параметры пагинации
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}

		filter.Limit = l
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		o, err := strconv.Atoi(offsetStr)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid offset")
			return
		}

		filter.Offset = o
	}

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid from date")
			return
		}

		from = from.UTC()
		filter.From = &from
	}

	if toStr := r.URL.Query().Get("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid to date")
			return
		}

		to = to.UTC()
		filter.To = &to
	}

	signals, err := h.relaySvc.History(r.Context(), account.ID, filter)
	if err != nil {
		h.respondRelayError(w, err)
		return
	}

	h.respondSuccess(w, "", signals)
}

// HandleGetStats возвращает агрегаты по журналу за период
func (h *Handler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	userID, _ := apimw.GetUserID(r.Context())

	account, ok := h.senderFromQuery(w, r, userID)
	if !ok {
		return
	}

	stats, err := h.relaySvc.Stats(r.Context(), account.ID, r.URL.Query().Get("period"))
	if err != nil {
		h.respondRelayError(w, err)
		return
	}

	h.respondSuccess(w, "", stats)
}

// senderFromQuery достает sender аккаунт из query параметра и
// проверяет, что он принадлежит пользователю
func (h *Handler) senderFromQuery(w http.ResponseWriter, r *http.Request, userID int) (*models.Account, bool) {
	accountID, err := strconv.Atoi(r.URL.Query().Get("account_id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "account_id is required")
		return nil, false
	}

	account, getErr := h.storage.GetAccount(userID, accountID)
	if getErr != nil {
		h.respondError(w, http.StatusNotFound, "Account not found")
		return nil, false
	}

	if account.Role != models.RoleSender {
		h.respondError(w, http.StatusBadRequest, "account_id must reference a sender account")
		return nil, false
	}

	return account, true
}
