package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	apimw "mt_relay/internal/api/middleware"
	"mt_relay/internal/models"
	"mt_relay/internal/relay"
)

type SubmitSignalResponse struct {
	SignalID string `json:"signal_id"`
	Status   string `json:"status"`
}

type HeartbeatResponse struct {
	AccountID  int       `json:"account_id"`
	ReceivedAt time.Time `json:"received_at"`
}

type AckResponse struct {
	Execution    *models.Execution `json:"execution"`
	SignalStatus string            `json:"signal_status"`
}

// HandleSubmitSignal принимает сигнал от отправителя и раскладывает
// его по ящикам привязанных получателей
func (h *Handler) HandleSubmitSignal(w http.ResponseWriter, r *http.Request) {
	acc, _ := apimw.GetAccount(r.Context())

	var req relay.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	signal, err := h.relaySvc.Submit(r.Context(), acc.ID, req)
	if err != nil {
		h.respondRelayError(w, err)
		return
	}

	h.respondSuccess(w, "Signal accepted", SubmitSignalResponse{
		SignalID: signal.ID,
		Status:   signal.Status,
	})
}

// HandlePoll отдает получателю накопившиеся сигналы. Получатели без
// активного допуска получают отказ до обращения к ядру.
func (h *Handler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	acc, _ := apimw.GetAccount(r.Context())

	if !h.directory.IsEntitled(acc) {
		h.respondError(w, http.StatusForbidden, "Subscription inactive")
		return
	}

	views, err := h.relaySvc.Poll(r.Context(), acc.ID)
	if err != nil {
		h.respondRelayError(w, err)
		return
	}

	h.respondSuccess(w, "", views)
}

// HandleAck принимает отчет получателя об исполнении сигнала
func (h *Handler) HandleAck(w http.ResponseWriter, r *http.Request) {
	acc, _ := apimw.GetAccount(r.Context())

	var req relay.AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	exec, signalStatus, err := h.relaySvc.Acknowledge(r.Context(), acc.ID, req)
	if err != nil {
		h.respondRelayError(w, err)
		return
	}

	h.respondSuccess(w, "Acknowledged", AckResponse{
		Execution:    exec,
		SignalStatus: signalStatus,
	})
}

// HandleHeartbeat отмечает терминал живым и сохраняет телеметрию
func (h *Handler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	acc, _ := apimw.GetAccount(r.Context())

	var t models.Telemetry
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	receivedAt, err := h.relaySvc.Heartbeat(r.Context(), acc.ID, t)
	if err != nil {
		h.respondRelayError(w, err)
		return
	}

	h.respondSuccess(w, "", HeartbeatResponse{
		AccountID:  acc.ID,
		ReceivedAt: receivedAt,
	})
}
