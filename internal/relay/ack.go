package relay

import (
	"context"
	"errors"
	"fmt"

	"mt_relay/internal/models"

	"github.com/go-playground/validator/v10"
)

// AckRequest - отчет получателя об исполнении сигнала
type AckRequest struct {
	SignalID       string   `json:"signal_id" validate:"required,uuid"`
	Status         string   `json:"status" validate:"required,oneof=EXECUTED FAILED SKIPPED"`
	ExecutedVolume *float64 `json:"executed_volume,omitempty"`
	ExecutedPrice  *float64 `json:"executed_price,omitempty"`
	Slippage       *float64 `json:"slippage,omitempty"`
	BrokerTicket   string   `json:"broker_ticket,omitempty"`
	ErrorCode      *int     `json:"error_code,omitempty"`
	ErrorMessage   string   `json:"error_message,omitempty"`
}

// Acknowledge сверяет отчет об исполнении с сигналом. Повторный ack
// той же пары (сигнал, получатель) безопасен: возвращается первый
// записанный отчет, без перезаписи и без ошибки.
func (s *Service) Acknowledge(ctx context.Context, receiverAccountID int, req AckRequest) (*models.Execution, string, error) {
	if err := s.validateAck(req); err != nil {
		return nil, "", err
	}

	exec := &models.Execution{
		SignalID:          req.SignalID,
		ReceiverAccountID: receiverAccountID,
		Status:            req.Status,
		ExecutedVolume:    req.ExecutedVolume,
		ExecutedPrice:     req.ExecutedPrice,
		Slippage:          req.Slippage,
		BrokerTicket:      req.BrokerTicket,
		ErrorCode:         req.ErrorCode,
		ErrorMessage:      req.ErrorMessage,
	}

	recorded, signalStatus, err := s.ledger.RecordExecution(ctx, exec, s.now())
	if err != nil {
		return nil, "", err
	}

	s.publish("signal.acknowledged", map[string]any{
		"signal_id":           recorded.SignalID,
		"receiver_account_id": recorded.ReceiverAccountID,
		"execution_status":    recorded.Status,
		"signal_status":       signalStatus,
	})

	if s.notifier != nil && recorded.Status == models.StatusFailed {
		s.notifier.ExecutionFailed(*recorded, signalStatus)
	}

	return recorded, signalStatus, nil
}

func (s *Service) validateAck(req AckRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return NewValidationError(e.Field(), fmt.Sprintf("failed on '%s' rule", e.Tag()))
		}

		return NewValidationError("", err.Error())
	}

	if req.ExecutedVolume != nil && *req.ExecutedVolume < 0 {
		return NewValidationError("executed_volume", "must not be negative")
	}

	return nil
}
