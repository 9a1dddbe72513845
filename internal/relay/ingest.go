package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mt_relay/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// SubmitRequest - черновик сигнала от отправителя
type SubmitRequest struct {
	Action       string   `json:"action" validate:"required,oneof=OPEN CLOSE MODIFY"`
	Symbol       string   `json:"symbol" validate:"omitempty,max=32"`
	OrderType    string   `json:"order_type" validate:"omitempty,oneof=BUY SELL"`
	Volume       float64  `json:"volume" validate:"omitempty,gt=0"`
	Price        float64  `json:"price" validate:"omitempty,gte=0"`
	StopLoss     *float64 `json:"stop_loss,omitempty"`
	TakeProfit   *float64 `json:"take_profit,omitempty"`
	SourceTicket *int64   `json:"source_ticket,omitempty"`
	MagicNumber  *int64   `json:"magic_number,omitempty"`
	Comment      string   `json:"comment" validate:"max=256"`
}

// Submit валидирует черновик, записывает сигнал и раскладывает его по
// ящикам всех привязанных получателей. Без получателей сигнал все равно
// записывается (история и статистика остаются полными), но из PENDING
// не выйдет.
func (s *Service) Submit(ctx context.Context, senderAccountID int, req SubmitRequest) (*models.Signal, error) {
	if err := s.validateSubmit(req); err != nil {
		return nil, err
	}

	now := s.now()

	signal := &models.Signal{
		ID:              uuid.New().String(),
		SenderAccountID: senderAccountID,
		Action:          req.Action,
		Symbol:          req.Symbol,
		OrderType:       req.OrderType,
		Volume:          req.Volume,
		Price:           req.Price,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		SourceTicket:    req.SourceTicket,
		MagicNumber:     req.MagicNumber,
		Comment:         req.Comment,
		Status:          models.StatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.signalTTL),
	}

	receivers, err := s.ledger.CreateSignalWithFanout(ctx, signal)
	if err != nil {
		return nil, err
	}

	if receivers == 0 {
		s.logger.Warn("⚠️  Signal has no linked receivers",
			slog.String("signal_id", signal.ID),
			slog.Int("sender_id", senderAccountID))
	}

	s.publish("signal.submitted", signal)

	return signal, nil
}

func (s *Service) validateSubmit(req SubmitRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return NewValidationError(e.Field(), fmt.Sprintf("failed on '%s' rule", e.Tag()))
		}

		return NewValidationError("", err.Error())
	}

	switch req.Action {
	case models.ActionOpen:
		if req.OrderType == "" {
			return NewValidationError("order_type", "required for OPEN")
		}

		if req.Symbol == "" {
			return NewValidationError("symbol", "required for OPEN")
		}

		if req.Volume <= 0 {
			return NewValidationError("volume", "must be positive for OPEN")
		}
	case models.ActionClose, models.ActionModify:
		// Без тикета получателю не с чем соотнести локальный ордер
		if req.SourceTicket == nil {
			return NewValidationError("source_ticket", "required for "+req.Action)
		}
	}

	return nil
}
