package relay

import (
	"context"
	"log/slog"

	"mt_relay/internal/models"
)

// Poll отдает получателю накопившиеся сигналы, старые первыми. Каждая
// запись доставки выдается ровно один раз: потерянный по сети ответ не
// переотправляется, получатель отвечает за собственную локальную
// сохранность.
func (s *Service) Poll(ctx context.Context, receiverAccountID int) ([]models.SignalView, error) {
	views, err := s.ledger.PollPending(ctx, receiverAccountID, s.now())
	if err != nil {
		return nil, err
	}

	if len(views) > 0 {
		s.logger.Info("📬 Mailbox served",
			slog.Int("receiver_id", receiverAccountID),
			slog.Int("signals", len(views)))

		s.publish("signals.delivered", map[string]any{
			"receiver_account_id": receiverAccountID,
			"count":               len(views),
		})
	}

	return views, nil
}
