package relay

import (
	"context"
	"time"

	"mt_relay/internal/models"
)

// Периоды статистики
const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodAll   = "all"
)

// Stats возвращает агрегаты по журналу отправителя за период:
// количество по статусам, символам и действиям
func (s *Service) Stats(_ context.Context, senderAccountID int, period string) (*models.SignalStats, error) {
	now := s.now()

	var since *time.Time
	switch period {
	case PeriodDay:
		t := now.AddDate(0, 0, -1)
		since = &t
	case PeriodWeek:
		t := now.AddDate(0, 0, -7)
		since = &t
	case PeriodMonth:
		t := now.AddDate(0, -1, 0)
		since = &t
	case PeriodAll, "":
	default:
		return nil, NewValidationError("period", "must be day, week, month or all")
	}

	return s.ledger.SummarizeSignals(senderAccountID, since, now)
}

// History возвращает страницу истории сигналов отправителя
func (s *Service) History(_ context.Context, senderAccountID int, f models.HistoryFilter) ([]models.Signal, error) {
	if f.Limit < 0 {
		return nil, NewValidationError("limit", "must not be negative")
	}

	if f.Offset < 0 {
		return nil, NewValidationError("offset", "must not be negative")
	}

	if f.Limit == 0 || f.Limit > 100 {
		f.Limit = 50
	}

	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, NewValidationError("to", "end before start")
	}

	return s.ledger.GetSignals(senderAccountID, f)
}
