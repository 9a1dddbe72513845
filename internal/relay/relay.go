package relay

import (
	"context"
	"log/slog"
	"time"

	"mt_relay/internal/models"

	"github.com/go-playground/validator/v10"
)

// Ledger - журнал сигналов и почтовые ящики. Реализация обязана
// выполнять каждую операцию как одну атомарную единицу.
type Ledger interface {
	CreateSignalWithFanout(ctx context.Context, signal *models.Signal) (int, error)
	PollPending(ctx context.Context, receiverAccountID int, now time.Time) ([]models.SignalView, error)
	RecordExecution(ctx context.Context, exec *models.Execution, now time.Time) (*models.Execution, string, error)
	UpdateHeartbeat(accountID int, t models.Telemetry, now time.Time) error
	GetSignals(senderAccountID int, f models.HistoryFilter) ([]models.Signal, error)
	SummarizeSignals(senderAccountID int, since *time.Time, now time.Time) (*models.SignalStats, error)
}

// EventSink получает события жизненного цикла сигналов (лента дашборда)
type EventSink interface {
	Publish(event string, payload any)
}

// Notifier шлет оповещения оператору о проблемных исполнениях
type Notifier interface {
	ExecutionFailed(exec models.Execution, signalStatus string)
}

// Service - ядро релея: прием сигналов, выдача почтовых ящиков,
// сверка отчетов об исполнении, heartbeat и статистика
type Service struct {
	ledger         Ledger
	logger         *slog.Logger
	validate       *validator.Validate
	signalTTL      time.Duration
	livenessWindow time.Duration
	events         EventSink
	notifier       Notifier
}

// New создает сервис релея
func New(ledger Ledger, logger *slog.Logger, signalTTL, livenessWindow time.Duration) *Service {
	return &Service{
		ledger:         ledger,
		logger:         logger,
		validate:       validator.New(),
		signalTTL:      signalTTL,
		livenessWindow: livenessWindow,
	}
}

// SetEventSink подключает ленту событий дашборда
func (s *Service) SetEventSink(events EventSink) {
	s.events = events
}

// SetNotifier подключает оповещения оператора
func (s *Service) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

func (s *Service) publish(event string, payload any) {
	if s.events != nil {
		s.events.Publish(event, payload)
	}
}

// Временные метки храним по секундам в UTC: стабильный формат в БД и
// корректное сравнение в SQL
func (s *Service) now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
