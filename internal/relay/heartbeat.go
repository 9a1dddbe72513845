package relay

import (
	"context"
	"time"

	"mt_relay/internal/models"
)

// Heartbeat отмечает терминал живым и сохраняет телеметрию счета.
// Перезапись безусловная: последний вызов побеждает, порядок доставки
// по сети не проверяется. Повторная отправка вызывающим безопасна.
func (s *Service) Heartbeat(_ context.Context, accountID int, t models.Telemetry) (time.Time, error) {
	now := s.now()

	if err := s.ledger.UpdateHeartbeat(accountID, t, now); err != nil {
		return time.Time{}, err
	}

	return now, nil
}

// IsLive сообщает, жив ли терминал: с последнего heartbeat прошло не
// больше окна живости
func (s *Service) IsLive(lastHeartbeatAt *time.Time) bool {
	if lastHeartbeatAt == nil {
		return false
	}

	return time.Since(*lastHeartbeatAt) <= s.livenessWindow
}
