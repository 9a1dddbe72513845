package directory

import (
	"errors"
	"log/slog"
	"time"

	"mt_relay/internal/models"
	"mt_relay/internal/storage"
)

var (
	ErrUnknownCredential = errors.New("unknown credential")
	ErrSuspended         = errors.New("account suspended")
)

// Directory разрешает API ключ терминала в учетную запись и отвечает
// на вопросы о допуске и живости. Заблокированные терминалы
// отклоняются здесь, до ядра релея они не доходят.
type Directory struct {
	storage        *storage.Storage
	livenessWindow time.Duration
	logger         *slog.Logger
}

// New создает каталог терминалов
func New(st *storage.Storage, livenessWindow time.Duration, logger *slog.Logger) *Directory {
	return &Directory{
		storage:        st,
		livenessWindow: livenessWindow,
		logger:         logger,
	}
}

// Resolve находит терминал по API ключу
func (d *Directory) Resolve(apiKey string) (*models.Account, error) {
	acc, err := d.storage.GetAccountByAPIKey(apiKey)
	if err != nil {
		return nil, ErrUnknownCredential
	}

	if acc.Suspended {
		d.logger.Warn("⚠️  Suspended account rejected", slog.Int("account_id", acc.ID))
		return nil, ErrSuspended
	}

	acc.Live = d.IsLive(acc)

	return acc, nil
}

// IsEntitled сообщает, допущен ли терминал к опросу почтового ящика
func (d *Directory) IsEntitled(acc *models.Account) bool {
	return acc.Entitled
}

// IsLive сообщает, укладывается ли терминал в окно живости
func (d *Directory) IsLive(acc *models.Account) bool {
	if acc.LastHeartbeatAt == nil {
		return false
	}

	return time.Since(*acc.LastHeartbeatAt) <= d.livenessWindow
}
