package models

import "time"

// Роли торговых терминалов
const (
	RoleSender   = "SENDER"   // Терминал-источник сигналов
	RoleReceiver = "RECEIVER" // Терминал, который опрашивает и исполняет сигналы
)

// Действия сигнала
const (
	ActionOpen   = "OPEN"
	ActionClose  = "CLOSE"
	ActionModify = "MODIFY"
)

// Типы ордеров
const (
	OrderTypeBuy  = "BUY"
	OrderTypeSell = "SELL"
)

// Статусы жизненного цикла сигнала
const (
	StatusPending      = "PENDING"      // Записан, еще не доставлен ни одному получателю
	StatusSent         = "SENT"         // Хотя бы одна доставка выполнена
	StatusAcknowledged = "ACKNOWLEDGED" // Первый отчет об исполнении получен
	StatusExecuted     = "EXECUTED"     // Терминальный: все получатели исполнили
	StatusFailed       = "FAILED"       // Терминальный: хотя бы один получатель провалил
	StatusSkipped      = "SKIPPED"      // Терминальный: все пропустили или пропуск+исполнение
	StatusExpired      = "EXPIRED"      // Терминальный: TTL истек до подтверждения
)

// Состояния записи доставки
const (
	DeliveryQueued    = "QUEUED"
	DeliveryDelivered = "DELIVERED"
)

// IsTerminalStatus сообщает, допускает ли статус дальнейшие переходы
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusExecuted, StatusFailed, StatusSkipped, StatusExpired:
		return true
	}

	return false
}

// Account представляет торговый терминал (sender или receiver)
type Account struct {
	ID                int        `json:"id"`
	UserID            int        `json:"user_id"`
	ExternalAccountID string     `json:"external_account_id"` // Номер счета в терминале
	Role              string     `json:"role"`
	LinkedSenderID    *int       `json:"linked_sender_id,omitempty"` // Для receiver: источник копирования
	Entitled          bool       `json:"entitled"`
	Suspended         bool       `json:"suspended"`
	LastHeartbeatAt   *time.Time `json:"last_heartbeat_at,omitempty"`
	Balance           float64    `json:"balance"`
	Equity            float64    `json:"equity"`
	Profit            float64    `json:"profit"`
	CreatedAt         time.Time  `json:"created_at"`
	Live              bool       `json:"live"` // Computed field
}

// Signal представляет торговый сигнал в журнале
type Signal struct {
	ID              string      `json:"id"`
	SenderAccountID int         `json:"sender_account_id"`
	Action          string      `json:"action"`
	Symbol          string      `json:"symbol"`
	OrderType       string      `json:"order_type,omitempty"`
	Volume          float64     `json:"volume"`
	Price           float64     `json:"price"`
	StopLoss        *float64    `json:"stop_loss,omitempty"`
	TakeProfit      *float64    `json:"take_profit,omitempty"`
	SourceTicket    *int64      `json:"source_ticket,omitempty"` // Тикет ордера в терминале отправителя
	MagicNumber     *int64      `json:"magic_number,omitempty"`
	Comment         string      `json:"comment,omitempty"`
	Status          string      `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	ExpiresAt       time.Time   `json:"expires_at"`
	Executions      []Execution `json:"executions,omitempty"` // Joined field
}

// Delivery представляет запись доставки сигнала конкретному получателю
type Delivery struct {
	ID                int        `json:"id"`
	SignalID          string     `json:"signal_id"`
	ReceiverAccountID int        `json:"receiver_account_id"`
	State             string     `json:"state"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
}

// Execution представляет отчет получателя об исполнении сигнала
type Execution struct {
	ID                int       `json:"id"`
	SignalID          string    `json:"signal_id"`
	ReceiverAccountID int       `json:"receiver_account_id"`
	Status            string    `json:"status"` // EXECUTED, FAILED или SKIPPED
	ExecutedVolume    *float64  `json:"executed_volume,omitempty"`
	ExecutedPrice     *float64  `json:"executed_price,omitempty"`
	Slippage          *float64  `json:"slippage,omitempty"`
	BrokerTicket      string    `json:"broker_ticket,omitempty"`
	ErrorCode         *int      `json:"error_code,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	ExecutedAt        time.Time `json:"executed_at"`
}

// AggregateOutcome вычисляет терминальный статус сигнала по всем отчетам.
// FAILED доминирует над SKIPPED, SKIPPED над EXECUTED: ошибка важнее
// добровольного пропуска. Чистая функция, пересчитывается при каждом ack.
func AggregateOutcome(executions []Execution) string {
	outcome := StatusExecuted
	for _, e := range executions {
		switch e.Status {
		case StatusFailed:
			return StatusFailed
		case StatusSkipped:
			outcome = StatusSkipped
		}
	}

	return outcome
}

// SignalView - то, что получатель видит при опросе почтового ящика
type SignalView struct {
	SignalID     string   `json:"signal_id"`
	Action       string   `json:"action"`
	Symbol       string   `json:"symbol"`
	OrderType    string   `json:"order_type,omitempty"`
	Volume       float64  `json:"volume"`
	Price        float64  `json:"price"`
	StopLoss     *float64 `json:"stop_loss,omitempty"`
	TakeProfit   *float64 `json:"take_profit,omitempty"`
	SourceTicket *int64   `json:"source_ticket,omitempty"`
	MagicNumber  *int64   `json:"magic_number,omitempty"`
	Comment      string   `json:"comment,omitempty"`
}

// Telemetry - снимок состояния счета, приходит вместе с heartbeat
type Telemetry struct {
	Balance *float64 `json:"balance,omitempty"`
	Equity  *float64 `json:"equity,omitempty"`
	Profit  *float64 `json:"profit,omitempty"`
}

// SignalStats - агрегаты по журналу сигналов за период
type SignalStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	BySymbol map[string]int `json:"by_symbol"`
	ByAction map[string]int `json:"by_action"`
}
