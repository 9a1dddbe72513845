package models

import "time"

// User представляет пользователя веб-дашборда
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// HistoryFilter - параметры выборки истории сигналов
type HistoryFilter struct {
	Symbol string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}
