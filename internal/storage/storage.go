package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mt_relay/internal/models"
	"mt_relay/internal/relay"

	_ "modernc.org/sqlite"
)

// Storage управляет базой данных релея
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

// New создает новый экземпляр Storage
func New(dbPath string, logger *slog.Logger) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite допускает только одного писателя, держим одно соединение
	db.SetMaxOpenConns(1)

	storage := &Storage{
		db:     db,
		logger: logger,
	}

	if err := storage.init(); err != nil {
		return nil, err
	}

	return storage, nil
}

// init инициализирует таблицы БД
func (s *Storage) init() error {
	migrationSQL := `
-- Relay Database Schema

-- Пользователи дашборда
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Торговые терминалы (sender и receiver)
CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    external_account_id TEXT NOT NULL,
    role TEXT NOT NULL,
    linked_sender_id INTEGER,
    api_key TEXT UNIQUE NOT NULL,
    entitled INTEGER DEFAULT 1,
    suspended INTEGER DEFAULT 0,
    last_heartbeat_at DATETIME,
    balance REAL DEFAULT 0,
    equity REAL DEFAULT 0,
    profit REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(user_id, external_account_id),
    FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY(linked_sender_id) REFERENCES accounts(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);
CREATE INDEX IF NOT EXISTS idx_accounts_link ON accounts(linked_sender_id);

-- Журнал сигналов
CREATE TABLE IF NOT EXISTS signals (
    id TEXT PRIMARY KEY,
    sender_account_id INTEGER NOT NULL,
    action TEXT NOT NULL,
    symbol TEXT NOT NULL DEFAULT '',
    order_type TEXT,
    volume REAL NOT NULL DEFAULT 0,
    price REAL NOT NULL DEFAULT 0,
    stop_loss REAL,
    take_profit REAL,
    source_ticket INTEGER,
    magic_number INTEGER,
    comment TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    expires_at DATETIME NOT NULL,
    FOREIGN KEY(sender_account_id) REFERENCES accounts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_signals_sender ON signals(sender_account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status);

-- Почтовые ящики: одна запись доставки на пару (сигнал, получатель)
CREATE TABLE IF NOT EXISTS deliveries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    signal_id TEXT NOT NULL,
    receiver_account_id INTEGER NOT NULL,
    state TEXT NOT NULL DEFAULT 'QUEUED',
    delivered_at DATETIME,
    UNIQUE(signal_id, receiver_account_id),
    FOREIGN KEY(signal_id) REFERENCES signals(id) ON DELETE CASCADE,
    FOREIGN KEY(receiver_account_id) REFERENCES accounts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_deliveries_receiver ON deliveries(receiver_account_id, state);

-- Отчеты об исполнении: не больше одного на пару (сигнал, получатель)
CREATE TABLE IF NOT EXISTS executions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    signal_id TEXT NOT NULL,
    receiver_account_id INTEGER NOT NULL,
    status TEXT NOT NULL,
    executed_volume REAL,
    executed_price REAL,
    slippage REAL,
    broker_ticket TEXT,
    error_code INTEGER,
    error_message TEXT,
    executed_at DATETIME NOT NULL,
    UNIQUE(signal_id, receiver_account_id),
    FOREIGN KEY(signal_id) REFERENCES signals(id) ON DELETE CASCADE,
    FOREIGN KEY(receiver_account_id) REFERENCES accounts(id) ON DELETE CASCADE
);
`

	_, err := s.db.Exec(migrationSQL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	s.logger.Info("✅ Relay database initialized")

	return nil
}

// === User Management ===

// CreateUser создает нового пользователя дашборда
func (s *Storage) CreateUser(username, passwordHash string) (*models.User, error) {
	result, err := s.db.Exec(`
		INSERT INTO users (username, password_hash)
		VALUES (?, ?)
	`, username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, _ := result.LastInsertId()

	return &models.User{
		ID:           int(id),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}, nil
}

// GetUserByUsername получает пользователя по имени
func (s *Storage) GetUserByUsername(username string) (*models.User, error) {
	var user models.User

	err := s.db.QueryRow(`
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// === Account Management ===

const accountColumns = `id, user_id, external_account_id, role, linked_sender_id, api_key,
       coalesce(entitled, 1), coalesce(suspended, 0), last_heartbeat_at,
       coalesce(balance, 0), coalesce(equity, 0), coalesce(profit, 0), created_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, string, error) {
	var acc models.Account
	var apiKey string
	var entitledInt, suspendedInt int

	err := row.Scan(&acc.ID, &acc.UserID, &acc.ExternalAccountID, &acc.Role,
		&acc.LinkedSenderID, &apiKey, &entitledInt, &suspendedInt,
		&acc.LastHeartbeatAt, &acc.Balance, &acc.Equity, &acc.Profit, &acc.CreatedAt)
	if err != nil {
		return nil, "", err
	}

	acc.Entitled = entitledInt == 1
	acc.Suspended = suspendedInt == 1

	return &acc, apiKey, nil
}

// CreateAccount регистрирует терминал и возвращает его
func (s *Storage) CreateAccount(userID int, externalAccountID, role string, linkedSenderID *int, apiKey string) (*models.Account, error) {
	result, err := s.db.Exec(`
		INSERT INTO accounts (user_id, external_account_id, role, linked_sender_id, api_key)
		VALUES (?, ?, ?, ?, ?)
	`, userID, externalAccountID, role, linkedSenderID, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	id, _ := result.LastInsertId()

	s.logger.Info("✅ Account registered",
		slog.Int("account_id", int(id)),
		slog.String("role", role),
		slog.String("external_id", externalAccountID))

	return &models.Account{
		ID:                int(id),
		UserID:            userID,
		ExternalAccountID: externalAccountID,
		Role:              role,
		LinkedSenderID:    linkedSenderID,
		Entitled:          true,
		CreatedAt:         time.Now(),
	}, nil
}

// GetAccounts возвращает все терминалы пользователя
func (s *Storage) GetAccounts(userID int) ([]models.Account, error) {
	rows, err := s.db.Query(`
		SELECT `+accountColumns+`
		FROM accounts
		WHERE user_id = ?
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		acc, _, err := scanAccount(rows)
		if err != nil {
			continue
		}

		accounts = append(accounts, *acc)
	}

	return accounts, nil
}

// GetAccount возвращает терминал пользователя по ID
func (s *Storage) GetAccount(userID, accountID int) (*models.Account, error) {
	acc, _, err := scanAccount(s.db.QueryRow(`
		SELECT `+accountColumns+`
		FROM accounts
		WHERE user_id = ? AND id = ?
	`, userID, accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, relay.ErrNotFound
		}

		return nil, err
	}

	return acc, nil
}

// GetAccountByAPIKey находит терминал по его API ключу
func (s *Storage) GetAccountByAPIKey(apiKey string) (*models.Account, error) {
	acc, _, err := scanAccount(s.db.QueryRow(`
		SELECT `+accountColumns+`
		FROM accounts
		WHERE api_key = ?
	`, apiKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, relay.ErrNotFound
		}

		return nil, err
	}

	return acc, nil
}

// DeleteAccount удаляет терминал
func (s *Storage) DeleteAccount(userID, accountID int) error {
	result, err := s.db.Exec("DELETE FROM accounts WHERE user_id = ? AND id = ?", userID, accountID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return relay.ErrNotFound
	}

	s.logger.Info("✅ Account deleted",
		slog.Int("account_id", accountID),
		slog.Int("user_id", userID))

	return nil
}

// LinkReceiver привязывает receiver к sender. Receiver копирует ровно
// один источник, повторная привязка заменяет предыдущую.
func (s *Storage) LinkReceiver(userID, receiverID, senderID int) error {
	var role string
	err := s.db.QueryRow(`
		SELECT role FROM accounts WHERE user_id = ? AND id = ?
	`, userID, senderID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return relay.ErrNotFound
		}

		return err
	}

	if role != models.RoleSender {
		return fmt.Errorf("%w: account %d is not a sender", relay.ErrInvalidState, senderID)
	}

	result, err := s.db.Exec(`
		UPDATE accounts SET linked_sender_id = ?
		WHERE user_id = ? AND id = ? AND role = ?
	`, senderID, userID, receiverID, models.RoleReceiver)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return relay.ErrNotFound
	}

	s.logger.Info("✅ Receiver linked",
		slog.Int("receiver_id", receiverID),
		slog.Int("sender_id", senderID))

	return nil
}

// SetEntitled включает или выключает допуск receiver'а к опросу
func (s *Storage) SetEntitled(userID, accountID int, entitled bool) error {
	entitledInt := 0
	if entitled {
		entitledInt = 1
	}

	result, err := s.db.Exec("UPDATE accounts SET entitled = ? WHERE user_id = ? AND id = ?", entitledInt, userID, accountID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return relay.ErrNotFound
	}

	return nil
}

// SetSuspended блокирует или разблокирует терминал
func (s *Storage) SetSuspended(userID, accountID int, suspended bool) error {
	suspendedInt := 0
	if suspended {
		suspendedInt = 1
	}

	result, err := s.db.Exec("UPDATE accounts SET suspended = ? WHERE user_id = ? AND id = ?", suspendedInt, userID, accountID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return relay.ErrNotFound
	}

	return nil
}

// UpdateHeartbeat перезаписывает отметку heartbeat и телеметрию счета.
// Последняя запись побеждает, порядок прихода по сети не проверяется.
func (s *Storage) UpdateHeartbeat(accountID int, t models.Telemetry, now time.Time) error {
	result, err := s.db.Exec(`
		UPDATE accounts
		SET last_heartbeat_at = ?,
		    balance = coalesce(?, balance),
		    equity = coalesce(?, equity),
		    profit = coalesce(?, profit)
		WHERE id = ?
	`, now, t.Balance, t.Equity, t.Profit, accountID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return relay.ErrNotFound
	}

	return nil
}

// Close закрывает соединение с БД
func (s *Storage) Close() error {
	return s.db.Close()
}
