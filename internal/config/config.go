package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config содержит конфигурацию релея
type Config struct {
	Address   string // Address для HTTP сервера (e.g., 0.0.0.0:8080)
	DBPath    string
	JWTSecret string
	LogFile   string

	SignalTTL      time.Duration // Сколько сигнал ждет подтверждения до EXPIRED
	LivenessWindow time.Duration // Максимальный разрыв между heartbeat'ами живого терминала

	// Оповещения оператора (опционально)
	TelegramToken  string
	TelegramChatID int64
}

// Load загружает конфигурацию из переменных окружения
func Load(logger *slog.Logger) *Config {
	address := os.Getenv("ADDRESS")
	if address == "" {
		address = "0.0.0.0:8080"
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./relay.db"
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "default-secret-change-me-in-production" // В продакшене использовать настоящий секрет!

		logger.Warn("⚠️  JWT_SECRET not set, using default (insecure!)")
	}

	signalTTL := parseDuration(logger, "SIGNAL_TTL", 5*time.Minute)
	livenessWindow := parseDuration(logger, "LIVENESS_WINDOW", 90*time.Second)

	telegramToken := os.Getenv("TELEGRAM_BOT_TOKEN")

	var telegramChatID int64
	if chatIDStr := os.Getenv("TELEGRAM_CHAT_ID"); chatIDStr != "" {
		id, err := strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			logger.Warn("⚠️  Invalid TELEGRAM_CHAT_ID, notifications disabled")
			telegramToken = ""
		} else {
			telegramChatID = id
		}
	} else if telegramToken != "" {
		logger.Warn("⚠️  TELEGRAM_CHAT_ID not set, notifications disabled")
		telegramToken = ""
	}

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "relay.log"
	}

	return &Config{
		Address:        address,
		DBPath:         dbPath,
		JWTSecret:      jwtSecret,
		LogFile:        logFile,
		SignalTTL:      signalTTL,
		LivenessWindow: livenessWindow,
		TelegramToken:  telegramToken,
		TelegramChatID: telegramChatID,
	}
}

func parseDuration(logger *slog.Logger, name string, def time.Duration) time.Duration {
	value := os.Getenv(name)
	if value == "" {
		return def
	}

	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		logger.Warn("⚠️  Invalid duration, using default",
			slog.String("var", name),
			slog.String("value", value),
			slog.Duration("default", def))

		return def
	}

	return d
}
