package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mt_relay/internal/api"
	"mt_relay/internal/api/auth"
	"mt_relay/internal/config"
	"mt_relay/internal/directory"
	"mt_relay/internal/notify"
	"mt_relay/internal/relay"
	"mt_relay/internal/storage"

	"github.com/lmittmann/tint"
)

func main() {
	// Pretty handler для stdout с цветами
	prettyHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen, // "3:04PM"
		AddSource:  false,
		NoColor:    false,
	})

	bootstrapLogger := slog.New(prettyHandler)

	// Загрузка конфигурации из env
	cfg := config.Load(bootstrapLogger)

	// Конфигурация slog для вывода в файл и stdout
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()

	// Обычный текстовый handler для файла
	fileHandler := slog.NewTextHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	// Мультиплексируем логи в оба handler'а
	logger := slog.New(&multiHandler{
		handlers: []slog.Handler{prettyHandler, fileHandler},
	})

	logger.Info("=== Signal Relay Server ===")

	// Инициализация БД
	st, err := storage.New(cfg.DBPath, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	// Инициализация auth сервиса
	authService := auth.NewService(cfg.JWTSecret, 24*time.Hour) // Токен действителен 24 часа

	// Каталог терминалов
	dir := directory.New(st, cfg.LivenessWindow, logger)

	// Ядро релея
	relayService := relay.New(st, logger, cfg.SignalTTL, cfg.LivenessWindow)

	// Лента событий дашборда
	events := api.NewEventHub(logger)
	relayService.SetEventSink(events)

	// Оповещения оператора (если настроен бот)
	if cfg.TelegramToken != "" {
		notifier, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Error("Failed to start notifier", slog.Any("error", err))
		} else {
			relayService.SetNotifier(notifier)
		}
	}

	// Инициализация API handler
	apiHandler := api.New(st, relayService, dir, authService, events, logger)

	// Настройка роутинга
	router := apiHandler.SetupRouter()

	// HTTP сервер
	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("🚀 Relay server starting...", slog.String("address", cfg.Address))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed to start", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	logger.Info("✅ Server stopped")
}

// multiHandler отправляет логи в несколько handlers одновременно
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range m.handlers {
		if err := h.Handle(ctx, record); err != nil {
			return err
		}
	}

	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}

	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}

	return &multiHandler{handlers: handlers}
}
