package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event - запись в ленте событий дашборда
type Event struct {
	Event   string    `json:"event"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// EventHub раздает события жизненного цикла сигналов подключенным
// сессиям дашборда. Это наблюдаемость для оператора: доставка
// сигналов получателям идет только через опрос.
type EventHub struct {
	mu       sync.RWMutex
	conns    map[*websocket.Conn]bool
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewEventHub создает ленту событий
func NewEventHub(logger *slog.Logger) *EventHub {
	return &EventHub{
		conns:  make(map[*websocket.Conn]bool),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Publish рассылает событие всем подключенным сессиям. Мертвые
// соединения удаляются по ошибке записи.
func (hub *EventHub) Publish(event string, payload any) {
	msg := Event{
		Event:   event,
		At:      time.Now().UTC(),
		Payload: payload,
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()

	for conn := range hub.conns {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			delete(hub.conns, conn)
		}
	}
}

func (hub *EventHub) add(conn *websocket.Conn) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	hub.conns[conn] = true
}

func (hub *EventHub) remove(conn *websocket.Conn) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, ok := hub.conns[conn]; ok {
		conn.Close()
		delete(hub.conns, conn)
	}
}

// HandleEvents апгрейдит соединение и подписывает сессию на ленту.
// Браузерный WebSocket не умеет заголовки, поэтому токен в query.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.respondError(w, http.StatusUnauthorized, "Missing token")
		return
	}

	if _, err := h.authService.ValidateToken(token); err != nil {
		h.respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	conn, err := h.events.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", "error", err)
		return
	}

	h.events.add(conn)
	h.logger.Info("🔌 Dashboard session connected")

	// Читаем до закрытия, входящие сообщения не обрабатываются
	go func() {
		defer h.events.remove(conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
