package api

import (
	"net/http"

	apimw "mt_relay/internal/api/middleware"
	"mt_relay/internal/middleware"
	"mt_relay/internal/models"

	"github.com/gorilla/mux"
)

// SetupRouter настраивает роутинг для API
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	// Применяем CORS middleware ко всем маршрутам
	r.Use(middleware.CORS)

	// Публичные маршруты (не требуют аутентификации)
	r.HandleFunc("/api/auth/login", h.HandleLogin).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/auth/register", h.HandleRegister).Methods("POST", "OPTIONS")
	r.HandleFunc("/health", h.HandleHealth).Methods("GET")

	// Маршруты терминалов (аутентификация по API ключу)
	terminal := r.PathPrefix("/api/terminal").Subrouter()
	terminal.Use(apimw.TerminalAuth(h.directory))

	terminal.Handle("/signals",
		apimw.RequireRole(models.RoleSender)(http.HandlerFunc(h.HandleSubmitSignal))).Methods("POST")
	terminal.Handle("/poll",
		apimw.RequireRole(models.RoleReceiver)(http.HandlerFunc(h.HandlePoll))).Methods("GET")
	terminal.Handle("/ack",
		apimw.RequireRole(models.RoleReceiver)(http.HandlerFunc(h.HandleAck))).Methods("POST")
	terminal.HandleFunc("/heartbeat", h.HandleHeartbeat).Methods("POST")

	// Лента событий дашборда (токен в query параметре)
	r.HandleFunc("/api/ws", h.HandleEvents).Methods("GET")

	// Маршруты дашборда (требуют JWT)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(apimw.AuthMiddleware(h.authService))

	// Accounts
	api.HandleFunc("/accounts", h.HandleGetAccounts).Methods("GET")
	api.HandleFunc("/accounts", h.HandleRegisterAccount).Methods("POST")
	api.HandleFunc("/accounts/{id:[0-9]+}", h.HandleDeleteAccount).Methods("DELETE")
	api.HandleFunc("/accounts/{id:[0-9]+}/link", h.HandleLinkReceiver).Methods("PUT")
	api.HandleFunc("/accounts/{id:[0-9]+}/entitlement", h.HandleSetEntitlement).Methods("PUT")
	api.HandleFunc("/accounts/{id:[0-9]+}/suspended", h.HandleSetSuspended).Methods("PUT")

	// Signal history & stats
	api.HandleFunc("/signals", h.HandleGetSignals).Methods("GET")
	api.HandleFunc("/signals/stats", h.HandleGetStats).Methods("GET")

	return r
}

// HandleHealth возвращает статус здоровья сервиса
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondSuccess(w, "OK", map[string]string{
		"status": "healthy",
	})
}
