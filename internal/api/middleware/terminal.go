package middleware

import (
	"context"
	"errors"
	"net/http"

	"mt_relay/internal/directory"
	"mt_relay/internal/models"
)

const AccountKey contextKey = "terminal_account"

// TerminalAuth разрешает API ключ терминала через каталог и кладет
// учетную запись в контекст. Заблокированные терминалы отклоняются
// до того, как запрос дойдет до ядра.
func TerminalAuth(dir *directory.Directory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				http.Error(w, "Missing API key", http.StatusUnauthorized)
				return
			}

			acc, err := dir.Resolve(apiKey)
			if err != nil {
				if errors.Is(err, directory.ErrSuspended) {
					http.Error(w, "Account suspended", http.StatusForbidden)
					return
				}

				http.Error(w, "Invalid API key", http.StatusUnauthorized)

				return
			}

			ctx := context.WithValue(r.Context(), AccountKey, acc)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAccount извлекает учетную запись терминала из контекста
func GetAccount(ctx context.Context) (*models.Account, bool) {
	acc, ok := ctx.Value(AccountKey).(*models.Account)
	return acc, ok
}

// RequireRole пропускает только терминалы с нужной ролью
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc, ok := GetAccount(r.Context())
			if !ok || acc.Role != role {
				http.Error(w, "Forbidden for this account role", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
