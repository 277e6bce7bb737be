// Package middleware содержит HTTP middleware сервиса уведомлений.
package middleware

import (
	"context"
	"crypto/rand"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/marketplace-notifier/internal/validation"
)

type contextKey string

const userIDKey contextKey = "userID"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 365 * 24 * time.Hour
)

// AuthMiddleware выполняет проверку аутентификации получателя по подписанному cookie.
// Cookie выдаёт витрина, сервис только проверяет подпись общим секретом.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и добавляет идентификатор пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		userID, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного пользователя.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, userID string) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    userID + "." + validation.Sign(a.secretKey, []byte(userID)),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// parseCookie разбирает значение вида "<userID>.<hex hmac>". Идентификатор может содержать точки,
// поэтому подпись отделяется по последней.
func (a *AuthMiddleware) parseCookie(cookieValue string) (string, bool) {
	idx := strings.LastIndex(cookieValue, ".")
	if idx <= 0 || idx == len(cookieValue)-1 {
		return "", false
	}

	userID := cookieValue[:idx]
	if !validation.IsValidIdentifier(userID) {
		return "", false
	}
	if !validation.VerifySignature(a.secretKey, []byte(userID), cookieValue[idx+1:]) {
		return "", false
	}

	return userID, true
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}
