package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/mmeshcher/marketplace-notifier/internal/validation"
)

// SignatureHeader: заголовок с HMAC-SHA256 тела запроса.
const SignatureHeader = "X-Signature"

const maxSignedBodySize = 1 << 20

// RequireSignature пропускает только запросы, тело которых подписано общим секретом
// внутренних сервисов. Тело после проверки снова доступно обработчику.
func RequireSignature(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignedBodySize))
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			_ = r.Body.Close()

			if !validation.VerifySignature(key, body, r.Header.Get(SignatureHeader)) {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
