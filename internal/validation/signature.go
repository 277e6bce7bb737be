// Package validation содержит функции валидации входных данных и проверки подписей.
package validation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const canonicalSeparator = "|"

// ErrAmbiguousField возвращается, если поле содержит разделитель канонической строки.
var ErrAmbiguousField = errors.New("field contains canonical separator")

// CanonicalString склеивает поля запроса в строку, над которой считается подпись.
// Поле с разделителем отвергается: иначе границы полей можно сдвинуть, не меняя подписи.
func CanonicalString(parts ...string) (string, error) {
	for i, p := range parts {
		if strings.Contains(p, canonicalSeparator) {
			return "", fmt.Errorf("%w: field %d", ErrAmbiguousField, i)
		}
	}
	return strings.Join(parts, canonicalSeparator), nil
}

// Sign возвращает HMAC-SHA256 сообщения в шестнадцатеричном виде.
func Sign(secret []byte, msg []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сравнивает подпись с ожидаемой за постоянное время.
// При пустом секрете любая подпись считается неверной.
func VerifySignature(secret []byte, msg []byte, signature string) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}

	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hmac.Equal(got, mac.Sum(nil))
}
