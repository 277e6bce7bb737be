package validation

import (
	"strconv"
	"time"
)

const maxIdentifierLen = 128

// IsValidIdentifier проверяет идентификатор документа: непустой, не длиннее 128 символов,
// только латиница, цифры и символы "-", "_", ".", ":".
func IsValidIdentifier(id string) bool {
	if id == "" || len(id) > maxIdentifierLen {
		return false
	}

	for _, ch := range id {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.', ch == ':':
		default:
			return false
		}
	}
	return true
}

// ParseUnixTimestamp разбирает время в секундах Unix.
func ParseUnixTimestamp(s string) (time.Time, bool) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

// WithinTolerance сообщает, отличается ли ts от now не более чем на tolerance.
// Нулевой tolerance отключает проверку.
func WithinTolerance(ts, now time.Time, tolerance time.Duration) bool {
	if tolerance <= 0 {
		return true
	}
	diff := now.Sub(ts)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
