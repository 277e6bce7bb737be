package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/marketplace-notifier/internal/model"
)

// ErrRateLimited возвращается, если шлюз канала ответил 429.
var ErrRateLimited = errors.New("gateway rate limited")

// RetryAfterError несёт срок из заголовка Retry-After ответа 429. Сопоставляется с ErrRateLimited.
type RetryAfterError struct {
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RetryAfterError) Unwrap() error {
	return ErrRateLimited
}

// parseRetryAfter разбирает Retry-After в секундах или в формате HTTP-даты.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// Relay передаёт уведомления внешнему шлюзу канала (email, SMS, чат-бот, push) по HTTP.
type Relay struct {
	baseURL    string
	httpClient *http.Client
}

// RelayMessage: тело запроса к шлюзу канала.
type RelayMessage struct {
	NotificationID string                 `json:"notificationId"`
	Recipient      string                 `json:"recipient"`
	Channel        model.Channel          `json:"channel"`
	Type           model.NotificationType `json:"type"`
	Priority       model.Priority         `json:"priority"`
	Title          model.LocalizedText    `json:"title"`
	Message        model.LocalizedText    `json:"message"`
}

// NewRelay создаёт HTTP-клиент шлюза по указанному адресу.
func NewRelay(baseURL string, timeout time.Duration) *Relay {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Relay{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send отправляет уведомление в шлюз. Успехом считается любой ответ 2xx.
func (c *Relay) Send(ctx context.Context, n *model.Notification, ch model.Channel) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("%w: %s", ErrChannelNotConfigured, ch)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(RelayMessage{
		NotificationID: n.ID,
		Recipient:      n.Recipient,
		Channel:        ch,
		Type:           n.Type,
		Priority:       n.Priority,
		Title:          n.Title,
		Message:        n.Message,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.ID+":"+string(ch))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RetryAfterError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
