// Package cache содержит вспомогательные механизмы на Redis: защиту от повторных вебхуков
// и распределённую блокировку фоновых задач.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockHeld возвращается, если блокировку уже удерживает другой экземпляр.
	ErrLockHeld = errors.New("lock already held")
	// ErrLockLost возвращается при продлении, если срок блокировки истёк и её перехватили.
	ErrLockLost = errors.New("lock lost")
)

// NewClient создаёт клиент Redis и проверяет соединение.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}

// ReplayGuard запоминает уже обработанные тела вебхуков.
type ReplayGuard interface {
	Seen(ctx context.Context, payload []byte) (bool, error)
	Remember(ctx context.Context, payload []byte) error
}

// RedisReplayGuard хранит отпечатки обработанных вебхуков в Redis с ограниченным сроком жизни.
type RedisReplayGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewReplayGuard создаёт защиту от повторов с указанным окном.
func NewReplayGuard(client redis.UniversalClient, ttl time.Duration) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, ttl: ttl}
}

func replayKey(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "webhook:replay:" + hex.EncodeToString(sum[:])
}

// Seen сообщает, обрабатывался ли такой же вебхук в пределах окна.
func (g *RedisReplayGuard) Seen(ctx context.Context, payload []byte) (bool, error) {
	n, err := g.client.Exists(ctx, replayKey(payload)).Result()
	if err != nil {
		return false, fmt.Errorf("check replay: %w", err)
	}
	return n > 0, nil
}

// Remember отмечает вебхук обработанным.
func (g *RedisReplayGuard) Remember(ctx context.Context, payload []byte) error {
	if err := g.client.Set(ctx, replayKey(payload), 1, g.ttl).Err(); err != nil {
		return fmt.Errorf("remember replay: %w", err)
	}
	return nil
}

// NopReplayGuard используется, когда Redis не настроен.
type NopReplayGuard struct{}

// Seen всегда возвращает false.
func (NopReplayGuard) Seen(context.Context, []byte) (bool, error) { return false, nil }

// Remember ничего не делает.
func (NopReplayGuard) Remember(context.Context, []byte) error { return nil }

// Lock: удерживаемая блокировка ресурса.
type Lock interface {
	// Refresh продлевает блокировку на ttl. Если её уже держит другой владелец, возвращается ErrLockLost.
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker выдаёт эксклюзивную блокировку на ресурс.
type Locker interface {
	Acquire(ctx context.Context, resource string, ttl time.Duration) (Lock, error)
}

// RedisLocker реализует блокировку через SET NX с проверкой владельца при продлении и снятии.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewLocker создаёт распределённую блокировку на Redis.
func NewLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Acquire захватывает блокировку ресурса. Если блокировку держит другой процесс, возвращается ErrLockHeld.
func (l *RedisLocker) Acquire(ctx context.Context, resource string, ttl time.Duration) (Lock, error) {
	key := "lock:" + resource
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return &redisLock{client: l.client, key: key, token: token}, nil
}

type redisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLock) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// NopLocker всегда выдаёт блокировку; используется при единственном экземпляре сервиса.
type NopLocker struct{}

// Acquire реализует Locker.
func (NopLocker) Acquire(context.Context, string, time.Duration) (Lock, error) {
	return nopLock{}, nil
}

type nopLock struct{}

func (nopLock) Refresh(context.Context, time.Duration) error { return nil }

func (nopLock) Release(context.Context) error { return nil }
