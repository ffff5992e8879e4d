package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/cache"
	"go.uber.org/zap"
)

var (
	errMissingStore    = errors.New("ratelimit: counter store is required")
	errInvalidCapacity = errors.New("ratelimit: capacity must be positive")
	errInvalidWindow   = errors.New("ratelimit: window must be positive")
)

// Config describes a token bucket shared across processes through a
// key/TTL counter store.
type Config struct {
	Store    cache.Store
	Capacity int
	Window   time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Limiter admits at most Capacity requests per Window for each key.
// Counter updates are last-writer-wins: this is best-effort admission
// control, not a hard quota, so no cross-process lock is taken.
type Limiter struct {
	store    cache.Store
	capacity int
	window   time.Duration
	clock    func() time.Time
	logger   *zap.Logger
}

// bucketState is the persisted per-key counter.
type bucketState struct {
	Tokens         float64 `json:"tokens"`
	LastRefillUnix int64   `json:"ts"`
}

// NewLimiter constructs a Limiter with the provided configuration.
func NewLimiter(cfg Config) (*Limiter, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Capacity <= 0 {
		return nil, errInvalidCapacity
	}
	if cfg.Window <= 0 {
		return nil, errInvalidWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:    cfg.Store,
		capacity: cfg.Capacity,
		window:   cfg.Window,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Allow debits one token from the bucket for key and reports admission.
// Rejections do not write state back, so stored token counts never drop
// below the single debit used for the decision. Store failures admit the
// request: losing rate limiting must not take the serving path down.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	now := l.clock()
	state := bucketState{Tokens: float64(l.capacity), LastRefillUnix: now.UnixMilli()}

	raw, found, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn("rate limit state read failed", zap.String("key", key), zap.Error(err))
		return true
	}
	if found {
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			l.logger.Warn("rate limit state corrupt, resetting bucket", zap.String("key", key), zap.Error(err))
			state = bucketState{Tokens: float64(l.capacity), LastRefillUnix: now.UnixMilli()}
		}
	}

	elapsedSeconds := float64(now.UnixMilli()-state.LastRefillUnix) / 1000
	refill := math.Floor(elapsedSeconds / l.window.Seconds() * float64(l.capacity))
	tokens := math.Min(float64(l.capacity), state.Tokens+math.Max(0, refill)) - 1
	if tokens < 0 {
		return false
	}

	next := bucketState{Tokens: tokens, LastRefillUnix: now.UnixMilli()}
	encoded, err := json.Marshal(next)
	if err != nil {
		l.logger.Warn("rate limit state encode failed", zap.String("key", key), zap.Error(err))
		return true
	}
	// Keys expire after two idle windows. By then the bucket would have
	// fully refilled anyway, so expiry cannot un-exhaust a hot bucket.
	if err := l.store.Set(ctx, key, string(encoded), 2*l.window); err != nil {
		l.logger.Warn("rate limit state write failed", zap.String("key", key), zap.Error(err))
	}
	return true
}

// ScanKey names the per-IP bucket used for resolve admission.
func ScanKey(ip string) string {
	return "rl:scan:" + ip
}

// EditKey names the per-IP-and-slug bucket used for edit admission.
func EditKey(ip, slug string) string {
	return "rl:edit:" + ip + ":" + slug
}
