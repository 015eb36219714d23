// Package session composes the codec, bot classifier, lifetime policy, PID
// probe, and lock engine behind the five-operation session handler surface
// a host framework calls into: open, read, write, destroy, close (plus gc
// and the failedLockAttempts/setReadOnly accessors).
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"redissess/src/botclassify"
	"redissess/src/codec"
	"redissess/src/lifetime"
	"redissess/src/locksess"
	"redissess/src/logging"
	"redissess/src/pidprobe"
)

// Handler owns one Redis connection and the per-request state machine the
// spec calls a "handler instance": hasLock, sessionWritten, the cached
// lifetime, failedLockAttempts, and the writes snapshot read at read time.
// It is owned by exactly one request worker and never shared.
type Handler struct {
	client *redis.Client
	cfg    Config
	log    logging.Logger

	codec      *codec.Codec
	classifier *botclassify.Classifier
	lifetime   *lifetime.Policy
	engine     *locksess.Engine
	identity   string

	useLocking bool
	readOnly   bool

	hasLock            bool
	sessionWritten     bool
	failedLockAttempts int
	sessionWrites      int
	lastUserAgent      string
}

// Options configures construction beyond what Config carries: the bot
// classifier's optional override hook, and an injected Logger. Both default
// to an inert value if omitted, matching Design Notes' instruction to avoid
// the bot hook's mutable-global pattern.
type Options struct {
	Logger      logging.Logger
	BotOverride botclassify.OverrideFunc
}

// New connects to Redis (direct or via Sentinel, per cfg) and assembles a
// Handler. A failed connection surfaces as ConnectionError with the
// underlying cause attached.
func New(ctx context.Context, cfg Config, opts Options) (*Handler, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Nop{}
	}

	client, err := connect(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	prober, err := pidprobe.New()
	if err != nil {
		client.Close()
		return nil, NewConnectionError(fmt.Errorf("pid probe: %w", err))
	}

	classifier := botclassify.New(opts.BotOverride)
	lifetimePolicy := lifetime.New(lifetime.Tunables{
		Lifetime:         cfg.Lifetime(),
		MaxLifetime:      cfg.MaxLifetime(),
		MinLifetime:      cfg.MinLifetime(),
		BotLifetime:      cfg.BotLifetime(),
		BotFirstLifetime: cfg.BotFirstLifetime(),
		FirstLifetime:    cfg.FirstLifetime(),
	}, classifier)

	engine := locksess.New(client, prober, log, cfg.BreakAfter(), cfg.FailAfter(), cfg.MaxConcurrency())

	return &Handler{
		client:     client,
		cfg:        cfg,
		log:        log,
		codec:      codec.New(cfg.CompressionThreshold(), codec.Library(cfg.CompressionLibrary()), log),
		classifier: classifier,
		lifetime:   lifetimePolicy,
		engine:     engine,
		identity:   prober.Identity(),
		useLocking: !cfg.DisableLocking(),
	}, nil
}

func sessionKey(id string) string {
	return "sess_" + id
}

// Open is a no-op success, matching the host framework's open(savePath,
// sessionName) callback — all real setup already happened in New.
func (h *Handler) Open(string, string) bool { return true }

// SetReadOnly puts the handler in read-only mode: Read skips the locking
// loop entirely and Write becomes a no-op success.
func (h *Handler) SetReadOnly(readOnly bool) { h.readOnly = readOnly }

// FailedLockAttempts reports how many ticks the most recent Read spent
// polling for the lock.
func (h *Handler) FailedLockAttempts() int { return h.failedLockAttempts }

// Read acquires the session's lock (unless read-only or locking is
// disabled), then fetches and decodes its payload. Only
// ErrConcurrentConnectionsExceeded is returned to the caller; every other
// Redis-level failure propagates unchanged.
func (h *Handler) Read(ctx context.Context, id string, reqCtx RequestContext) ([]byte, error) {
	key := sessionKey(id)
	h.lastUserAgent = reqCtx.UserAgent

	switch {
	case h.readOnly:
		// Loop skipped entirely: no lock/wait/pid mutation.
	case !h.useLocking:
		h.hasLock = true
	default:
		result, err := h.engine.Acquire(ctx, key, h.identity, reqCtx.Descriptor())
		if err != nil {
			if errors.Is(err, locksess.ErrConcurrentConnectionsExceeded) {
				h.sessionWritten = true
				return nil, err
			}
			return nil, err
		}
		h.hasLock = result.HasLock
		h.failedLockAttempts = result.Tries
	}

	vals, err := h.client.HMGet(ctx, key, "data", "writes").Result()
	if err != nil {
		return nil, err
	}

	h.sessionWrites = parseIntField(vals, 1)
	h.sessionWritten = false

	raw, _ := vals[0].(string)
	if raw == "" {
		return []byte{}, nil
	}

	decoded, err := h.codec.Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// Write commits data to the session, provided this handler instance either
// holds the lock or locking is disabled/unowned. It is idempotent per
// handler instance: a second call returns true without touching Redis.
// Any driver failure is caught and converted to false.
func (h *Handler) Write(ctx context.Context, id string, data []byte) bool {
	if h.sessionWritten {
		h.log.Log(fmt.Sprintf("write: session %s already written by this handler instance", id), logging.Debug)
		return true
	}
	if h.readOnly {
		h.sessionWritten = true
		return true
	}
	h.sessionWritten = true

	key := sessionKey(id)

	ownsLock := true
	if h.useLocking {
		storedPid, err := h.client.HGet(ctx, key, "pid").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			h.log.LogException(err)
			return false
		}
		ownsLock = storedPid == "" || storedPid == h.identity
	}

	if !ownsLock {
		if h.hasLock {
			h.log.Log(fmt.Sprintf("write: another process took the lock for %s", key), logging.Warning)
		} else {
			h.log.Log(fmt.Sprintf("write: unable to acquire lock for %s", key), logging.Warning)
		}
		return true
	}

	encoded := h.codec.Encode(data)
	ttlSeconds := h.lifetime.Compute(h.sessionWrites, h.lastUserAgent)

	pipe := h.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{"data": encoded, "lock": 0})
	pipe.HIncrBy(ctx, key, "writes", 1)
	pipe.Expire(ctx, key, time.Duration(ttlSeconds)*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.LogException(err)
		return false
	}
	return true
}

// Destroy deletes the session record. It always reports success, matching
// the host framework's expectation that destroy never fails a request.
func (h *Handler) Destroy(ctx context.Context, id string) bool {
	key := sessionKey(id)
	pipe := h.client.TxPipeline()
	pipe.Unlink(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.LogException(err)
	}
	return true
}

// Close releases the Redis connection, if one is still held. Safe to call
// more than once.
func (h *Handler) Close() bool {
	if h.client == nil {
		return true
	}
	h.log.Log("Closing connection", logging.Debug)
	err := h.client.Close()
	h.client = nil
	if err != nil {
		h.log.LogException(err)
		return false
	}
	return true
}

// Gc is a no-op: Redis TTLs reap expired keys natively.
func (h *Handler) Gc(int) bool { return true }

func parseIntField(vals []any, idx int) int {
	if idx >= len(vals) {
		return 0
	}
	s, ok := vals[idx].(string)
	if !ok || s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
