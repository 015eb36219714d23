// Package locksess implements the non-blocking, counter-based advisory
// mutex session records are protected by: bounded polling for acquisition,
// lock-breaking against a suspected-crashed owner, zombie-waiter and
// zombie-owner correction, and admission control once too many contenders
// pile up on one session. All state lives in Redis hash fields; contenders
// coordinate only through hIncrBy/hSet, never through a server-side lock
// primitive or Lua script.
package locksess

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"redissess/src/logging"
)

// SleepTime is the fixed tick interval the acquisition loop polls at.
const SleepTime = 500 * time.Millisecond

// DetectZombiesEvery is how many ticks elapse between zombie-waiter and
// zombie-owner detection passes.
const DetectZombiesEvery = 20

// zombieExtraDelay lengthens the tick right after the zombie-waiter flag is
// raised, giving outstanding waiters a moment to report in before the
// correction is evaluated on the following tick.
const zombieExtraDelay = 10 * time.Millisecond

// ErrConcurrentConnectionsExceeded is raised when the number of waiters for
// a session exceeds the configured ceiling. By the time this is returned,
// the engine has already decremented its own wait registration.
var ErrConcurrentConnectionsExceeded = errors.New("locksess: concurrent connections exceeded")

// Prober tests whether a previously recorded owner identity is still alive
// on the local host. src/pidprobe.Prober satisfies this.
type Prober interface {
	IsAlive(ctx context.Context, identity string) bool
}

// Engine drives the lock protocol for one Redis connection. It is safe to
// share across sessions but not across the acquisition loop of a single
// Acquire call.
type Engine struct {
	client *redis.Client
	prober Prober
	log    logging.Logger

	breakAfterTicks int
	failAfterTicks  int
	maxConcurrency  int
}

// New builds an Engine. breakAfterSeconds and failAfterSeconds are
// converted to SleepTime-sized ticks internally.
func New(client *redis.Client, prober Prober, log logging.Logger, breakAfterSeconds, failAfterSeconds, maxConcurrency int) *Engine {
	if log == nil {
		log = logging.Nop{}
	}
	ticks := func(seconds int) int {
		if seconds <= 0 {
			return 1
		}
		t := int(time.Duration(seconds) * time.Second / SleepTime)
		if t < 1 {
			t = 1
		}
		return t
	}
	return &Engine{
		client:          client,
		prober:          prober,
		log:             log,
		breakAfterTicks: ticks(breakAfterSeconds),
		failAfterTicks:  ticks(failAfterSeconds),
		maxConcurrency:  maxConcurrency,
	}
}

// Result reports how an Acquire call ended.
type Result struct {
	HasLock bool
	Tries   int
}

// Acquire runs the bounded polling loop for key, the session's Redis hash
// key. identity is written as the lock owner on success; reqDescriptor is
// recorded for diagnostics. ctx bounds the loop independently of the tick
// count: whichever deadline is hit first ends it.
func (e *Engine) Acquire(ctx context.Context, key, identity, reqDescriptor string) (Result, error) {
	var (
		tries            int
		registered       bool
		waiting          int64
		prevLockValue    int64
		prevLockPid      string
		zombieWaiterFlag bool
		sleep            = SleepTime
	)

	for {
		if err := ctx.Err(); err != nil {
			return e.finish(context.Background(), key, identity, reqDescriptor, tries, registered, false, 0)
		}

		lockVal, err := e.client.HIncrBy(ctx, key, "lock", 1).Result()
		if err != nil {
			return Result{}, fmt.Errorf("locksess: increment lock: %w", err)
		}

		if lockVal == 1 {
			return e.finish(ctx, key, identity, reqDescriptor, tries, registered, true, lockVal)
		}

		var lockPid string
		if tries >= e.breakAfterTicks-1 {
			lockPid, err = e.hgetOrEmpty(ctx, key, "pid")
			if err != nil {
				return Result{}, err
			}
		}

		if tries >= e.breakAfterTicks && prevLockPid == lockPid {
			return e.finish(ctx, key, identity, reqDescriptor, tries, registered, true, lockVal)
		}

		if !registered {
			registered, waiting, err = e.registerWaiter(ctx, key)
			if err != nil {
				return Result{}, err
			}
		}

		if zombieWaiterFlag {
			zombieWaiterFlag = false
			waitVal, err := e.hgetInt(ctx, key, "wait")
			if err != nil {
				return Result{}, err
			}
			if lockVal > prevLockValue && lockVal+1 < prevLockValue+waitVal {
				if err := e.client.HIncrBy(ctx, key, "wait", -1).Err(); err != nil {
					return Result{}, fmt.Errorf("locksess: correct zombie waiter: %w", err)
				}
				prevLockValue, prevLockPid = lockVal, lockPid
				continue
			}
		}

		tries++
		prevLockValue, prevLockPid = lockVal, lockPid

		isZombieOwnerTick := tries%DetectZombiesEvery == 0
		isZombieFlagTick := tries%DetectZombiesEvery == 1

		if isZombieOwnerTick {
			ownerPid, err := e.hgetOrEmpty(ctx, key, "pid")
			if err != nil {
				return Result{}, err
			}
			if ownerPid != "" && !e.prober.IsAlive(ctx, ownerPid) {
				if err := e.client.HSet(ctx, key, "lock", 0).Err(); err != nil {
					return Result{}, fmt.Errorf("locksess: clear dead owner's lock: %w", err)
				}
				e.log.Log(fmt.Sprintf("locksess: cleared lock held by dead owner %q on %s", ownerPid, key), logging.Notice)
				prevLockValue, prevLockPid = 0, ""
				continue
			}
		} else {
			waitVal := waiting
			if waitVal > int64(e.maxConcurrency) {
				if err := e.client.HIncrBy(ctx, key, "wait", -1).Err(); err != nil {
					return Result{}, fmt.Errorf("locksess: release waiter slot on admission reject: %w", err)
				}
				writesSnapshot, reqSnapshot := e.diagnosticSnapshot(ctx, key)
				e.log.Log(fmt.Sprintf(
					"locksess: rejecting %s, wait=%d > maxConcurrency=%d (writes=%d, last req=%q)",
					key, waitVal, e.maxConcurrency, writesSnapshot, reqSnapshot), logging.Warning)
				return Result{Tries: tries}, ErrConcurrentConnectionsExceeded
			}
		}

		if isZombieFlagTick {
			zombieWaiterFlag = true
			sleep = SleepTime + zombieExtraDelay
		} else {
			sleep = SleepTime
		}

		if tries >= e.breakAfterTicks+e.failAfterTicks {
			return e.finish(ctx, key, identity, reqDescriptor, tries, registered, false, 0)
		}

		select {
		case <-ctx.Done():
			return e.finish(context.Background(), key, identity, reqDescriptor, tries, registered, false, 0)
		case <-time.After(sleep):
		}
	}
}

// finish runs the sequence spec.md §4.5 requires on every exit from the
// acquisition loop, not only a successful one: stage ownership fields when
// hasLock, then unconditionally bump the record's TTL to the six-hour
// placeholder. A contender that broke off — gave up after failAfter, or was
// cut short by the caller's context — still needs that placeholder applied,
// since an abandoned record is exactly the case the placeholder TTL exists
// to bound; the real TTL is installed at write time (src/lifetime).
func (e *Engine) finish(ctx context.Context, key, identity, reqDescriptor string, tries int, registered, hasLock bool, observedLock int64) (Result, error) {
	pipe := e.client.TxPipeline()
	if hasLock {
		if observedLock > 1 {
			prevReq, _ := e.hgetOrEmpty(ctx, key, "req")
			e.log.Log(fmt.Sprintf("locksess: broke lock on %s (counter=%d), previous request %q", key, observedLock, prevReq), logging.Notice)
		}
		pipe.HSet(ctx, key, map[string]any{
			"pid":  identity,
			"lock": 1,
			"req":  reqDescriptor,
		})
	}
	pipe.Expire(ctx, key, 6*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("locksess: finalize acquisition loop: %w", err)
	}

	if registered {
		if err := e.client.HIncrBy(ctx, key, "wait", -1).Err(); err != nil {
			return Result{}, fmt.Errorf("locksess: release waiter slot: %w", err)
		}
	}

	return Result{HasLock: hasLock, Tries: tries}, nil
}

// registerWaiter increments "wait" until it reads >= 1 or maxConcurrency
// attempts are spent. This defends against a transient negative counter
// left by zombie-waiter correction elsewhere; it is not a bug that it can
// overshoot the true waiter count by a bounded amount (spec.md §9 Design
// Notes, Open Question).
func (e *Engine) registerWaiter(ctx context.Context, key string) (bool, int64, error) {
	var wait int64
	for attempt := 0; attempt < e.maxConcurrency; attempt++ {
		var err error
		wait, err = e.client.HIncrBy(ctx, key, "wait", 1).Result()
		if err != nil {
			return false, 0, fmt.Errorf("locksess: register waiter: %w", err)
		}
		if wait >= 1 {
			return true, wait, nil
		}
	}
	return true, wait, nil
}

func (e *Engine) diagnosticSnapshot(ctx context.Context, key string) (writes int64, req string) {
	vals, err := e.client.HMGet(ctx, key, "writes", "req").Result()
	if err != nil || len(vals) != 2 {
		return 0, ""
	}
	if s, ok := vals[0].(string); ok {
		writes, _ = strconv.ParseInt(s, 10, 64)
	}
	if s, ok := vals[1].(string); ok {
		req = s
	}
	return writes, req
}

func (e *Engine) hgetOrEmpty(ctx context.Context, key, field string) (string, error) {
	v, err := e.client.HGet(ctx, key, field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("locksess: hget %s.%s: %w", key, field, err)
	}
	return v, nil
}

func (e *Engine) hgetInt(ctx context.Context, key, field string) (int64, error) {
	v, err := e.hgetOrEmpty(ctx, key, field)
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("locksess: parse %s.%s: %w", key, field, err)
	}
	return n, nil
}
