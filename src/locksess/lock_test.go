package locksess

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type alwaysAlive struct{}

func (alwaysAlive) IsAlive(context.Context, string) bool { return true }

type alwaysDead struct{}

func (alwaysDead) IsAlive(context.Context, string) bool { return false }

func newTestClient(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestAcquireUncontested(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	e := New(client, alwaysAlive{}, nil, 30, 15, 6)
	res, err := e.Acquire(context.Background(), "sess_t1", "hostA|1", "GET / HTTP/1.1")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !res.HasLock || res.Tries != 0 {
		t.Errorf("Acquire() = %+v, want HasLock=true Tries=0", res)
	}

	pid, err := client.HGet(context.Background(), "sess_t1", "pid").Result()
	if err != nil || pid != "hostA|1" {
		t.Errorf("pid field = %q, err=%v, want hostA|1", pid, err)
	}
}

func TestAcquireConcurrentConnectionsExceeded(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()

	ctx := context.Background()
	client.HSet(ctx, "sess_t2", "lock", 1, "pid", "hostA|1")

	const maxConcurrency = 2
	var wg sync.WaitGroup
	results := make(chan error, maxConcurrency+1)

	for i := 0; i < maxConcurrency+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := New(client, alwaysAlive{}, nil, 300, 300, maxConcurrency)
			lctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			_, err := e.Acquire(lctx, "sess_t2", "hostB|99", "GET /x HTTP/1.1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var rejections int
	for err := range results {
		if errors.Is(err, ErrConcurrentConnectionsExceeded) {
			rejections++
		}
	}
	if rejections != 1 {
		t.Errorf("expected exactly 1 rejection among %d contenders, got %d", maxConcurrency+1, rejections)
	}

	wait, err := client.HGet(ctx, "sess_t2", "wait").Result()
	if err != nil {
		t.Fatalf("HGet wait: %v", err)
	}
	if wait != "1" {
		t.Errorf("wait field = %q, want 1 after one rejection decrements its slot", wait)
	}
}

func TestAcquireBreaksStaleLock(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()
	ctx := context.Background()

	client.HSet(ctx, "sess_t3", "lock", 1, "pid", "hostA|1", "req", "GET /stale HTTP/1.1")

	e := New(client, alwaysAlive{}, nil, 1, 1, 6)
	res, err := e.Acquire(ctx, "sess_t3", "hostB|2", "GET /new HTTP/1.1")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !res.HasLock {
		t.Errorf("expected the stale lock to be broken, got %+v", res)
	}

	pid, _ := client.HGet(ctx, "sess_t3", "pid").Result()
	if pid != "hostB|2" {
		t.Errorf("pid field = %q, want hostB|2 after break", pid)
	}
}

func TestAcquireZombieOwnerClearsDeadLock(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()
	ctx := context.Background()

	client.HSet(ctx, "sess_t4", "lock", 1, "pid", "hostA|99999")

	e := New(client, alwaysDead{}, nil, 3000, 3000, 6)

	done := make(chan struct {
		res Result
		err error
	}, 1)
	go func() {
		res, err := e.Acquire(ctx, "sess_t4", "hostB|2", "GET /z HTTP/1.1")
		done <- struct {
			res Result
			err error
		}{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("Acquire() error: %v", out.err)
		}
		if !out.res.HasLock {
			t.Errorf("expected zombie-owner detection to eventually free the lock, got %+v", out.res)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Acquire() did not return after zombie-owner window")
	}
}

func TestAcquireGivesUpAfterDeadline(t *testing.T) {
	client, cleanup := newTestClient(t)
	defer cleanup()
	ctx := context.Background()

	client.HSet(ctx, "sess_t5", "lock", 1, "pid", "hostA|0")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		n := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n++
				client.HSet(ctx, "sess_t5", "pid", fmt.Sprintf("hostA|%d", n))
			}
		}
	}()

	e := New(client, alwaysAlive{}, nil, 1, 1, 6)
	res, err := e.Acquire(ctx, "sess_t5", "hostB|2", "GET /give-up HTTP/1.1")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if res.HasLock {
		t.Error("expected give-up when the owner identity keeps changing every tick")
	}
}
