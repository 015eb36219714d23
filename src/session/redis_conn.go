package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"redissess/src/logging"
)

// noPasswordSetShapes are the two error strings Redis/Sentinel return when
// an AUTH is sent but no password is configured server-side — across the
// versions this driver has to tolerate, the wording differs.
var noPasswordSetShapes = []string{
	"ERR Client sent AUTH, but no password is set",
	"ERR AUTH <password> called without any password configured",
}

func isNoPasswordSet(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, shape := range noPasswordSetShapes {
		if strings.Contains(msg, shape) {
			return true
		}
	}
	return false
}

// connect establishes the handler's Redis connection: Sentinel-mediated
// master discovery if cfg names Sentinel servers, otherwise a direct
// connection. It returns ConnectionError, with the last underlying cause
// attached, if no connection can be established at all (spec.md §4.7).
func connect(ctx context.Context, cfg Config, log logging.Logger) (*redis.Client, error) {
	if len(cfg.SentinelServers()) > 0 {
		client, err := connectSentinel(ctx, cfg, log)
		if err != nil {
			return nil, NewConnectionError(err)
		}
		return client, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host(), cfg.Port()),
		Password:    cfg.Password(),
		DB:          cfg.Database(),
		DialTimeout: cfg.Timeout(),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, NewConnectionError(fmt.Errorf("direct connect to %s: %w", cfg.Host(), err))
	}
	return client, nil
}

// connectSentinel iterates the configured Sentinel endpoints round-robin for
// up to sentinelConnectRetries+1 passes, authenticating each, resolving the
// master, authenticating the master, and (optionally) verifying its ROLE
// before accepting it.
func connectSentinel(ctx context.Context, cfg Config, log logging.Logger) (*redis.Client, error) {
	servers := cfg.SentinelServers()
	passes := cfg.SentinelConnectRetries() + 1

	var lastErr error
	for pass := 0; pass < passes; pass++ {
		for _, addr := range servers {
			client, err := tryOneSentinel(ctx, addr, cfg)
			if err != nil {
				lastErr = err
				log.Log(fmt.Sprintf("session: sentinel %s failed on pass %d: %v", addr, pass+1, err), logging.Warning)
				continue
			}
			return client, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no sentinel servers configured")
	}
	return nil, fmt.Errorf("sentinel discovery exhausted %d passes over %d servers: %w", passes, len(servers), lastErr)
}

func tryOneSentinel(ctx context.Context, addr string, cfg Config) (*redis.Client, error) {
	sentinelClient := redis.NewSentinelClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.SentinelPassword(),
		DialTimeout: cfg.Timeout(),
	})
	defer sentinelClient.Close()

	if cfg.SentinelPassword() != "" {
		authCmd := redis.NewCmd(ctx, "AUTH", cfg.SentinelPassword())
		if err := sentinelClient.Process(ctx, authCmd); err != nil && !isNoPasswordSet(err) {
			return nil, fmt.Errorf("authenticate sentinel %s: %w", addr, err)
		}
	}

	masterAddr, err := sentinelClient.GetMasterAddrByName(ctx, cfg.SentinelMaster()).Result()
	if err != nil {
		return nil, fmt.Errorf("resolve master via sentinel %s: %w", addr, err)
	}

	masterClient := redis.NewClient(&redis.Options{
		Addr:        strings.Join(masterAddr, ":"),
		Password:    cfg.Password(),
		DB:          cfg.Database(),
		DialTimeout: cfg.Timeout(),
	})

	if err := masterClient.Ping(ctx).Err(); err != nil && !isNoPasswordSet(err) {
		masterClient.Close()
		return nil, fmt.Errorf("connect to resolved master %v: %w", masterAddr, err)
	}

	if cfg.SentinelVerifyMaster() {
		if err := verifyRole(ctx, masterClient); err != nil {
			masterClient.Close()
			return nil, fmt.Errorf("verify ROLE of %v: %w", masterAddr, err)
		}
	}

	return masterClient, nil
}

// verifyRole checks that the resolved node answers ROLE as "master",
// retrying once after 100ms in case the promotion hasn't fully propagated.
func verifyRole(ctx context.Context, client *redis.Client) error {
	check := func() error {
		role, err := roleOf(ctx, client)
		if err != nil {
			return err
		}
		if role != "master" {
			return fmt.Errorf("role is %q, not master", role)
		}
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 1)
	return backoff.Retry(check, b)
}

func roleOf(ctx context.Context, client *redis.Client) (string, error) {
	res, err := client.Do(ctx, "ROLE").Slice()
	if err != nil {
		return "", err
	}
	if len(res) == 0 {
		return "", fmt.Errorf("empty ROLE response")
	}
	role, ok := res[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected ROLE response shape")
	}
	return role, nil
}
