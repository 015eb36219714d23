// Package pidprobe produces a stable process identity for the current host
// and tests whether a previously recorded identity is still alive. Crash
// detection is intentionally scoped to the local host: a contender on
// another host is assumed alive, since the lock-break timer (src/locksess)
// eventually clears a genuinely dead remote owner instead.
package pidprobe

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// Prober answers identity and liveness questions for the lock engine.
type Prober struct {
	hostname string
	pid      int
}

// New builds a Prober bound to the current process.
func New() (*Prober, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("pidprobe: hostname: %w", err)
	}
	return &Prober{hostname: host, pid: os.Getpid()}, nil
}

// Identity returns "host|pid" for the current process, written to the
// session record's pid field on lock acquisition.
func (p *Prober) Identity() string {
	return p.hostname + "|" + strconv.Itoa(p.pid)
}

// IsAlive reports whether the process behind identity is still running.
// When the OS isn't Linux, or identity names a different host, the answer
// is conservatively "alive": we have no reliable way to know otherwise.
func (p *Prober) IsAlive(ctx context.Context, identity string) bool {
	host, pid, ok := splitIdentity(identity)
	if !ok {
		return true
	}
	if runtime.GOOS != "linux" || host != p.hostname {
		return true
	}

	alive, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return true
	}
	return alive
}

func splitIdentity(identity string) (host string, pid int, ok bool) {
	parts := strings.SplitN(identity, "|", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, false
	}
	return parts[0], n, true
}
