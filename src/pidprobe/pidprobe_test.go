package pidprobe

import (
	"context"
	"os"
	"strconv"
	"testing"
)

func TestIdentity(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	host, _ := os.Hostname()
	want := host + "|" + strconv.Itoa(os.Getpid())
	if got := p.Identity(); got != want {
		t.Errorf("Identity() = %q, want %q", got, want)
	}
}

func TestIsAliveSelf(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if !p.IsAlive(context.Background(), p.Identity()) {
		t.Error("expected the current process to be reported alive")
	}
}

func TestIsAliveCrossHostConservative(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if !p.IsAlive(context.Background(), "some-other-host|1") {
		t.Error("expected conservative true for a different host")
	}
}

func TestIsAliveMalformedIdentity(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if !p.IsAlive(context.Background(), "garbage") {
		t.Error("expected conservative true for a malformed identity")
	}
}
