package lifetime

import (
	"testing"

	"redissess/src/botclassify"
)

func defaultTunables() Tunables {
	return Tunables{
		Lifetime:         1440,
		MaxLifetime:      2592000,
		MinLifetime:      60,
		BotLifetime:      7200,
		BotFirstLifetime: 60,
		FirstLifetime:    600,
	}
}

func TestComputeBotFirstClampedUp(t *testing.T) {
	cfg := defaultTunables()
	cfg.BotFirstLifetime = 30
	p := New(cfg, botclassify.New(nil))

	got := p.Compute(0, "Googlebot")
	if got != 60 {
		t.Errorf("Compute() = %d, want 60 (clamped up from 30)", got)
	}
}

func TestComputeBotSteadyState(t *testing.T) {
	p := New(defaultTunables(), botclassify.New(nil))
	got := p.Compute(5, "Googlebot")
	if got != 7200 {
		t.Errorf("Compute() = %d, want 7200", got)
	}
}

func TestComputeFirstWrite(t *testing.T) {
	p := New(defaultTunables(), botclassify.New(nil))
	got := p.Compute(0, "Mozilla/5.0")
	if got != 600 {
		t.Errorf("Compute() = %d, want 600", got)
	}
}

func TestComputeSteadyState(t *testing.T) {
	p := New(defaultTunables(), botclassify.New(nil))
	got := p.Compute(10, "Mozilla/5.0")
	if got != 1440 {
		t.Errorf("Compute() = %d, want 1440", got)
	}
}

func TestComputeIsCached(t *testing.T) {
	p := New(defaultTunables(), botclassify.New(nil))
	first := p.Compute(0, "Mozilla/5.0")
	second := p.Compute(99, "Googlebot")
	if first != second {
		t.Errorf("Compute() should cache the first result: got %d then %d", first, second)
	}
}

func TestComputeAlwaysClamped(t *testing.T) {
	cfg := defaultTunables()
	cfg.Lifetime = 99999999
	p := New(cfg, botclassify.New(nil))
	got := p.Compute(10, "Mozilla/5.0")
	if got != cfg.MaxLifetime {
		t.Errorf("Compute() = %d, want clamp to MaxLifetime %d", got, cfg.MaxLifetime)
	}
}
