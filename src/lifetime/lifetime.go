// Package lifetime implements the TTL policy applied to a session record on
// each commit: bot sessions, first writes, and steady-state writes each get
// a different lifetime, clamped to a configured [min, max] window.
package lifetime

import "redissess/src/botclassify"

// Tunables mirrors the subset of the Config provider (spec.md §6) the
// policy reads. It's passed by value so callers can build it straight from
// their own Config implementation without an import cycle.
type Tunables struct {
	Lifetime         int
	MaxLifetime      int
	MinLifetime      int
	BotLifetime      int
	BotFirstLifetime int
	FirstLifetime    int
}

// Policy computes and caches a session's lifetime. A single Policy is owned
// by one handler instance (one request), matching §4.3's "computed at most
// once per handler-instance" rule.
type Policy struct {
	classifier *botclassify.Classifier
	cfg        Tunables

	computed bool
	value    int
}

// New builds a Policy bound to cfg and the given bot classifier.
func New(cfg Tunables, classifier *botclassify.Classifier) *Policy {
	return &Policy{classifier: classifier, cfg: cfg}
}

// Compute returns the TTL, in seconds, for a session with sessionWrites
// prior commits and the given request user-agent. The result is cached:
// subsequent calls on the same Policy return the first answer regardless of
// arguments.
func (p *Policy) Compute(sessionWrites int, userAgent string) int {
	if p.computed {
		return p.value
	}
	p.value = clamp(p.raw(sessionWrites, userAgent), p.cfg.MinLifetime, p.cfg.MaxLifetime)
	p.computed = true
	return p.value
}

func (p *Policy) raw(sessionWrites int, userAgent string) int {
	cfg := p.cfg

	if cfg.BotLifetime > 0 && p.classifier.IsBot(userAgent) {
		if sessionWrites <= 1 && cfg.BotFirstLifetime > 0 {
			return cfg.BotFirstLifetime * (1 + sessionWrites)
		}
		return cfg.BotLifetime
	}

	if sessionWrites <= 1 && cfg.FirstLifetime > 0 {
		return cfg.FirstLifetime * (1 + sessionWrites)
	}

	return cfg.Lifetime
}

func clamp(v, min, max int) int {
	if min > 0 && v < min {
		v = min
	}
	if max > 0 && v > max {
		v = max
	}
	return v
}
