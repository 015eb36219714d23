package session

import "time"

// Config is the consumed configuration provider (spec.md §6). The session
// package uses every value exactly as returned and applies no defaults of
// its own; internal/config.Provider is the implementation that substitutes
// a default for a zero or empty value.
type Config interface {
	Host() string
	Port() int
	Database() int
	Password() string
	Timeout() time.Duration
	PersistentIdentifier() string

	CompressionThreshold() int
	CompressionLibrary() string // gzip|lzf|lz4|snappy|none

	MaxConcurrency() int
	Lifetime() int
	MaxLifetime() int
	MinLifetime() int
	DisableLocking() bool
	BotLifetime() int
	BotFirstLifetime() int
	FirstLifetime() int
	BreakAfter() int
	FailAfter() int

	LogLevel() int

	SentinelServers() []string
	SentinelMaster() string
	SentinelVerifyMaster() bool
	SentinelConnectRetries() int
	SentinelPassword() string
}

// RequestContext is the Go-native replacement for reading REQUEST_METHOD,
// SERVER_NAME, REQUEST_URI, SCRIPT_NAME, and HTTP_USER_AGENT out of a
// process-global environment map. The host framework builds one per request
// and passes it into Read/Write; its absence only degrades diagnostics and
// bot classification, never correctness.
type RequestContext struct {
	Method     string
	Host       string
	URI        string
	ScriptName string
	UserAgent  string
}

// Descriptor renders the request the way it is recorded in the session
// record's req field: the method, a space, then host and URI joined with no
// separator (e.g. "GET example.com/cart") when Method and URI are both set,
// else the script name.
func (r RequestContext) Descriptor() string {
	if r.Method != "" && r.URI != "" {
		host := r.Host
		return r.Method + " " + host + r.URI
	}
	if r.ScriptName != "" {
		return r.ScriptName
	}
	return ""
}
