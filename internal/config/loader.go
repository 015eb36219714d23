// Package config loads the session handler's configuration from an optional
// YAML file plus environment variables, the same two-layer pattern the
// surrounding tree uses for its other config (env vars win, because that's
// what operators actually reach for when overriding one field in a
// container).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"redissess/src/session"
)

// File mirrors the on-disk YAML layout. Every field is optional; omitted
// sections keep the envconfig/struct-tag defaults.
type File struct {
	Redis struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database int    `yaml:"database"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	Sentinel struct {
		Servers        []string `yaml:"servers"`
		Master         string   `yaml:"master"`
		VerifyMaster   bool     `yaml:"verify_master"`
		ConnectRetries int      `yaml:"connect_retries"`
		Password       string   `yaml:"password"`
	} `yaml:"sentinel"`

	Session struct {
		PersistentIdentifier string `yaml:"persistent_identifier"`
		CompressionThreshold int    `yaml:"compression_threshold"`
		CompressionLibrary   string `yaml:"compression_library"`
		MaxConcurrency       int    `yaml:"max_concurrency"`
		Lifetime             int    `yaml:"lifetime"`
		MaxLifetime          int    `yaml:"max_lifetime"`
		MinLifetime          int    `yaml:"min_lifetime"`
		DisableLocking       bool   `yaml:"disable_locking"`
		BotLifetime          int    `yaml:"bot_lifetime"`
		BotFirstLifetime     int    `yaml:"bot_first_lifetime"`
		FirstLifetime        int    `yaml:"first_lifetime"`
		BreakAfter           int    `yaml:"break_after"`
		FailAfter            int    `yaml:"fail_after"`
	} `yaml:"session"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// loadFile reads and parses path. A missing file is not an error — it just
// means every setting falls through to its environment/default value.
func loadFile(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &f, nil
}

// Env holds the envconfig-tagged overrides. Any SESS_* variable set in the
// environment takes precedence over the YAML file's value.
type Env struct {
	RedisHost     string `envconfig:"SESS_REDIS_HOST"`
	RedisPort     int    `envconfig:"SESS_REDIS_PORT"`
	RedisDatabase int    `envconfig:"SESS_REDIS_DATABASE"`
	RedisPassword string `envconfig:"SESS_REDIS_PASSWORD"`
	RedisTimeout  int    `envconfig:"SESS_REDIS_TIMEOUT_MS" default:"1000"`

	SentinelServers        []string `envconfig:"SESS_SENTINEL_SERVERS"`
	SentinelMaster         string   `envconfig:"SESS_SENTINEL_MASTER"`
	SentinelVerifyMaster   bool     `envconfig:"SESS_SENTINEL_VERIFY_MASTER"`
	SentinelConnectRetries int      `envconfig:"SESS_SENTINEL_CONNECT_RETRIES"`
	SentinelPassword       string   `envconfig:"SESS_SENTINEL_PASSWORD"`

	PersistentIdentifier string `envconfig:"SESS_PERSISTENT_IDENTIFIER"`
	CompressionThreshold int    `envconfig:"SESS_COMPRESSION_THRESHOLD"`
	CompressionLibrary   string `envconfig:"SESS_COMPRESSION_LIBRARY"`
	MaxConcurrency       int    `envconfig:"SESS_MAX_CONCURRENCY"`
	Lifetime             int    `envconfig:"SESS_LIFETIME"`
	MaxLifetime          int    `envconfig:"SESS_MAX_LIFETIME"`
	MinLifetime          int    `envconfig:"SESS_MIN_LIFETIME"`
	DisableLocking       bool   `envconfig:"SESS_DISABLE_LOCKING"`
	BotLifetime          int    `envconfig:"SESS_BOT_LIFETIME"`
	BotFirstLifetime     int    `envconfig:"SESS_BOT_FIRST_LIFETIME"`
	FirstLifetime        int    `envconfig:"SESS_FIRST_LIFETIME"`
	BreakAfter           int    `envconfig:"SESS_BREAK_AFTER"`
	FailAfter            int    `envconfig:"SESS_FAIL_AFTER"`

	LogLevel string `envconfig:"SESS_LOG_LEVEL"`
}

func loadEnv() (*Env, error) {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return nil, fmt.Errorf("config: process environment: %v", err)
	}
	return &e, nil
}

// Provider implements session.Config by overlaying Env on top of File; a
// zero value from the environment variable falls back to the file's value,
// and a zero value there falls back to the literal default written into
// each accessor below.
type Provider struct {
	file *File
	env  *Env
}

// Load builds a Provider from an optional YAML file at path and the
// process environment.
func Load(path string) (*Provider, error) {
	file, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	env, err := loadEnv()
	if err != nil {
		return nil, err
	}
	return &Provider{file: file, env: env}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func (p *Provider) Host() string {
	return firstNonEmpty(p.env.RedisHost, p.file.Redis.Host, "127.0.0.1")
}
func (p *Provider) Port() int {
	return firstNonZero(p.env.RedisPort, p.file.Redis.Port, 6379)
}
func (p *Provider) Database() int {
	return firstNonZero(p.env.RedisDatabase, p.file.Redis.Database)
}
func (p *Provider) Password() string {
	return firstNonEmpty(p.env.RedisPassword, p.file.Redis.Password)
}
func (p *Provider) Timeout() time.Duration {
	ms := firstNonZero(p.env.RedisTimeout, 1000)
	return time.Duration(ms) * time.Millisecond
}
func (p *Provider) PersistentIdentifier() string {
	return firstNonEmpty(p.env.PersistentIdentifier, p.file.Session.PersistentIdentifier)
}
func (p *Provider) CompressionThreshold() int {
	return firstNonZero(p.env.CompressionThreshold, p.file.Session.CompressionThreshold, 1024)
}
func (p *Provider) CompressionLibrary() string {
	return firstNonEmpty(p.env.CompressionLibrary, p.file.Session.CompressionLibrary, "gzip")
}
func (p *Provider) MaxConcurrency() int {
	return firstNonZero(p.env.MaxConcurrency, p.file.Session.MaxConcurrency, 6)
}
func (p *Provider) Lifetime() int {
	return firstNonZero(p.env.Lifetime, p.file.Session.Lifetime, 1440)
}
func (p *Provider) MaxLifetime() int {
	return firstNonZero(p.env.MaxLifetime, p.file.Session.MaxLifetime, 2592000)
}
func (p *Provider) MinLifetime() int {
	return firstNonZero(p.env.MinLifetime, p.file.Session.MinLifetime, 60)
}
func (p *Provider) DisableLocking() bool {
	return p.env.DisableLocking || p.file.Session.DisableLocking
}
func (p *Provider) BotLifetime() int {
	return firstNonZero(p.env.BotLifetime, p.file.Session.BotLifetime, 7200)
}
func (p *Provider) BotFirstLifetime() int {
	return firstNonZero(p.env.BotFirstLifetime, p.file.Session.BotFirstLifetime, 60)
}
func (p *Provider) FirstLifetime() int {
	return firstNonZero(p.env.FirstLifetime, p.file.Session.FirstLifetime, 600)
}
func (p *Provider) BreakAfter() int {
	return firstNonZero(p.env.BreakAfter, p.file.Session.BreakAfter, 30)
}
func (p *Provider) FailAfter() int {
	return firstNonZero(p.env.FailAfter, p.file.Session.FailAfter, 15)
}
func (p *Provider) LogLevel() int {
	name := firstNonEmpty(p.env.LogLevel, p.file.Log.Level, "info")
	return logLevelFromName(name)
}
func (p *Provider) SentinelServers() []string {
	if len(p.env.SentinelServers) > 0 {
		return p.env.SentinelServers
	}
	return p.file.Sentinel.Servers
}
func (p *Provider) SentinelMaster() string {
	return firstNonEmpty(p.env.SentinelMaster, p.file.Sentinel.Master)
}
func (p *Provider) SentinelVerifyMaster() bool {
	return p.env.SentinelVerifyMaster || p.file.Sentinel.VerifyMaster
}
func (p *Provider) SentinelConnectRetries() int {
	return firstNonZero(p.env.SentinelConnectRetries, p.file.Sentinel.ConnectRetries)
}
func (p *Provider) SentinelPassword() string {
	return firstNonEmpty(p.env.SentinelPassword, p.file.Sentinel.Password)
}

var _ session.Config = (*Provider)(nil)

func logLevelFromName(name string) int {
	switch name {
	case "debug":
		return 7
	case "info":
		return 6
	case "notice":
		return 5
	case "warning", "warn":
		return 4
	case "err", "error":
		return 3
	case "critical":
		return 2
	case "alert":
		return 1
	case "emergency":
		return 0
	default:
		return 6
	}
}
