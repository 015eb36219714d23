// Package logger adapts the session handler's logging.Logger contract onto
// zerolog, the structured logger the teacher codebase uses throughout.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"redissess/src/logging"
)

// Config controls where and how the adapter writes log lines.
type Config struct {
	Level      string `envconfig:"LOG_LEVEL" yaml:"level" default:"info"`
	Format     string `envconfig:"LOG_FORMAT" yaml:"format" default:"json"`
	Output     string `envconfig:"LOG_OUTPUT" yaml:"output" default:"stdout"`
	FilePath   string `envconfig:"LOG_FILE_PATH" yaml:"file_path" default:"logs/sessions.log"`
	TimeFormat string `envconfig:"LOG_TIME_FORMAT" yaml:"time_format" default:"rfc3339"`
}

// ZerologAdapter implements logging.Logger over a zerolog.Logger instance.
type ZerologAdapter struct {
	zl    zerolog.Logger
	level logging.Level
}

// New builds a ZerologAdapter from Config, matching the output/format/file
// switch the teacher's src/logger.InitLogger used for its global logger,
// but returning an owned instance instead of mutating a package global.
func New(cfg Config) (*ZerologAdapter, error) {
	switch strings.ToLower(cfg.TimeFormat) {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "iso8601":
		zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"
	default:
		zerolog.TimeFieldFormat = time.RFC3339
	}

	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	case "file":
		if err := os.MkdirAll("logs", 0o755); err != nil {
			return nil, fmt.Errorf("logger: create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logger: open log file %q: %w", cfg.FilePath, err)
		}
		output = f
	default:
		output = os.Stdout
	}

	if strings.ToLower(cfg.Format) == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(output).With().Timestamp().Logger()

	a := &ZerologAdapter{zl: zl, level: logging.Info}
	a.SetLogLevel(levelFromName(cfg.Level))
	return a, nil
}

func levelFromName(name string) logging.Level {
	switch strings.ToLower(name) {
	case "emergency":
		return logging.Emergency
	case "alert":
		return logging.Alert
	case "critical":
		return logging.Critical
	case "error", "err":
		return logging.Err
	case "warning", "warn":
		return logging.Warning
	case "notice":
		return logging.Notice
	case "debug":
		return logging.Debug
	default:
		return logging.Info
	}
}

// SetLogLevel adjusts the minimum severity that reaches the sink. Syslog's
// emergency/alert/critical tiers all map onto zerolog's panic level since
// zerolog has no equivalents finer than that.
func (a *ZerologAdapter) SetLogLevel(level logging.Level) {
	a.level = level
	a.zl = a.zl.Level(zerologLevel(level))
}

func zerologLevel(level logging.Level) zerolog.Level {
	switch level {
	case logging.Emergency, logging.Alert, logging.Critical:
		return zerolog.PanicLevel
	case logging.Err:
		return zerolog.ErrorLevel
	case logging.Warning:
		return zerolog.WarnLevel
	case logging.Notice, logging.Info:
		return zerolog.InfoLevel
	case logging.Debug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// Log writes message at the given severity.
func (a *ZerologAdapter) Log(message string, level logging.Level) {
	a.zl.WithLevel(zerologLevel(level)).Str("severity", level.String()).Msg(message)
}

// LogException records err at error severity, matching the consumed
// interface's logException.
func (a *ZerologAdapter) LogException(err error) {
	if err == nil {
		return
	}
	a.zl.Error().Err(err).Msg("exception")
}
