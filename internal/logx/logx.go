package logx

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/dose3d/drf-crud-client/internal/constants"
	"github.com/dose3d/drf-crud-client/pkg/drf"
)

// Config selects the handler and minimum level.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

// New returns a configured slog.Logger. Empty fields fall back to info
// level, text format and stderr.
func New(cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(out, opts)
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("%w: %q", constants.ErrInvalidLogFormat, cfg.Format)
	}

	return slog.New(handler), nil
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(lvl string) (slog.Level, error) {
	switch strings.ToLower(lvl) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", constants.ErrInvalidLogLevel, lvl)
	}
}

// Adapter exposes a slog.Logger as a drf.Logger.
type Adapter struct {
	logger *slog.Logger
}

var _ drf.Logger = (*Adapter)(nil)

// NewAdapter wraps logger. A nil logger uses slog.Default().
func NewAdapter(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{logger: logger}
}

func (a *Adapter) Debug(msg string, fields map[string]interface{}) {
	a.logger.Debug(msg, attrs(fields)...)
}

func (a *Adapter) Info(msg string, fields map[string]interface{}) {
	a.logger.Info(msg, attrs(fields)...)
}

func (a *Adapter) Warn(msg string, fields map[string]interface{}) {
	a.logger.Warn(msg, attrs(fields)...)
}

func (a *Adapter) Error(msg string, fields map[string]interface{}) {
	a.logger.Error(msg, attrs(fields)...)
}

// attrs sorts keys so output is stable.
func attrs(fields map[string]interface{}) []any {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, slog.Any(k, fields[k]))
	}

	return args
}
