// Package logging builds the zerolog logger used across the application and
// the per-run Trace that collects human-readable diagnostics for a Summary.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration options
type Config struct {
	// Level is the minimum log level to output
	Level string

	// Format is the output format (console, json)
	Format string

	// Output is where to write logs (stderr, stdout, discard, or a file path)
	Output string

	// NoColor disables color output in console mode
	NoColor bool
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Level:   "info",
		Format:  "console",
		Output:  "stderr",
		NoColor: os.Getenv("NO_COLOR") != "",
	}
}

// New creates a logger from configuration. File outputs that cannot be
// opened fall back to stderr.
func New(cfg *Config) zerolog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var out io.Writer
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	case "discard", "none":
		out = io.Discard
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			out = os.Stderr
		} else {
			out = f
		}
	}

	if strings.ToLower(cfg.Format) != "json" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: cfg.NoColor, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
}

// ParseLevel converts a level name, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return l
}

// Trace is the append-only diagnostic stream of one reconciliation run.
// Lines are also forwarded to the structured logger.
type Trace struct {
	mu     sync.Mutex
	lines  []string
	logger zerolog.Logger
}

// NewTrace creates a Trace that mirrors to logger.
func NewTrace(logger zerolog.Logger) *Trace {
	return &Trace{logger: logger}
}

// Addf appends an informational line.
func (t *Trace) Addf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.append(msg)
	t.logger.Debug().Msg(msg)
}

// Warnf appends a warning line.
func (t *Trace) Warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.append("warning: " + msg)
	t.logger.Warn().Msg(msg)
}

func (t *Trace) append(line string) {
	t.mu.Lock()
	t.lines = append(t.lines, line)
	t.mu.Unlock()
}

// Lines returns a copy of the collected lines.
func (t *Trace) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

// Len returns the number of collected lines.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}
