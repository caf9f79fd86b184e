package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Logger is a thin zerolog wrapper; a nil *Logger is not usable, use Nop.
type Logger struct {
	zl zerolog.Logger
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		lvl, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = lvl
	}

	out, tty, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: timeFormat,
			NoColor:    !tty || os.Getenv("NO_COLOR") != "",
		}
	}
	return &Logger{zl: zerolog.New(out).Level(level).With().Timestamp().Logger()}, nil
}

// openOutput resolves the output name and reports whether it is a terminal.
func openOutput(name string) (io.Writer, bool, error) {
	switch name {
	case "", "stdout":
		return os.Stdout, term.IsTerminal(int(os.Stdout.Fd())), nil
	case "stderr":
		return os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), nil
	}
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("could not open log file: %w", err)
	}
	return f, false, nil
}

// NewWithWriter builds a JSON logger over w. Used by tests that inspect output.
func NewWithWriter(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return &Logger{zl: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger carrying the given fields on every event.
func (l *Logger) With(fields ...Field) *Logger {
	kv := make([]interface{}, 0, 2*len(fields))
	for _, f := range fields {
		kv = append(kv, f.key, f.value)
	}
	return &Logger{zl: l.zl.With().Fields(kv).Logger()}
}

func (l *Logger) Debug(msg string, fields ...Field) { emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { emit(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { emit(l.zl.Error(), msg, fields) }

func emit(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		f.add(e)
	}
	e.Msg(msg)
}

// Field is one structured key. The typed constructors pick the zerolog
// encoder; value is kept for child loggers built by With.
type Field struct {
	key   string
	value interface{}
	add   func(*zerolog.Event)
}

func String(key, value string) Field {
	return Field{key, value, func(e *zerolog.Event) { e.Str(key, value) }}
}

func Int(key string, value int) Field {
	return Field{key, value, func(e *zerolog.Event) { e.Int(key, value) }}
}

func Float(key string, value float64) Field {
	return Field{key, value, func(e *zerolog.Event) { e.Float64(key, value) }}
}

func Bool(key string, value bool) Field {
	return Field{key, value, func(e *zerolog.Event) { e.Bool(key, value) }}
}

// Duration logs in milliseconds.
func Duration(key string, value time.Duration) Field {
	ms := value.Milliseconds()
	return Field{key, ms, func(e *zerolog.Event) { e.Int64(key, ms) }}
}

func Strings(key string, value []string) Field {
	return Field{key, value, func(e *zerolog.Event) { e.Strs(key, value) }}
}

func Any(key string, value interface{}) Field {
	return Field{key, value, func(e *zerolog.Event) { e.Interface(key, value) }}
}

// Error logs err under "error"; a nil error is skipped.
func Error(err error) Field {
	if err == nil {
		return Field{"error", nil, func(*zerolog.Event) {}}
	}
	return Field{"error", err.Error(), func(e *zerolog.Event) { e.Str("error", err.Error()) }}
}

// Stringer logs any fmt.Stringer (pattern ids, statuses) by its display name.
func Stringer(key string, v fmt.Stringer) Field {
	return String(key, v.String())
}
