// Package logger provides structured logging for the crawler, backed by
// zerolog. Components receive a Logger and never write to stdout
// directly.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging interface handed to every component.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	DebugWithFields(msg string, fields map[string]interface{})
	InfoWithFields(msg string, fields map[string]interface{})
	WarnWithFields(msg string, fields map[string]interface{})
	ErrorWithFields(msg string, fields map[string]interface{})
}

// Options controls logger construction.
type Options struct {
	Level string
	// File receives log output in addition to the console when set.
	File string
}

type zlogger struct {
	logger zerolog.Logger
}

// New creates a Logger from the given options.
func New(opts Options) (Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var output io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = zerolog.MultiLevelWriter(output, f)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zl := zerolog.New(output).Level(level).With().
		Timestamp().
		Str("app", "emocrawl").
		Logger()

	return &zlogger{logger: zl}, nil
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() Logger {
	return &zlogger{logger: zerolog.Nop()}
}

func parseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled":
		return zerolog.Disabled, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

func (l *zlogger) Debug(msg string) { l.logger.Debug().Msg(msg) }
func (l *zlogger) Info(msg string)  { l.logger.Info().Msg(msg) }
func (l *zlogger) Warn(msg string)  { l.logger.Warn().Msg(msg) }
func (l *zlogger) Error(msg string) { l.logger.Error().Msg(msg) }

func (l *zlogger) WithField(key string, value interface{}) Logger {
	return &zlogger{logger: l.logger.With().Interface(key, value).Logger()}
}

func (l *zlogger) WithFields(fields map[string]interface{}) Logger {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &zlogger{logger: ctx.Logger()}
}

func (l *zlogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return &zlogger{logger: l.logger.With().Str("error", err.Error()).Logger()}
}

func (l *zlogger) DebugWithFields(msg string, fields map[string]interface{}) {
	emit(l.logger.Debug(), msg, fields)
}

func (l *zlogger) InfoWithFields(msg string, fields map[string]interface{}) {
	emit(l.logger.Info(), msg, fields)
}

func (l *zlogger) WarnWithFields(msg string, fields map[string]interface{}) {
	emit(l.logger.Warn(), msg, fields)
}

func (l *zlogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	emit(l.logger.Error(), msg, fields)
}

func emit(event *zerolog.Event, msg string, fields map[string]interface{}) {
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			event = event.Str(k, val)
		case int:
			event = event.Int(k, val)
		case int64:
			event = event.Int64(k, val)
		case float64:
			event = event.Float64(k, val)
		case bool:
			event = event.Bool(k, val)
		case time.Duration:
			event = event.Dur(k, val)
		case time.Time:
			event = event.Time(k, val)
		case error:
			event = event.AnErr(k, val)
		default:
			event = event.Interface(k, val)
		}
	}
	event.Msg(msg)
}
