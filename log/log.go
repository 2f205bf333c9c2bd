package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	NoneLevel LogLevel = iota
	ErrorLevel
	WarnLevel
	InfoLevel
	TraceLevel
)

var (
	Level  = NoneLevel
	Logger = newLogger(os.Stderr)
)

func init() {
	if lvl := os.Getenv("BOLT_DRIVER_LOG"); lvl != "" {
		SetLevel(lvl)
	}
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "bolt").Logger()
}

// SetLevel sets the level from its name: trace, info, warn, error. Anything
// else disables logging.
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "trace":
		Level = TraceLevel
		if zerolog.GlobalLevel() > zerolog.TraceLevel {
			zerolog.SetGlobalLevel(zerolog.TraceLevel)
		}
	case "info":
		Level = InfoLevel
	case "warn":
		Level = WarnLevel
	case "error":
		Level = ErrorLevel
	default:
		Level = NoneLevel
	}
	Logger = Logger.Level(Level.zerolog())
}

// SetOutput sends the console formatted output to w
func SetOutput(w io.Writer) {
	Logger = newLogger(w).Level(Level.zerolog())
}

// SetLogger replaces the backing logger, e.g. with one writing JSON
func SetLogger(l zerolog.Logger) {
	Logger = l.Level(Level.zerolog())
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case TraceLevel:
		return zerolog.TraceLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

// With returns a child logger carrying key=value on every entry
func With(key, value string) zerolog.Logger {
	return Logger.With().Str(key, value).Logger()
}

func Trace(args ...interface{}) {
	Logger.Trace().Msg(fmt.Sprint(args...))
}

func Tracef(msg string, args ...interface{}) {
	Logger.Trace().Msgf(msg, args...)
}

func Info(args ...interface{}) {
	Logger.Info().Msg(fmt.Sprint(args...))
}

func Infof(msg string, args ...interface{}) {
	Logger.Info().Msgf(msg, args...)
}

func Warnf(msg string, args ...interface{}) {
	Logger.Warn().Msgf(msg, args...)
}

func Error(args ...interface{}) {
	Logger.Error().Msg(fmt.Sprint(args...))
}

func Errorf(msg string, args ...interface{}) {
	Logger.Error().Msgf(msg, args...)
}

func Fatalf(msg string, args ...interface{}) {
	Logger.WithLevel(zerolog.FatalLevel).Msgf(msg, args...)
	os.Exit(1)
}
