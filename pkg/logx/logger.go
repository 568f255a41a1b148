package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Logger writes structured events. A Logger derived from a Service follows
// every Service.Apply; the zero value discards everything.
type Logger struct {
	svc    *Service
	base   *zerolog.Logger
	fields []Field
}

// Nop returns a logger that never writes.
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{base: &zl}
}

// NewConsole is the bootstrap logger used before the log service exists.
func NewConsole(level string) Logger {
	return newStandalone(newConsoleWriter(os.Stdout), ParseLevel(level, zerolog.InfoLevel))
}

// NewWriter logs JSON lines to w.
func NewWriter(w io.Writer, level string) Logger {
	return newStandalone(w, ParseLevel(level, zerolog.DebugLevel))
}

func newStandalone(w io.Writer, level zerolog.Level) Logger {
	setGlobals()
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return Logger{base: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.base == nil && len(l.fields) == 0 }

// With returns a copy carrying fields on every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	l.fields = append(l.fields[:len(l.fields):len(l.fields)], fields...)
	return l
}

// Component is shorthand for With(String("comp", name)).
func (l Logger) Component(name string) Logger { return l.With(String("comp", name)) }

func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) target() *zerolog.Logger {
	switch {
	case l.svc != nil:
		zl := l.svc.current()
		return &zl
	case l.base != nil:
		return l.base
	}
	return nil
}

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	zl := l.target()
	if zl == nil {
		return
	}
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// emit <- Debug/Info/... <- caller
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, group := range [2][]Field{l.fields, fields} {
		for _, f := range group {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}

func setGlobals() {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: consoleTimeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

var levelNames = map[string]zerolog.Level{
	"DEBUG":   zerolog.DebugLevel,
	"INFO":    zerolog.InfoLevel,
	"WARN":    zerolog.WarnLevel,
	"WARNING": zerolog.WarnLevel,
	"ERROR":   zerolog.ErrorLevel,
}

// ParseLevel maps a config level name to a zerolog level, falling back to def.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	if lv, ok := levelNames[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return lv
	}
	return def
}
