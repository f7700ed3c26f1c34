package gologger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/rs/zerolog"
)

// ZerologConfig selects the output format ("json" or "console") and level.
type ZerologConfig struct {
	Format string
	Level  string
	Writer io.Writer
}

// ZerologLogger implements glog.Logger and glog.FieldsLogger on zerolog.
// Variadic args are read as key/value pairs.
type ZerologLogger struct {
	logger zerolog.Logger
}

func NewZerologLogger(cfg ZerologConfig) *ZerologLogger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stderr
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(writer).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	return &ZerologLogger{logger: logger}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *ZerologLogger) Trace(msg string, args ...any) { l.write(l.logger.Trace(), msg, args) }
func (l *ZerologLogger) Debug(msg string, args ...any) { l.write(l.logger.Debug(), msg, args) }
func (l *ZerologLogger) Info(msg string, args ...any)  { l.write(l.logger.Info(), msg, args) }
func (l *ZerologLogger) Warn(msg string, args ...any)  { l.write(l.logger.Warn(), msg, args) }
func (l *ZerologLogger) Error(msg string, args ...any) { l.write(l.logger.Error(), msg, args) }

// Fatal logs at fatal level without exiting; process exit stays with main.
func (l *ZerologLogger) Fatal(msg string, args ...any) {
	l.write(l.logger.WithLevel(zerolog.FatalLevel), msg, args)
}

func (l *ZerologLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	return &ZerologLogger{logger: l.logger.With().Ctx(ctx).Logger()}
}

func (l *ZerologLogger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	return &ZerologLogger{logger: l.logger.With().Fields(fields).Logger()}
}

// GetLogger returns a child logger tagged with component=name.
func (l *ZerologLogger) GetLogger(name string) glog.Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &ZerologLogger{logger: l.logger.With().Str("component", name).Logger()}
}

func (l *ZerologLogger) write(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			event = event.Interface("arg", args[i])
			break
		}
		if err, ok := args[i+1].(error); ok {
			event = event.AnErr(key, err)
			continue
		}
		event = event.Interface(key, args[i+1])
	}
	event.Msg(msg)
}

var (
	_ glog.Logger         = (*ZerologLogger)(nil)
	_ glog.FieldsLogger   = (*ZerologLogger)(nil)
	_ glog.LoggerProvider = (*ZerologLogger)(nil)
)
