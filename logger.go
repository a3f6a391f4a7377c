package oauthsheriff

import (
	"log"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// Logger is the logging interface of this module (httpmw's middleware logs
// through it; the Engine itself does not log). Its shape is
// compatible with log/slog.Logger: structured key/value pairs rather than a
// printf format string. A nil Logger means silent.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DefaultLogger writes to the standard library's log package.
type DefaultLogger struct{}

func (l *DefaultLogger) Debug(msg string, args ...any) { log.Println(append([]any{"DEBUG", msg}, args...)...) }
func (l *DefaultLogger) Info(msg string, args ...any)  { log.Println(append([]any{"INFO", msg}, args...)...) }
func (l *DefaultLogger) Warn(msg string, args ...any)  { log.Println(append([]any{"WARN", msg}, args...)...) }
func (l *DefaultLogger) Error(msg string, args ...any) { log.Println(append([]any{"ERROR", msg}, args...)...) }

// NewZapLogger returns a Logger adapter for zap.SugaredLogger.
func NewZapLogger(l *zap.SugaredLogger) Logger {
	return &zapLoggerAdapter{l}
}

type zapLoggerAdapter struct{ l *zap.SugaredLogger }

func (z *zapLoggerAdapter) Debug(msg string, args ...any) { z.l.Debugw(msg, args...) }
func (z *zapLoggerAdapter) Info(msg string, args ...any)  { z.l.Infow(msg, args...) }
func (z *zapLoggerAdapter) Warn(msg string, args ...any)  { z.l.Warnw(msg, args...) }
func (z *zapLoggerAdapter) Error(msg string, args ...any) { z.l.Errorw(msg, args...) }

// NewZerologLogger returns a Logger adapter for zerolog.Logger.
func NewZerologLogger(l zerolog.Logger) Logger {
	return &zerologLoggerAdapter{l}
}

type zerologLoggerAdapter struct{ l zerolog.Logger }

func (z *zerologLoggerAdapter) event(e *zerolog.Event, msg string, args ...any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	e.Msg(msg)
}

func (z *zerologLoggerAdapter) Debug(msg string, args ...any) { z.event(z.l.Debug(), msg, args...) }
func (z *zerologLoggerAdapter) Info(msg string, args ...any)  { z.event(z.l.Info(), msg, args...) }
func (z *zerologLoggerAdapter) Warn(msg string, args ...any)  { z.event(z.l.Warn(), msg, args...) }
func (z *zerologLoggerAdapter) Error(msg string, args ...any) { z.event(z.l.Error(), msg, args...) }

// NewLogrusLogger returns a Logger adapter for logrus.FieldLogger.
func NewLogrusLogger(l logrus.FieldLogger) Logger {
	return &logrusLoggerAdapter{l}
}

type logrusLoggerAdapter struct{ l logrus.FieldLogger }

func (a *logrusLoggerAdapter) fields(args ...any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		f[key] = args[i+1]
	}
	return f
}

func (a *logrusLoggerAdapter) Debug(msg string, args ...any) { a.l.WithFields(a.fields(args...)).Debug(msg) }
func (a *logrusLoggerAdapter) Info(msg string, args ...any)  { a.l.WithFields(a.fields(args...)).Info(msg) }
func (a *logrusLoggerAdapter) Warn(msg string, args ...any)  { a.l.WithFields(a.fields(args...)).Warn(msg) }
func (a *logrusLoggerAdapter) Error(msg string, args ...any) { a.l.WithFields(a.fields(args...)).Error(msg) }
