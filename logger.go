package rewind

import (
	"context"
	"os"

	sqldblogger "github.com/simukti/sqldb-logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	logger *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger to the Logger port.
func NewZapLogger(logger *zap.Logger) Logger {
	return &zapLogger{logger: logger.Sugar()}
}

func newDefaultLogger() Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:        "ts",
			MessageKey:     "msg",
			LevelKey:       "level",
			NameKey:        "logger",
			EncodeTime:     zapcore.RFC3339TimeEncoder,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			LineEnding:     zapcore.DefaultLineEnding,
		}),
		zapcore.AddSync(os.Stderr),
		zapcore.InfoLevel,
	)
	return NewZapLogger(zap.New(core).Named("rewind"))
}

func (l *zapLogger) Debug(msg string, args ...any) {
	l.logger.Debugw(msg, args...)
}

func (l *zapLogger) Info(msg string, args ...any) {
	l.logger.Infow(msg, args...)
}

func (l *zapLogger) Warn(msg string, args ...any) {
	l.logger.Warnw(msg, args...)
}

func (l *zapLogger) Error(msg string, args ...any) {
	l.logger.Errorw(msg, args...)
}

// queryLogger forwards sqldb-logger events to the Logger port.
type queryLogger struct {
	logger Logger
}

func (q *queryLogger) Log(_ context.Context, level sqldblogger.Level, msg string, data map[string]interface{}) {
	args := make([]any, 0, len(data)*2)
	for k, v := range data {
		args = append(args, k, v)
	}

	if level == sqldblogger.LevelError {
		q.logger.Error(msg, args...)
		return
	}
	q.logger.Debug(msg, args...)
}

var _ sqldblogger.Logger = (*queryLogger)(nil)
