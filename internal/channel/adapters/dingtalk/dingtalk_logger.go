package dingtalk

import (
	"context"
	"fmt"
	"log/slog"

	sdklogger "github.com/memohai/dingtalk-stream-sdk-go/logger"
)

type streamSlogLogger struct {
	logger *slog.Logger
}

func newStreamSlogLogger(logger *slog.Logger) sdklogger.ILogger {
	return &streamSlogLogger{logger: logger}
}

func (l *streamSlogLogger) Debugf(format string, args ...interface{}) {
	l.log(slog.LevelDebug, format, args...)
}

func (l *streamSlogLogger) Infof(format string, args ...interface{}) {
	l.log(slog.LevelInfo, format, args...)
}

func (l *streamSlogLogger) Warningf(format string, args ...interface{}) {
	l.log(slog.LevelWarn, format, args...)
}

func (l *streamSlogLogger) Errorf(format string, args ...interface{}) {
	l.log(slog.LevelError, format, args...)
}

// Fatalf is logged at error level; the process is not terminated.
func (l *streamSlogLogger) Fatalf(format string, args ...interface{}) {
	l.log(slog.LevelError, format, args...)
}

func (l *streamSlogLogger) log(level slog.Level, format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Log(context.Background(), level, "dingtalk sdk", slog.String("detail", fmt.Sprintf(format, args...)))
}
