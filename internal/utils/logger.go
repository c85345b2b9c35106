package utils

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	baseOnce sync.Once
	base     *logrus.Logger
)

func root() *logrus.Logger {
	baseOnce.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
		})
		if os.Getenv("DEBUG") == "true" {
			base.SetLevel(logrus.DebugLevel)
		} else {
			base.SetLevel(logrus.InfoLevel)
		}
	})
	return base
}

// SetVerbose 打开或关闭调试日志
func SetVerbose(verbose bool) {
	if verbose {
		root().SetLevel(logrus.DebugLevel)
		return
	}
	root().SetLevel(logrus.InfoLevel)
}

// Logger 带组件名的日志记录器
type Logger struct {
	name  string
	entry *logrus.Entry
}

func NewLogger(name string) *Logger {
	return &Logger{
		name:  name,
		entry: root().WithField("component", name),
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// With 返回附加字段的子记录器
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{
		name:  l.name,
		entry: l.entry.WithField(key, value),
	}
}
