package logger

import "github.com/user/framebrc/pkg/ports"

// NoopLogger discards every message. Quiet runs and tests use it.
type NoopLogger struct{}

// NewNoop creates a logger that discards every message.
func NewNoop() *NoopLogger {
	return &NoopLogger{}
}

func (*NoopLogger) Debug(string, ...interface{}) {}
func (*NoopLogger) Info(string, ...interface{})  {}
func (*NoopLogger) Warn(string, ...interface{})  {}
func (*NoopLogger) Error(string, ...interface{}) {}

// WithComponent returns the same logger; components are never printed.
func (l *NoopLogger) WithComponent(string) ports.Logger {
	return l
}

var _ ports.Logger = (*NoopLogger)(nil)
