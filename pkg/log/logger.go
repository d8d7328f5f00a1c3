// Package log provides a logger interface for logger libraries so that the
// rest of the codebase does not depend on any of them directly. It includes
// a default implementation backed by logrus.
package log

// Logger serves as an adapter interface for logger libraries so that
// callers do not depend on any of them directly.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
