package definition

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

// NewDefaultLogger builds the logger used when the host application
// does not supply its own. It logs to stderr at info level with logrus'
// text formatter and full timestamps.
func NewDefaultLogger() *DefaultLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	l.SetLevel(logrus.InfoLevel)
	return &DefaultLogger{entry: logrus.NewEntry(l)}
}

// DefaultLogger implements types.Logger on top of logrus.
type DefaultLogger struct {
	entry *logrus.Entry
}

var _ types.Logger = (*DefaultLogger)(nil)

func (l *DefaultLogger) Info(v ...interface{}) { l.entry.Info(v...) }

func (l *DefaultLogger) Infof(format string, v ...interface{}) { l.entry.Infof(format, v...) }

func (l *DefaultLogger) Warn(v ...interface{}) { l.entry.Warn(v...) }

func (l *DefaultLogger) Warnf(format string, v ...interface{}) { l.entry.Warnf(format, v...) }

func (l *DefaultLogger) Error(v ...interface{}) { l.entry.Error(v...) }

func (l *DefaultLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }

func (l *DefaultLogger) Debug(v ...interface{}) { l.entry.Debug(v...) }

func (l *DefaultLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }

// ToggleDebug flips between info and debug verbosity, returning the new
// state.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	if value {
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.Logger.SetLevel(logrus.InfoLevel)
	}
	return value
}

// CallbackLogger adapts an arbitrary callback into types.Logger, for
// hosts that want to route log lines into their own sink instead of a
// file, per the "log sink: file or callback" configuration knob.
type CallbackLogger struct {
	Callback func(level string, message string)
	debug    bool
}

var _ types.Logger = (*CallbackLogger)(nil)

func NewCallbackLogger(cb func(level, message string)) *CallbackLogger {
	return &CallbackLogger{Callback: cb}
}

func (l *CallbackLogger) emit(level, format string, v ...interface{}) {
	l.Callback(level, fmt.Sprintf(format, v...))
}

func (l *CallbackLogger) Info(v ...interface{})                 { l.emit("INFO", fmt.Sprint(v...)) }
func (l *CallbackLogger) Infof(format string, v ...interface{}) { l.emit("INFO", format, v...) }
func (l *CallbackLogger) Warn(v ...interface{})                 { l.emit("WARN", fmt.Sprint(v...)) }
func (l *CallbackLogger) Warnf(format string, v ...interface{}) { l.emit("WARN", format, v...) }
func (l *CallbackLogger) Error(v ...interface{})                { l.emit("ERROR", fmt.Sprint(v...)) }
func (l *CallbackLogger) Errorf(format string, v ...interface{}) { l.emit("ERROR", format, v...) }
func (l *CallbackLogger) Debug(v ...interface{}) {
	if l.debug {
		l.emit("DEBUG", fmt.Sprint(v...))
	}
}
func (l *CallbackLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.emit("DEBUG", format, v...)
	}
}
func (l *CallbackLogger) ToggleDebug(value bool) bool {
	l.debug = value
	return l.debug
}
