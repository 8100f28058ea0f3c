package types

// Logger is the sink every component logs through. The library ships a
// logrus-backed default (see package definition) but hosts may supply
// any implementation, including one backed by a callback or a file, per
// the "log sink" configuration knob.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	ToggleDebug(value bool) bool
}
