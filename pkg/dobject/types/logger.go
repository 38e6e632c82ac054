package types

// Logger is the logging capability every core component is constructed
// with, shaped so any leveled logger can back a component written
// against it.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})

	Warn(v ...interface{})
	Warnf(format string, v ...interface{})

	Error(v ...interface{})
	Errorf(format string, v ...interface{})

	Debug(v ...interface{})
	Debugf(format string, v ...interface{})

	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})

	Panic(v ...interface{})
	Panicf(format string, v ...interface{})

	// ToggleDebug flips the logger's debug-level verbosity and returns
	// the new value.
	ToggleDebug(value bool) bool
}
