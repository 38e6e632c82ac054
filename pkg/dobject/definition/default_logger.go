package definition

import (
	"github.com/sirupsen/logrus"

	"github.com/dobject-go/dobject/pkg/dobject/types"
)

// DefaultLogger backs types.Logger with logrus, giving structured,
// leveled output tagged with the owning peer's name.
type DefaultLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger returns a logger tagged with name (e.g. the object or
// component name), at info level.
func NewDefaultLogger(name string) *DefaultLogger {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	return &DefaultLogger{entry: log.WithField("component", name)}
}

func (l *DefaultLogger) Info(v ...interface{})  { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{}) { l.entry.Infof(format, v...) }

func (l *DefaultLogger) Warn(v ...interface{})  { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{}) { l.entry.Warnf(format, v...) }

func (l *DefaultLogger) Error(v ...interface{}) { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }

func (l *DefaultLogger) Debug(v ...interface{}) { l.entry.Debug(v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }

func (l *DefaultLogger) Fatal(v ...interface{}) { l.entry.Fatal(v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{}) { l.entry.Fatalf(format, v...) }

func (l *DefaultLogger) Panic(v ...interface{}) { l.entry.Panic(v...) }
func (l *DefaultLogger) Panicf(format string, v ...interface{}) { l.entry.Panicf(format, v...) }

// ToggleDebug flips between info and debug verbosity.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	logger := l.entry.Logger
	if value {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return value
}

var _ types.Logger = (*DefaultLogger)(nil)
