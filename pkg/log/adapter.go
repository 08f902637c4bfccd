package log

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogrusAdapter implements badger.Logger interface using logrus.
// Badger's informational chatter is demoted to debug so scan logs stay readable.
type BadgerLogrusAdapter struct {
	*logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter tagged with component=badger
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry.WithField("component", "badger")}
}

// Errorf logs an error message
func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{}) { l.Entry.Errorf(trim(f), v...) }

// Warningf logs a warning message
func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) { l.Entry.Warnf(trim(f), v...) }

// Infof logs badger info messages at debug level
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{}) { l.Entry.Debugf(trim(f), v...) }

// Debugf logs a debug message
func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{}) { l.Entry.Debugf(trim(f), v...) }

// badger terminates its format strings with newlines
func trim(f string) string { return strings.TrimRight(f, "\n") }

// NewLogger builds the application logger at the given level. Unknown levels
// fall back to info and are reported once the logger exists.
func NewLogger(levelStr string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
		logger.Warnf("Invalid log level '%s', using 'info'. Error: %v", levelStr, err)
		return logger
	}
	logger.SetLevel(level)
	return logger
}

// DiscardEntry returns an entry that drops everything, used when a component is built without a logger.
func DiscardEntry() *logrus.Entry {
	return logrus.NewEntry(&logrus.Logger{Out: io.Discard, Formatter: new(logrus.TextFormatter), Level: logrus.PanicLevel})
}
