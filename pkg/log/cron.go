package log

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// CronLogrusAdapter implements cron.Logger using logrus. Scheduler ticks are
// logged at debug level; job panics and errors at error level.
type CronLogrusAdapter struct {
	*logrus.Entry
}

// NewCronLogrusAdapter creates a new adapter tagged with component=cron
func NewCronLogrusAdapter(entry *logrus.Entry) *CronLogrusAdapter {
	return &CronLogrusAdapter{entry.WithField("component", "cron")}
}

// Info logs routine scheduler activity
func (l *CronLogrusAdapter) Info(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(kvFields(keysAndValues)).Debug(msg)
}

// Error logs a scheduler error
func (l *CronLogrusAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Entry.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

// cron passes alternating keys and values
func kvFields(kv []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
