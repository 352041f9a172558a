package fetch

import (
	"fmt"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// LeveledLogger routes retryablehttp request and retry logs through logrus
type LeveledLogger struct {
	entry *logrus.Entry
}

var _ retryablehttp.LeveledLogger = LeveledLogger{}

// NewLeveledLogger returns a logger tagging every entry with component
func NewLeveledLogger(component string) LeveledLogger {
	return LeveledLogger{entry: logrus.WithField("component", component)}
}

func (l LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

func (l LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}

func (l LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Info(msg)
}

func (l LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l LeveledLogger) with(kv []interface{}) *logrus.Entry {
	if len(kv) == 0 {
		return l.entry
	}
	fields := make(logrus.Fields, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 < len(kv) {
			fields[key] = kv[i+1]
		} else {
			fields[key] = nil
		}
	}
	return l.entry.WithFields(fields)
}
