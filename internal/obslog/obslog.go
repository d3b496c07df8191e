// Package obslog is a thin structured-logging field-builder around a
// package-level *logrus.Logger, used for the ambient concerns a CLI alone
// doesn't exercise: cache eviction, schema reload, pass timings.
package obslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("GRAPHSQL_LOG_LEVEL")); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// SetOutput redirects every subsequent log line; tests use this to capture
// output instead of writing to stderr.
func SetOutput(w interface {
	Write([]byte) (int, error)
}) {
	log.SetOutput(w)
}

// Fields is the field-builder returned by With, chained into a single log
// call.
type Fields = logrus.Fields

// With starts a field-builder entry scoped to component (e.g. "cache",
// "schema", "analyzer").
func With(component string) *logrus.Entry {
	return log.WithField("component", component)
}

// CacheEvent logs a Query Cache lifecycle event (hit/miss/put/evict) at Info.
func CacheEvent(event, key string, fields Fields) {
	entry := With("cache").WithField("event", event).WithField("key", key)
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Info("query cache event")
}

// SchemaEvent logs a Schema Catalog lifecycle event (load/reload) at Info.
func SchemaEvent(event, name string, fields Fields) {
	entry := With("schema").WithField("event", event).WithField("schema", name)
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Info("schema catalog event")
}

// PassTiming logs one compilation stage's duration at Debug, keyed by the
// pass name (e.g. "analyzer.pattern_resolver").
func PassTiming(pass string, nanos int64) {
	With("pipeline").WithField("pass", pass).WithField("duration_ns", nanos).Debug("pass timing")
}
