package common

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestLogLevel is the level used by package tests. Logs are only shown for
// failed tests, so it is safe to keep it chatty.
const TestLogLevel = logrus.DebugLevel

// This can be used as the destination for a logger and it'll
// map them into calls to testing.T.Log, so that you only see
// the logging for failed tests. Lines written by goroutines that outlive the
// test are dropped.
type testLoggerAdapter struct {
	t      testing.TB
	prefix string

	mu   sync.Mutex
	done bool
}

func (a *testLoggerAdapter) Write(d []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(d)
	if a.done || n == 0 {
		return n, nil
	}
	if d[len(d)-1] == '\n' {
		d = d[:len(d)-1]
	}
	if a.prefix != "" {
		l := a.prefix + ": " + string(d)
		a.t.Log(l)
		return n, nil
	}
	a.t.Log(string(d))
	return n, nil
}

// NewTestLogger returns a logrus Logger that writes through t.Log.
func NewTestLogger(t testing.TB, level logrus.Level) *logrus.Logger {
	adapter := &testLoggerAdapter{t: t}
	t.Cleanup(func() {
		adapter.mu.Lock()
		adapter.done = true
		adapter.mu.Unlock()
	})

	logger := logrus.New()
	logger.Out = adapter
	logger.Level = level
	return logger
}

// NewTestEntry is NewTestLogger wrapped in an Entry with a prefix field.
func NewTestEntry(t testing.TB, level logrus.Level) *logrus.Entry {
	return NewTestLogger(t, level).WithField("prefix", t.Name())
}
