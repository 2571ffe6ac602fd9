package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger

	// Logs captures every entry written to Logger.
	Logs *test.Hook
}

// NewTestHelper creates a test helper with a debug-level logger whose entries are captured.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
		Logs:   test.NewLocal(logger),
	}
}

// EntriesAt returns the captured messages logged at level.
func (h *TestHelper) EntriesAt(level logrus.Level) []string {
	var out []string
	for _, e := range h.Logs.AllEntries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}
