package service

import (
	"io"
	"log/slog"
	"testing"

	"go.uber.org/goleak"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestMain verifies the health scheduler and capture engine leave no
// goroutines running once every test's Stop/Close has returned.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
