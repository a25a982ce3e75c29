package ingest

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"
)

// ExitAfter returns a fatal handler that terminates the process with status
// 1 after grace, leaving restarts to the process supervisor.
func ExitAfter(grace time.Duration) func(error) {
	return func(error) {
		time.Sleep(grace)
		os.Exit(1)
	}
}

// recoverFatal must be deferred directly. It turns a panic in a callback
// into a logged fatal fault.
func recoverFatal(logger *slog.Logger, where string, onFatal func(error)) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("panic in %s: %v", where, r)
	logger.Error("unrecoverable fault, exiting",
		"where", where,
		"error", err,
		"stack", string(debug.Stack()),
	)
	onFatal(err)
}
