// Package recovery keeps a panicking helper goroutine (radio reader, hub
// writer, event printer) from taking the node down.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers a panic and logs it with its stack. Defer it first
// thing in a goroutine:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "ws.readLoop")
//	    ...
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// RecoverWithCallback recovers a panic, logs it and then calls onPanic with
// the recovered value. The run command uses it to cancel the node when the
// event printer dies.
func RecoverWithCallback(logger *slog.Logger, name string, onPanic func(recovered any)) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
		if onPanic != nil {
			onPanic(r)
		}
	}
}

func logPanic(logger *slog.Logger, name string, r any) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("panic recovered",
		"goroutine", name,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()))
}
