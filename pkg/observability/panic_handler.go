package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic in a background goroutine and logs it.
// Call it in a defer; the panic is not re-raised.
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "audit retention")
//	    ...
//	}()
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic":   r,
			"stack":   string(debug.Stack()),
			"context": where,
		}).Error("PANIC recovered")
	}
}
