package app

import (
	"context"
	"os/signal"
	"syscall"
)

// ContextWithSignals creates a context that is cancelled when the application
// receives an interrupt or termination signal. A pass in flight stops at the
// next store call; nothing is rolled back.
func ContextWithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
