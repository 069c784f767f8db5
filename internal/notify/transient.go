package notify

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as a communication failure worth one retry.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is a communication failure, a timeout, or
// a write to an already closed target. Everything else is fatal for a worker.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
