package taskproc

import (
	"errors"
	"io"
	"net"
)

// Domain errors for the taskproc package.
var (
	// ErrTimeout is returned by StoreObject when the worker did not start
	// the mutation within the configured budget. The mutation is abandoned.
	ErrTimeout = errors.New("taskproc: timed out waiting for worker")

	// ErrStopped is returned when work is submitted after the worker exited.
	ErrStopped = errors.New("taskproc: processor stopped")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("taskproc: processor already running")

	// ErrTransport marks socket-level failures. Connections wrap their I/O
	// errors with it so the processor logs them quietly.
	ErrTransport = errors.New("taskproc: transport error")

	// ErrHandleInUse is returned when registering a second connection
	// under a live handle.
	ErrHandleInUse = errors.New("taskproc: handle already registered")

	// ErrNotLoggedIn is reported to connections that change a password
	// before logging in.
	ErrNotLoggedIn = errors.New("taskproc: not logged in")
)

// isBenign reports whether err only means the peer went away.
func isBenign(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe)
}
