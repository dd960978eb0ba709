package supervisor

import "errors"

// ErrProcessStart indicates the external executable could not be spawned or
// did not report liveness within the start timeout.
var ErrProcessStart = errors.New("process start failed")

// ErrProcessCrash indicates the process exited unexpectedly mid-command.
// The interrupted task returns to the store's retry path.
var ErrProcessCrash = errors.New("process crashed")

// ErrShutdown rejects pending and in-flight commands when the supervisor is
// stopping.
var ErrShutdown = errors.New("supervisor shutting down")

// ErrMaxRetriesExceeded indicates the restart budget is exhausted. The
// agent stays in the terminal Error state until an operator intervenes.
var ErrMaxRetriesExceeded = errors.New("max restarts exceeded")

// ErrNotRunning indicates a command was issued while the process is not in
// the Running state.
var ErrNotRunning = errors.New("process not running")
