package claude

import "errors"

// ErrCommandTimeout indicates the command exceeded its configured timeout
// and was forcibly terminated.
var ErrCommandTimeout = errors.New("command timed out")

// ErrCommandExecution indicates the tool failed to run: spawn failure or a
// non-zero exit.
var ErrCommandExecution = errors.New("command execution failed")

// ErrCommandParse indicates the tool ran but its structured response could
// not be parsed. Callers must be able to distinguish "returned garbage"
// from "failed to run".
var ErrCommandParse = errors.New("command response parse failed")
