package supervisor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrReadyTimeout is wrapped by LaunchError when the engine never became ready.
var ErrReadyTimeout = errors.New("engine not ready before deadline")

// PortInUseError means the target port is held, by a foreign listener or by
// an engine this supervisor already owns.
type PortInUseError struct {
	Port       int
	Reason     string
	Invocation []string
}

func (e *PortInUseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("port %d is in use", e.Port)
	}
	return fmt.Sprintf("port %d is in use: %s", e.Port, e.Reason)
}

// LaunchError is a failure to start the engine or to see it become ready.
type LaunchError struct {
	Invocation []string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch failed: %v (invocation: %s)", e.Err, strings.Join(e.Invocation, " "))
}

func (e *LaunchError) Unwrap() error { return e.Err }

// CrashedError is an engine exit the supervisor did not ask for.
type CrashedError struct {
	ExitCode   int
	StderrTail string
	Invocation []string
}

func (e *CrashedError) Error() string {
	msg := fmt.Sprintf("engine exited with code %d (invocation: %s)", e.ExitCode, strings.Join(e.Invocation, " "))
	if tail := strings.TrimSpace(e.StderrTail); tail != "" {
		msg += "; stderr tail: " + tail
	}
	return msg
}

// IsPortInUse reports whether err is or wraps a PortInUseError.
func IsPortInUse(err error) bool {
	var e *PortInUseError
	return errors.As(err, &e)
}

// IsLaunchError reports whether err is or wraps a LaunchError.
func IsLaunchError(err error) bool {
	var e *LaunchError
	return errors.As(err, &e)
}

// IsCrashed reports whether err is or wraps a CrashedError.
func IsCrashed(err error) bool {
	var e *CrashedError
	return errors.As(err, &e)
}

// IsReadyTimeout reports whether a launch gave up waiting for readiness.
func IsReadyTimeout(err error) bool { return errors.Is(err, ErrReadyTimeout) }

// InvocationOf returns the invocation carried by a launch-time error, if any.
func InvocationOf(err error) []string {
	var le *LaunchError
	if errors.As(err, &le) {
		return le.Invocation
	}
	var ce *CrashedError
	if errors.As(err, &ce) {
		return ce.Invocation
	}
	var pe *PortInUseError
	if errors.As(err, &pe) {
		return pe.Invocation
	}
	return nil
}
