// Package errs defines the broker's error taxonomy. Every kind is
// a distinct type so callers can discriminate with errors.As, and every
// kind wraps an optional underlying cause so the original failure is never
// lost in translation.
package errs

import "fmt"

// TransportError wraps a connect failure, unexpected close, or framing
// error. It is always fatal to the Client and surfaces as session
// termination.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// NotConnectedError is returned when a send is attempted on a non-connected
// transport.
type NotConnectedError struct{}

func (e *NotConnectedError) Error() string { return "not connected" }

// TimeoutError is returned when no response arrives within the per-request
// timeout.
type TimeoutError struct {
	Command string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("request %q timed out", e.Command) }

// AdapterError wraps an adapter-reported success:false response.
type AdapterError struct {
	Command string
	Message string
}

func (e *AdapterError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request %s failed", e.Command)
}

// UnsupportedError is returned when a capability gate rejects an optional
// command.
type UnsupportedError struct {
	Command string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("adapter does not support %q", e.Command)
}

// SessionStoppedError is returned to any request outstanding when the
// Client is stopped.
type SessionStoppedError struct{}

func (e *SessionStoppedError) Error() string { return "session stopped" }

// ConfigError wraps a launch.json parse or schema error.
type ConfigError struct {
	Path  string
	Cause error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error (%s): %v", e.Path, e.Cause) }
func (e *ConfigError) Unwrap() error { return e.Cause }

// AdapterNotFoundError is returned for an unknown or unresolved adapter
// type.
type AdapterNotFoundError struct {
	Type string
}

func (e *AdapterNotFoundError) Error() string { return fmt.Sprintf("adapter not found: %q", e.Type) }
