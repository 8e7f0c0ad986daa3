package queueing

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every *ConfigurationError via errors.Is.
	ErrConfiguration = errors.New("queueing: invalid configuration")
	// ErrTransport matches every *TransportError via errors.Is.
	ErrTransport = errors.New("queueing: transport failure")
)

// ConfigurationError reports an invalid Provider parameter. It is returned
// only at construction time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("queueing: invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrConfiguration) succeed.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// TransportError wraps a backend failure during a queue operation. Op names
// the operation: "send", "receive", "commit" or "abandon" from a Client,
// "clear", "ensure" or "purge" from a Provider, and "connect" when a
// backend cannot be opened.
type TransportError struct {
	Op    string
	Queue string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("queueing: %s on queue %s: %v", e.Op, e.Queue, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) succeed.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsConfiguration reports whether err is, or wraps, a *ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
