package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrAccessDenied   = errors.New("access denied")
	ErrDeviceNotFound = errors.New("device not found")
	ErrInvalidCommand = errors.New("invalid command")
)

// ConfigurationError marks signing inputs missing from configuration.
// It is fatal for the request: a blank credential would still produce a
// syntactically valid but unauthenticated URL.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

type TransportStage string

const (
	StageConnect   TransportStage = "connect"
	StageSubscribe TransportStage = "subscribe"
	StagePublish   TransportStage = "publish"
)

// TransportError wraps a broker-level failure with the protocol stage it
// happened at. It never crosses the service boundary unwrapped.
type TransportError struct {
	Stage TransportStage
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mqtt %s: %s", e.Stage, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
