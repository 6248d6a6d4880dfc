package domain

import (
	"errors"
	"fmt"
)

// ConfigurationError aborts a run before any network activity starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// ErrUnreachable marks the expected, non-fatal absence of a device. It is
// never retried and never aborts the run.
var ErrUnreachable = errors.New("target unreachable")

// FailureKind classifies a collection error for retry decisions.
type FailureKind string

const (
	// KindAuth means credentials were rejected. Terminal per target/protocol.
	KindAuth FailureKind = "auth"
	// KindTransient means a timeout or reset. Retried with backoff.
	KindTransient FailureKind = "transient"
	// KindProtocol means the peer answered but could not be understood.
	KindProtocol FailureKind = "protocol"
)

// CollectionError is the typed failure a collector returns.
type CollectionError struct {
	Protocol string
	Target   string
	Kind     FailureKind
	Err      error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("%s collect %s: %s: %v", e.Protocol, e.Target, e.Kind, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// NewCollectionError builds a typed collection failure.
func NewCollectionError(protocol, target string, kind FailureKind, err error) *CollectionError {
	return &CollectionError{Protocol: protocol, Target: target, Kind: kind, Err: err}
}

// IsRetryable reports whether the collection scheduler should retry the
// attempt. Only transient failures qualify.
func IsRetryable(err error) bool {
	var ce *CollectionError
	if errors.As(err, &ce) {
		return ce.Kind == KindTransient
	}
	return false
}

// IsAuthFailure reports whether credentials were rejected.
func IsAuthFailure(err error) bool {
	var ce *CollectionError
	if errors.As(err, &ce) {
		return ce.Kind == KindAuth
	}
	return false
}
