package domain

import "errors"

var (
	// ErrStoreUnavailable wraps storage I/O failures during append, query or delete.
	ErrStoreUnavailable = errors.New("revision store unavailable")
	// ErrSubjectNotFound is returned when a revision's subject record cannot be resolved.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrConfigInvalid marks a malformed configuration value. It is only ever logged;
	// callers fall back to the configured default.
	ErrConfigInvalid = errors.New("invalid revision config")
	// ErrUnknownRecordType is returned for type tags that were never registered.
	ErrUnknownRecordType = errors.New("unknown record type")
)
