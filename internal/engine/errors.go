package engine

import (
	"errors"
	"fmt"
)

// SyncError is the single failure a sync pass returns to its caller.
//
// Phase names the step that failed; Cause carries the original error and is
// reachable through errors.Is / errors.As.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Phase is the orchestrator step in progress, e.g. "prescan".
	Phase string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// SyncErrorCode categorizes sync failures.
type SyncErrorCode string

const (
	// ErrCodeInvalidArgument indicates a caller-contract violation,
	// rejected before any session was opened.
	ErrCodeInvalidArgument SyncErrorCode = "INVALID_ARGUMENT"

	// ErrCodeStateRead indicates the target's sync state could not be read.
	ErrCodeStateRead SyncErrorCode = "STATE_READ_FAILED"

	// ErrCodeSession indicates a session could not be opened or committed.
	ErrCodeSession SyncErrorCode = "SESSION_FAILED"

	// ErrCodeEnumeration indicates the target or source enumeration failed.
	ErrCodeEnumeration SyncErrorCode = "ENUMERATION_FAILED"

	// ErrCodeScan indicates the copy or incremental scan failed.
	ErrCodeScan SyncErrorCode = "SCAN_FAILED"

	// ErrCodeDispatch indicates a target apply call failed.
	ErrCodeDispatch SyncErrorCode = "DISPATCH_FAILED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Phase != "" {
		msg = fmt.Sprintf("%s: %s (phase=%s)", e.Code, e.Message, e.Phase)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the cause.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

func newSyncError(code SyncErrorCode, phase, message string, cause error) *SyncError {
	return &SyncError{Code: code, Phase: phase, Message: message, Cause: cause}
}

// IsInvalidArgument returns true if err is a caller-contract violation.
// Uses errors.As to handle wrapped errors.
func IsInvalidArgument(err error) bool {
	return hasCode(err, ErrCodeInvalidArgument)
}

// IsSessionError returns true if err failed while opening or committing a session.
func IsSessionError(err error) bool {
	return hasCode(err, ErrCodeSession)
}

// IsScanError returns true if err failed during enumeration or scanning.
func IsScanError(err error) bool {
	return hasCode(err, ErrCodeEnumeration) || hasCode(err, ErrCodeScan)
}

// IsDispatchError returns true if err failed while applying to the target.
func IsDispatchError(err error) bool {
	return hasCode(err, ErrCodeDispatch)
}

func hasCode(err error, code SyncErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
