// Package errors provides custom error types for the go-crdt-kit packages.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeDecodingFailure      ErrorCode = "DECODING_FAILURE"
	ErrCodePrecondition         ErrorCode = "PRECONDITION_VIOLATION"
	ErrCodeSerializationFailure ErrorCode = "SERIALIZATION_FAILURE"
	ErrCodeUnknownClient        ErrorCode = "UNKNOWN_CLIENT"
	ErrCodeStorageFailure       ErrorCode = "STORAGE_FAILURE"
	ErrCodeNetworkFailure       ErrorCode = "NETWORK_FAILURE"
)

// Operation represents the operation during which an error occurred
type Operation string

const (
	OpCreateDocument    Operation = "create_document"
	OpBeginTransaction  Operation = "begin_transaction"
	OpCommitTransaction Operation = "commit_transaction"
	OpGetRoot           Operation = "get_root"
	OpEncodeStateVector Operation = "encode_state_vector"
	OpEncodeDiff        Operation = "encode_diff"
	OpApplyUpdate       Operation = "apply_update"
	OpEncodeUpdate      Operation = "encode_update"
	OpSetState          Operation = "set_state"
	OpRemoveState       Operation = "remove_state"
	OpEdit              Operation = "edit"
	OpStore             Operation = "store"
	OpLoad              Operation = "load"
	OpCompact           Operation = "compact"
	OpTransport         Operation = "transport"
	OpClose             Operation = "close"
)

// KitError represents an error surfaced by the document, awareness or
// sync machinery.
type KitError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "document", "awareness", "codec")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *KitError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *KitError) Unwrap() error {
	return e.Err
}

// NewDecodingError creates a KitError for malformed or format-mismatched bytes.
// The target document or awareness instance is guaranteed to be unmodified.
func NewDecodingError(op Operation, component string, cause error) *KitError {
	return &KitError{
		Code:      ErrCodeDecodingFailure,
		Op:        op,
		Component: component,
		Err:       cause,
		Retryable: false,
	}
}

// NewPreconditionError creates a KitError for a caller contract violation,
// such as opening a second concurrent transaction.
func NewPreconditionError(op Operation, component string, cause error) *KitError {
	return &KitError{
		Code:      ErrCodePrecondition,
		Op:        op,
		Component: component,
		Err:       cause,
		Retryable: false,
	}
}

// NewSerializationError creates a KitError for a value that cannot be
// represented in the shared value format.
func NewSerializationError(op Operation, component string, cause error) *KitError {
	return &KitError{
		Code:      ErrCodeSerializationFailure,
		Op:        op,
		Component: component,
		Err:       cause,
		Retryable: false,
	}
}

// NewStorageError creates a new storage-related KitError
func NewStorageError(op Operation, cause error) *KitError {
	return &KitError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewNetworkError creates a new network-related KitError
func NewNetworkError(op Operation, cause error) *KitError {
	return &KitError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// New creates a new KitError
func New(op Operation, err error) *KitError {
	return &KitError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new KitError with component information
func NewWithComponent(op Operation, component string, err error) *KitError {
	return &KitError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// IsRetryable checks if an error is a retryable KitError
func IsRetryable(err error) bool {
	var kitErr *KitError
	if errors.As(err, &kitErr) {
		return kitErr.Retryable
	}
	return false
}

// IsCode checks whether err is a KitError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var kitErr *KitError
	if errors.As(err, &kitErr) {
		return kitErr.Code == code
	}
	return false
}
