// Package errors provides structured error handling for the sync service.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Ledger boundary errors
	CodeRemoteUnavailable Code = "REMOTE_UNAVAILABLE"
	CodeRejected          Code = "REJECTED"
	CodeUnsupported       Code = "UNSUPPORTED"
	CodeChannelDropped    Code = "CHANNEL_DROPPED"
	CodeTransactionFailed Code = "TRANSACTION_FAILED"

	// Engine lifecycle errors
	CodeAlreadyAttached Code = "ALREADY_ATTACHED"
	CodeNotAttached     Code = "NOT_ATTACHED"
	CodeDetached        Code = "DETACHED"
	CodeInvalidSnapshot Code = "INVALID_SNAPSHOT"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Configuration errors
	CodeInvalidConfig   Code = "INVALID_CONFIG"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
)

// Recoverable reports whether the code describes a transient condition that
// a later poll tick or refresh may clear.
func (c Code) Recoverable() bool {
	switch c {
	case CodeRemoteUnavailable, CodeChannelDropped, CodeInvalidSnapshot:
		return true
	default:
		return false
	}
}

// ProgrammerError reports whether the code is returned synchronously to the
// caller instead of being absorbed into the activity journal.
func (c Code) ProgrammerError() bool {
	switch c {
	case CodeAlreadyAttached, CodeInvalidConfig, CodeInvalidArgument:
		return true
	default:
		return false
	}
}
