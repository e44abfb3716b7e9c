// Package errors provides structured error handling for the hosting engine.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Turn submission errors
	CodeFormatError    Code = "FORMAT_ERROR"
	CodeMailMismatch   Code = "MAIL_MISMATCH"
	CodeWrongGameState Code = "WRONG_GAME_STATE"
	CodeWrongTurnState Code = "WRONG_TURN_STATE"

	// Access errors
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeUserRequired     Code = "USER_REQUIRED"

	// Entity errors
	CodeNotFound       Code = "NOT_FOUND"
	CodeSlotOutOfRange Code = "SLOT_OUT_OF_RANGE"
	CodeSlotEmpty      Code = "SLOT_EMPTY"
	CodeGameNameEmpty  Code = "GAME_NAME_EMPTY"

	// Storage, filesystem, and subprocess failures not attributable to
	// caller input.
	CodeInternal Code = "INTERNAL"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeFormatError,
		CodeSlotOutOfRange,
		CodeGameNameEmpty,
		CodeUserRequired:
		return codes.InvalidArgument

	// NotFound - missing entities
	case CodeNotFound,
		CodeSlotEmpty:
		return codes.NotFound

	// PermissionDenied - caller is not allowed to act on the slot
	case CodePermissionDenied,
		CodeMailMismatch:
		return codes.PermissionDenied

	// FailedPrecondition - entity exists but is in the wrong state
	case CodeWrongGameState,
		CodeWrongTurnState:
		return codes.FailedPrecondition

	// Internal - infrastructure failures
	case CodeInternal:
		return codes.Internal

	default:
		return codes.Unknown
	}
}
