package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeAuth        Code = 10
	CodeRateLimited Code = 11
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13

	// Route execution failures.
	CodeInvalidSequence   Code = 20
	CodeUnknownChain      Code = 21
	CodeUnrecognizedChain Code = 22
	CodeWalletRejected    Code = 23
	CodeReceipt           Code = 24
	CodePlanningService   Code = 25
	CodeSigner            Code = 26
)

// Error is a typed CLI error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// As returns the outermost typed error in err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HasCode reports whether any typed error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var target *Error
		if !errors.As(err, &target) {
			return false
		}
		if target.Code == code {
			return true
		}
		err = target.Cause
	}
	return false
}

func IsInvalidSequence(err error) bool   { return HasCode(err, CodeInvalidSequence) }
func IsUnknownChain(err error) bool      { return HasCode(err, CodeUnknownChain) }
func IsUnrecognizedChain(err error) bool { return HasCode(err, CodeUnrecognizedChain) }
func IsWalletRejected(err error) bool    { return HasCode(err, CodeWalletRejected) }
func IsReceipt(err error) bool           { return HasCode(err, CodeReceipt) }
func IsPlanningService(err error) bool   { return HasCode(err, CodePlanningService) }

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName is the stable string used in rendered error envelopes.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeInvalidSequence:
		return "invalid_sequence"
	case CodeUnknownChain:
		return "unknown_chain"
	case CodeUnrecognizedChain:
		return "unrecognized_chain"
	case CodeWalletRejected:
		return "wallet_rejected"
	case CodeReceipt:
		return "receipt_error"
	case CodePlanningService:
		return "planning_service_error"
	case CodeSigner:
		return "signer_error"
	default:
		return "internal_error"
	}
}
