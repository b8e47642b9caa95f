package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes errors raised by the analysis pipeline.
type Kind int

const (
	// Internal is an unexpected fault in a scorer. It fails the whole request.
	Internal Kind = iota
	// Input means the URL or keyword was missing or malformed (HTTP 400).
	Input
	// Fetch means the primary page could not be retrieved.
	Fetch
	// AuxiliaryFetch covers robots.txt, sitemap and per-link probe failures.
	// These are converted into absence signals and never reach the caller.
	AuxiliaryFetch
	// ExternalService covers page-speed and completion provider failures.
	ExternalService
	// Unauthorized means the caller is not entitled to run an analysis (HTTP 403).
	Unauthorized
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "InputError"
	case Fetch:
		return "FetchError"
	case AuxiliaryFetch:
		return "AuxiliaryFetchError"
	case ExternalService:
		return "ExternalServiceError"
	case Unauthorized:
		return "Unauthorized"
	default:
		return "InternalError"
	}
}

// Error carries a category, a user-facing message and the original cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// InputError reports a request that was rejected before any fetch.
func InputError(message string) *Error {
	return &Error{Kind: Input, Message: message}
}

// FetchError wraps a primary page fetch failure.
func FetchError(cause error) *Error {
	return &Error{Kind: Fetch, Message: "The page could not be fetched", Cause: cause}
}

// AuxiliaryError wraps a robots.txt, sitemap or probe failure.
func AuxiliaryError(resource string, cause error) *Error {
	return &Error{Kind: AuxiliaryFetch, Message: resource + " unavailable", Cause: cause}
}

// ExternalServiceError wraps a page-speed or completion provider failure.
func ExternalServiceError(service string, cause error) *Error {
	return &Error{Kind: ExternalService, Message: service + " failed", Cause: cause}
}

// InternalError wraps a defect. The message shown to callers stays generic.
func InternalError(cause error) *Error {
	return &Error{Kind: Internal, Message: "An unexpected error occurred during analysis", Cause: cause}
}

// UnauthorizedError reports a caller without a current entitlement.
func UnauthorizedError(message string) *Error {
	return &Error{Kind: Unauthorized, Message: message}
}

// KindOf returns the Kind of err, or Internal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
