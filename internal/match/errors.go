package match

import (
	"errors"
	"fmt"
)

// Kind classifies search failures so the transport layer can map them to
// status codes and user-facing copy. Empty results are not an error.
type Kind int

const (
	// KindValidation is malformed input: bad zip format, empty medication
	// list, non-positive radius. Never retried.
	KindValidation Kind = iota + 1

	// KindNotFound means the origin zip has no geocode entry; the message
	// names the zip so the user can correct a typo.
	KindNotFound

	// KindDataIntegrity means a geocode entry exists but its coordinates
	// are unusable, a reference-data defect rather than a user error.
	KindDataIntegrity

	// KindStore is a claims-store failure (connectivity, malformed query).
	// Users see a generic message; detail is logged server-side.
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindDataIntegrity:
		return "data_integrity"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Error is a classified search failure.
type Error struct {
	Kind    Kind
	Field   string // offending input field, for validation errors
	Message string // user-facing message
	Err     error  // underlying cause, logged but not shown to users
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, else 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a missing-geocode failure.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsDataIntegrity reports whether err is a reference-data defect.
func IsDataIntegrity(err error) bool { return KindOf(err) == KindDataIntegrity }

// IsStore reports whether err is a claims-store failure.
func IsStore(err error) bool { return KindOf(err) == KindStore }

func validationErr(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func notFoundErr(message string, cause error) *Error {
	return &Error{Kind: KindNotFound, Message: message, Err: cause}
}

func dataIntegrityErr(message string, cause error) *Error {
	return &Error{Kind: KindDataIntegrity, Message: message, Err: cause}
}

func storeErr(message string, cause error) *Error {
	return &Error{Kind: KindStore, Message: message, Err: cause}
}
