package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a registry error for callers that need to map it to a
// transport status (HTTP code, queue acknowledgement).
type Kind int

const (
	// KindInternal is any failure not classifiable as one of the kinds below
	KindInternal Kind = iota
	// KindValidation is a malformed or missing field, correctable by the submitter
	KindValidation
	// KindConflict is a uniqueness violation on an identity that already exists
	KindConflict
	// KindNotFound is a referenced package version that does not exist
	KindNotFound
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// FieldError represents a validation error on a specific field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the single discriminated error value produced by ingestion and
// retrieval. Err carries the underlying cause and is never shown to clients
// for KindInternal.
type Error struct {
	Kind     Kind
	Op       string
	Message  string
	Fields   []FieldError
	Identity map[string]string
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Kind == KindValidation && len(e.Fields) == 1:
		fmt.Fprintf(&b, "validation failed: %s: %s", e.Fields[0].Field, e.Fields[0].Message)
	case e.Kind == KindValidation && len(e.Fields) > 1:
		fmt.Fprintf(&b, "validation failed: %d errors", len(e.Fields))
	default:
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// PublicMessage returns a message safe to expose outside the process
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal {
		return "an internal error occurred"
	}
	if e.Message != "" {
		return e.Message
	}
	switch e.Kind {
	case KindValidation:
		return "validation failed"
	case KindConflict:
		return "resource already exists"
	case KindNotFound:
		return "resource not found"
	}
	return e.Kind.String()
}

// Validation builds a validation error from field errors
func Validation(op string, fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Op: op, Fields: fields}
}

// Invalid builds a validation error carrying only a message
func Invalid(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// Conflict builds a conflict error for the given identity
func Conflict(op string, identity map[string]string, cause error) *Error {
	return &Error{Kind: KindConflict, Op: op, Identity: identity, Message: conflictMessage(identity), Err: cause}
}

// NotFound builds a not-found error for the given identity
func NotFound(op string, identity map[string]string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Identity: identity, Message: notFoundMessage(identity)}
}

// Internal wraps an unclassified failure
func Internal(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Op: op, Err: cause}
}

// KindOf returns the kind of err, KindInternal when err is not a registry error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsValidation returns true if err is a validation error
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

// IsConflict returns true if err is a conflict error
func IsConflict(err error) bool {
	return err != nil && KindOf(err) == KindConflict
}

// IsNotFound returns true if err is a not-found error
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

func conflictMessage(identity map[string]string) string {
	if name, ok := identity["package_name"]; ok {
		if topic, ok := identity["topic"]; ok {
			return fmt.Sprintf("topic %q already exists for %s %s", topic, name, identity["version"])
		}
		return fmt.Sprintf("version %s of %s already exists", identity["version"], name)
	}
	return "resource already exists"
}

func notFoundMessage(identity map[string]string) string {
	if name, ok := identity["package_name"]; ok {
		return fmt.Sprintf("version %s of %s not found", identity["version"], name)
	}
	return "resource not found"
}
