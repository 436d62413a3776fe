// Package errs tags errors with a Kind so callers can branch on what went
// wrong without matching messages.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindInvalidTransition
	KindMissingProofOfDelivery
	KindNormalization
	KindDuplicateAmbiguous
	KindExternalFetch
	KindConflictOnInsert
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "validation failed"
	case KindInvalidTransition:
		return "invalid transition"
	case KindMissingProofOfDelivery:
		return "missing proof of delivery"
	case KindNormalization:
		return "normalization failed"
	case KindDuplicateAmbiguous:
		return "ambiguous duplicate"
	case KindExternalFetch:
		return "external fetch failed"
	case KindConflictOnInsert:
		return "conflict on insert"
	default:
		return "unknown error"
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrValidation             = &Error{Kind: KindValidation}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition}
	ErrMissingProofOfDelivery = &Error{Kind: KindMissingProofOfDelivery}
	ErrNormalization          = &Error{Kind: KindNormalization}
	ErrDuplicateAmbiguous     = &Error{Kind: KindDuplicateAmbiguous}
	ErrExternalFetch          = &Error{Kind: KindExternalFetch}
	ErrConflictOnInsert       = &Error{Kind: KindConflictOnInsert}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func NotFound(format string, args ...any) error {
	return New(KindNotFound, format, args...)
}

func Validation(format string, args ...any) error {
	return New(KindValidation, format, args...)
}

func InvalidTransition(from, to any) error {
	return New(KindInvalidTransition, "%v -> %v", from, to)
}

func Normalization(format string, args ...any) error {
	return New(KindNormalization, format, args...)
}

func ExternalFetch(err error, msg string) error {
	return Wrap(KindExternalFetch, err, msg)
}
