// Package ledgererr defines the typed failures returned by every ledger
// operation. Callers branch on Kind, never on message text.
package ledgererr

import (
	"errors"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindInsufficientFunds
	KindNotFound
	KindInvalidState
	KindUnauthorized
	KindAlreadyClaimed
	KindNotValidated
	KindAlreadyExists
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindNotFound:
		return "NotFound"
	case KindInvalidState:
		return "InvalidState"
	case KindUnauthorized:
		return "Unauthorized"
	case KindAlreadyClaimed:
		return "AlreadyClaimed"
	case KindNotValidated:
		return "NotValidated"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Error is a ledger failure. Two errors match under errors.Is when their
// kinds are equal, so the sentinels below can be used as targets.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrAlreadyClaimed    = &Error{Kind: KindAlreadyClaimed}
	ErrNotValidated      = &Error{Kind: KindNotValidated}
	ErrAlreadyExists     = &Error{Kind: KindAlreadyExists}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
)

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InsufficientFunds(format string, args ...interface{}) *Error {
	return New(KindInsufficientFunds, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func InvalidState(format string, args ...interface{}) *Error {
	return New(KindInvalidState, format, args...)
}

func Unauthorized(format string, args ...interface{}) *Error {
	return New(KindUnauthorized, format, args...)
}

func InvalidArgument(format string, args ...interface{}) *Error {
	return New(KindInvalidArgument, format, args...)
}

func AlreadyExists(format string, args ...interface{}) *Error {
	return New(KindAlreadyExists, format, args...)
}

// KindOf returns the kind of the first ledger error found in err's chain.
// Both Unwrap chains and pkg/errors Cause chains are followed.
func KindOf(err error) Kind {
	for err != nil {
		var le *Error
		if errors.As(err, &le) {
			return le.Kind
		}
		cause := pkgerrors.Cause(err)
		if cause == err {
			return KindUnknown
		}
		err = cause
	}
	return KindUnknown
}

// Find returns the first ledger error in err's chain, or nil.
func Find(err error) *Error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	if cause := pkgerrors.Cause(err); cause != err {
		return Find(cause)
	}
	return nil
}

// ParseKind reads the kind back from a ledger error message, such as
// one carried across a transport.
func ParseKind(msg string) Kind {
	name := msg
	if i := strings.IndexByte(msg, ':'); i >= 0 {
		name = msg[:i]
	}
	for k := KindInsufficientFunds; k <= KindInvalidArgument; k++ {
		if k.String() == name {
			return k
		}
	}
	return KindUnknown
}
