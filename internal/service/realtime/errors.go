package realtime

import (
	"errors"
	"fmt"
)

// Kind classifies bridge failures.
type Kind int

const (
	// KindSetup covers failures before the session is ready: missing
	// credential, bad first message, upstream dial or session.update.
	KindSetup Kind = iota + 1
	// KindParse marks an upstream text frame that is not valid JSON.
	KindParse
	// KindTransportClosed means one of the two connections went away.
	KindTransportClosed
	// KindPersistence marks a failed transcript flush.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindSetup:
		return "setup"
	case KindParse:
		return "parse"
	case KindTransportClosed:
		return "transport_closed"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// ErrMissingCredential is returned when no upstream API key is configured.
var ErrMissingCredential = errors.New("OpenAI API key not configured")

// Error is a classified bridge failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("realtime %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("realtime %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a bridge error, or 0 when err is not one.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// IsKind reports whether err is a bridge error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
