// Package fault owns the failure taxonomy shared by every lifegrid component.
//
// Every detected failure is fatal for the run. Components wrap the sentinel of
// their class so callers can branch with errors.Is and the CLI can map a
// failure to its exit code.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies one failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindArgument
	KindScan
	KindIO
	KindFormat
	KindDimension
	KindParse
	KindTopology
	KindCommunication
)

var (
	ErrArgument      = errors.New("argument error")
	ErrScan          = errors.New("scan error")
	ErrIO            = errors.New("i/o error")
	ErrFormat        = errors.New("format error")
	ErrDimension     = errors.New("dimension error")
	ErrParse         = errors.New("parse error")
	ErrTopology      = errors.New("topology error")
	ErrCommunication = errors.New("communication error")

	// ErrTimeout marks a communication failure caused by an expired transfer.
	ErrTimeout = errors.New("communication timeout")
)

var sentinels = map[Kind]error{
	KindArgument:      ErrArgument,
	KindScan:          ErrScan,
	KindIO:            ErrIO,
	KindFormat:        ErrFormat,
	KindDimension:     ErrDimension,
	KindParse:         ErrParse,
	KindTopology:      ErrTopology,
	KindCommunication: ErrCommunication,
}

func (k Kind) String() string {
	if s, ok := sentinels[k]; ok {
		return s.Error()
	}
	return "unknown error"
}

// Error is one classified failure raised by operation Op.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New classifies err under kind. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf classifies a formatted message under kind.
func Newf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the classified kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindUnknown
}

// ExitCode maps a failure to the distinct process exit code of its class.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindArgument:
		return 1
	case KindScan:
		return 2
	case KindIO:
		return 3
	case KindFormat:
		return 4
	case KindDimension:
		return 5
	case KindParse:
		return 6
	case KindTopology:
		return 7
	case KindCommunication:
		return 8
	default:
		return 9
	}
}
