// Package vexfserr defines the closed set of error kinds the store returns to
// callers (spec §7), wrapped with pkg/errors so that stack context survives
// across the block/journal/coordinator boundary the way the teacher wraps
// low-level compiler errors before they reach a CLI caller.
package vexfserr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is one of the sentinel error kinds named in spec §7. It is comparable
// and safe to switch on after errors.As.
type Kind int

const (
	_ Kind = iota
	IOError
	ChecksumMismatch
	FSCorruption
	NoSpace
	NoInode
	JournalFull
	InvalidArgument
	Conflict
	Timeout
	IncompatibleVersion
	NeedsRebuild
	AlreadyInOtherTransaction
)

func (k Kind) String() string {
	switch k {
	case IOError:
		return "io-error"
	case ChecksumMismatch:
		return "checksum-mismatch"
	case FSCorruption:
		return "fs-corruption"
	case NoSpace:
		return "no-space"
	case NoInode:
		return "no-inode"
	case JournalFull:
		return "journal-full"
	case InvalidArgument:
		return "invalid-argument"
	case Conflict:
		return "conflict"
	case Timeout:
		return "timeout"
	case IncompatibleVersion:
		return "incompatible-version"
	case NeedsRebuild:
		return "needs-rebuild"
	case AlreadyInOtherTransaction:
		return "already-in-other-transaction"
	default:
		return "unknown-error"
	}
}

// Error is the concrete error type every exported operation returns. Kind is
// the stable, switchable identity; the wrapped error carries human context.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Is lets errors.Is(err, vexfserr.NoSpace) work by comparing Kind via a
// sentinel wrapper — see the Sentinel values below.
func (e *Error) Is(target error) bool {
	var s *sentinel
	if errors.As(target, &s) {
		return e.Kind == s.kind
	}
	return false
}

type sentinel struct{ kind Kind }

func (s *sentinel) Error() string { return s.kind.String() }

// Sentinels usable with errors.Is(err, vexfserr.ErrNoSpace).
var (
	ErrIOError                    = &sentinel{IOError}
	ErrChecksumMismatch           = &sentinel{ChecksumMismatch}
	ErrFSCorruption               = &sentinel{FSCorruption}
	ErrNoSpace                    = &sentinel{NoSpace}
	ErrNoInode                    = &sentinel{NoInode}
	ErrJournalFull                = &sentinel{JournalFull}
	ErrInvalidArgument            = &sentinel{InvalidArgument}
	ErrConflict                   = &sentinel{Conflict}
	ErrTimeout                    = &sentinel{Timeout}
	ErrIncompatibleVersion        = &sentinel{IncompatibleVersion}
	ErrNeedsRebuild               = &sentinel{NeedsRebuild}
	ErrAlreadyInOtherTransaction  = &sentinel{AlreadyInOtherTransaction}
)

// New constructs an Error of the given kind for operation op, wrapping cause
// (which may be nil) with stack context.
func New(kind Kind, op string, cause error) *Error {
	if cause != nil {
		cause = pkgerrors.WithStack(cause)
	}
	return &Error{Kind: kind, Op: op, err: cause}
}

// Wrap is a convenience for New(kind, op, fmt.Errorf(format, args...)).
func Wrap(kind Kind, op, format string, args ...interface{}) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; ok is false for errors the store did not originate.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
