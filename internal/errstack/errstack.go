// Package errstack models the error-reporting discipline the rest of the
// core relies on: an explicit, caller-owned context object instead of a
// global stack. Routines that can recover push entries here and return a
// plain bool; only the outermost driver walks the stack to decide what to
// print.
package errstack

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Level is the severity of a stacked entry.
type Level int

const (
	Warning Level = iota
	Error
	Fatal
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind enumerates the abstract error taxonomy of the core (spec §7).
type Kind int

const (
	IoError Kind = iota
	CorruptCache
	ParseError
	Unsatisfiable
	OverwriteConflict
	FatalOrdering
	WorkerFailure
	Held
	LockBusy
	SchemaMismatch
	OutOfSpace
	CorruptPatch
	MmapUnavailable
	InconsistentState
	InternalInvariant
)

func (k Kind) String() string {
	names := [...]string{
		"IoError", "CorruptCache", "ParseError", "Unsatisfiable",
		"OverwriteConflict", "FatalOrdering", "WorkerFailure", "Held",
		"LockBusy", "SchemaMismatch", "OutOfSpace", "CorruptPatch",
		"MmapUnavailable", "InconsistentState", "InternalInvariant",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// Entry is one stacked diagnostic.
type Entry struct {
	Level Level
	Kind  Kind
	Msg   string
	Path  string
	Err   error
}

func (e Entry) String() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s): %s", e.Level, e.Kind, e.Path, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Level, e.Kind, e.Msg)
}

// Stack is the explicit context object replacing the legacy thread-local
// stack-of-stacks (spec §9). A new Stack is pushed at group boundaries and
// either merged back into the parent on success or reverted on failure.
type Stack struct {
	entries []Entry
}

// New returns an empty stack.
func New() *Stack { return &Stack{} }

// Push appends a diagnostic. Fatal entries also capture a stack trace via
// go-errors/errors so the eventual stderr print carries a trace.
func (s *Stack) Push(level Level, kind Kind, path, msg string) {
	e := Entry{Level: level, Kind: kind, Path: path, Msg: msg}
	if level == Fatal {
		e.Err = goerrors.Errorf("%s: %s: %s", kind, path, msg)
	}
	s.entries = append(s.entries, e)
}

// Wrap pushes an existing error under the given kind, preserving it for
// errors.Unwrap-style inspection.
func (s *Stack) Wrap(level Level, kind Kind, path string, err error) {
	s.entries = append(s.entries, Entry{Level: level, Kind: kind, Path: path, Msg: err.Error(), Err: err})
}

// Entries returns the stacked diagnostics in push order.
func (s *Stack) Entries() []Entry { return s.entries }

// Empty reports whether nothing has been pushed.
func (s *Stack) Empty() bool { return len(s.entries) == 0 }

// HasFatal reports whether any entry is Fatal.
func (s *Stack) HasFatal() bool {
	for _, e := range s.entries {
		if e.Level == Fatal {
			return true
		}
	}
	return false
}

// HasKind reports whether any entry carries the given Kind.
func (s *Stack) HasKind(k Kind) bool {
	for _, e := range s.entries {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// Mark is an opaque checkpoint for RevertToStack.
type Mark int

// Checkpoint returns the current length, to be passed to RevertToStack.
func (s *Stack) Checkpoint() Mark { return Mark(len(s.entries)) }

// RevertToStack discards every entry pushed since mark. Used when a nested
// ActionGroup or a speculative solver branch is abandoned.
func (s *Stack) RevertToStack(mark Mark) {
	if int(mark) <= len(s.entries) {
		s.entries = s.entries[:mark]
	}
}

// Merge appends another stack's entries onto this one, preserving order.
// Used when a nested group closes successfully into its parent.
func (s *Stack) Merge(child *Stack) {
	s.entries = append(s.entries, child.entries...)
}

// Child returns a fresh Stack for a nested scope.
func (s *Stack) Child() *Stack { return New() }
