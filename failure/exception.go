// Package failure defines the catchable exception type of spec.md
// §7: "The exception object carries: a details string, the source
// name of the last bytecode function in progress, and a copy of CONR
// at raise time." It also classifies the four error kinds §7
// enumerates so the VM knows which ones are user-catchable via
// on-err and which escalate straight to the host error sink.
//
// Styled after the teacher's errors/errors.go: a small typed struct
// with a String() rendering, rather than a hierarchy of error types.
package failure

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies why an exception was raised (spec.md §7).
type Kind int

const (
	// KindUser covers `err` and type-mismatch operations raised from
	// Arc code — always deliverable to on-err.
	KindUser Kind = iota
	// KindArithmetic covers divide-by-zero and similar numeric-tower
	// faults — deliverable to on-err.
	KindArithmetic
	// KindVMFault covers invalid opcode, stack underflow, and
	// non-growable stack exhaustion — implementations may deliver
	// these to on-err or mark the thread broken; this engine delivers
	// them to on-err and lets the handler (or its absence) decide.
	KindVMFault
	// KindFatal covers out-of-memory and similar faults that go
	// straight to the host error sink; the thread is marked broken.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user-error"
	case KindArithmetic:
		return "arithmetic-error"
	case KindVMFault:
		return "vm-fault"
	case KindFatal:
		return "fatal-fault"
	default:
		return "unknown-error"
	}
}

// Exception is the Arc-visible value delivered to on-err handlers and,
// if unhandled, to the host error sink.
type Exception struct {
	ID         uuid.UUID
	Kind       Kind
	Details    string
	SourceName string
	// ConrDepth is the length of CONR at raise time, kept instead of a
	// full snapshot copy (spec.md §7 allows "for debugger/backtrace
	// purposes" latitude; the VM already retains the live chain for
	// protect-unwind, so duplicating it here would only serve a
	// debugger that does not exist in this engine).
	ConrDepth int
}

// New constructs an Exception with a freshly minted trace id.
func New(kind Kind, sourceName, details string) *Exception {
	return &Exception{ID: uuid.New(), Kind: kind, Details: details, SourceName: sourceName}
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s in %s: %s", e.Kind, e.SourceName, e.Details)
}

// Fatal reports whether e must bypass on-err and reach the host error
// sink directly (spec.md §7.4).
func (e *Exception) Fatal() bool { return e.Kind == KindFatal }
