// Package ffi implements the two native calling conventions of
// spec.md §4.4: synchronous foreign functions (SFF), which the
// trampoline calls and expects never to suspend, and resumable
// foreign functions (RFF), which cooperate with the VM's suspension
// protocol through env/call/yield/iowait.
//
// This package intentionally knows nothing about vm.Thread: an RFF's
// resume state is just an integer "line" it interprets itself, and
// the Signal it returns tells its driver (vm.VM) what to do next. That
// keeps the calling convention reusable outside this specific VM and
// mirrors how the teacher's CFunction payload is "native function
// pointer + declared arity" — a plain value, not something wired to
// VM internals.
package ffi

import "github.com/wudi/arcvm/values"

// Sync is a synchronous foreign function (spec.md §4.4.1): the
// trampoline pops its arguments, calls it, and transitions straight to
// RC with the result in VALR. An SFF must not suspend — Arity is
// advisory metadata a compiler or caller can use to validate call
// sites before invoking Call.
type Sync interface {
	Arity() (min int, variadic bool)
	Call(args []values.Value) (values.Value, error)
}

// SyncFunc adapts a plain Go func to Sync for fixed-arity natives that
// need no arity metadata beyond "exactly len matches a known count."
type SyncFunc struct {
	Min      int
	Variadic bool
	Fn       func(args []values.Value) (values.Value, error)
}

func (f SyncFunc) Arity() (int, bool)  { return f.Min, f.Variadic }
func (f SyncFunc) Call(args []values.Value) (values.Value, error) { return f.Fn(args) }

// SignalKind tags what a Resumable wants its driver to do next.
type SignalKind int

const (
	// SigReturn: the RFF is done; ReturnValue is its result.
	SigReturn SignalKind = iota
	// SigCall: push a continuation identifying ResumeLine, then apply
	// Callee to CalleeArgs. When that call returns, the RFF is resumed
	// at ResumeLine with the callee's result passed back in as an
	// argument to Resume.
	SigCall
	// SigYield: save ResumeLine and suspend the thread (trampoline
	// transition SUSPEND); the scheduler will resume it on its next
	// ready turn.
	SigYield
	// SigIOWait: save ResumeLine, suspend, and ask the scheduler to
	// wake the thread when IOFD becomes ready for read.
	SigIOWait
)

// Signal is what Resume returns to report which of the four RFF
// primitives (env/call/yield/iowait — "env" is declared once up front
// via Locals, not per-Signal) it is invoking.
type Signal struct {
	Kind        SignalKind
	ReturnValue values.Value
	Callee      values.Value
	CalleeArgs  []values.Value
	ResumeLine  int
	IOFD        int
}

// Resumable is a resumable foreign function (spec.md §4.4.2). Each
// call to Resume continues execution from the line previously saved,
// with in being nil on the very first call and the callee's return
// value (or nil, for yield/iowait wakeups) on subsequent calls.
type Resumable interface {
	// Locals reports how many of the RFF's own call arguments become
	// permanent locals, and how many additional scratch locals it
	// needs — the "env" primitive of spec.md §4.4.
	Locals() (fromArgs, extra int)
	Resume(line int, in values.Value, locals []values.Value) (Signal, error)
}

// NativeResumable is a convenience Resumable built from a plain state
// machine function, for RFFs with simple line-based control flow —
// the common case, grounded on the teacher's generator-resume style
// (vm/vm.go's ExecuteUntilYield/ResumeFromYield) but generalized to
// the RFF convention instead of being generator-specific.
type NativeResumable struct {
	FromArgs, Extra int
	Step            func(line int, in values.Value, locals []values.Value) (Signal, error)
}

func (n NativeResumable) Locals() (int, int) { return n.FromArgs, n.Extra }
func (n NativeResumable) Resume(line int, in values.Value, locals []values.Value) (Signal, error) {
	return n.Step(line, in, locals)
}
