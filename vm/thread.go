// Package vm implements the bytecode interpreter of spec.md §4.2, the
// continuation/environment model of §4.3, and the protect/on-err
// machinery of §4.6. These three are kept in one package because
// restoring a continuation, running a protect after-closure, and
// delivering an exception all mean the same thing: mutating a
// Thread's registers and stepping bytecode against them.
package vm

import (
	"github.com/wudi/arcvm/lexenv"
	"github.com/wudi/arcvm/opcodes"
	"github.com/wudi/arcvm/values"
)

// State is one of the scheduler states spec.md §2/§4.5 assigns a
// thread: {ready, running, sleeping, I/O-waiting, I/O-ready, critical,
// exiting, released, broken}.
type State int

const (
	StateReady State = iota
	StateRunning
	StateSleeping
	StateIOWaiting
	StateIOReady
	StateCritical
	StateExiting
	StateReleased
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateIOWaiting:
		return "iowait"
	case StateIOReady:
		return "ioready"
	case StateCritical:
		return "critical"
	case StateExiting:
		return "exiting"
	case StateReleased:
		return "released"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Code is a compiled bytecode unit (spec.md §6): a version tag, a
// literal vector, an instruction vector, and a source name for
// diagnostics. Jump operands inside Instructions are relative to the
// opcode's own index, making Code position-independent and therefore
// safe to share across closures.
type Code struct {
	Version      int
	Literals     []values.Value
	Instructions []opcodes.Instruction
	SourceName   string
}

// Closure pairs a Code object with the lexical environment it closes
// over (spec.md §3).
type Closure struct {
	Code *Code
	Env  *lexenv.Env
}

// WaitInfo records why a thread is suspended.
type WaitInfo struct {
	WaitFD int
	// WakeAtNanos is a monotonic deadline (nanoseconds since an
	// arbitrary epoch chosen by the scheduler's clock) for `sleep`.
	WakeAtNanos int64
}

// Thread is the heap object of spec.md §3's Thread row: "registers +
// stack vector + state + wait info." ID is a stable identifier a host
// trace/debugger hook can key off of.
type Thread struct {
	ID int64

	// Registers (spec.md §4.2).
	VALR  values.Value
	FUNR  values.Value
	ENVR  *lexenv.Env
	CONR  []*Continuation
	ECONR []*ErrHandler
	IP    int
	SP    int
	ARGC  int

	Quanta  int
	State   State
	Wait    WaitInfo
	Started bool

	Code  *Code
	Stack []values.Value

	// RFFLine/RFFIn/RFFLocals hold a resumable foreign function's saved
	// resume point while FUNR names it instead of a bytecode closure
	// (spec.md §4.4.2); resume() and fnapp() thread them through Resume
	// calls.
	RFFLine   int
	RFFIn     values.Value
	RFFLocals []values.Value

	Globals *Globals

	// Trace is a bounded ring of recent state-transition notes, the
	// trace hook spec.md §1's Non-goals allow beyond full source-level
	// debugging.
	Trace []string

	Exiting bool
}

const traceCap = 64

// Note appends a trace entry, evicting the oldest once traceCap is
// exceeded.
func (t *Thread) Note(msg string) {
	t.Trace = append(t.Trace, msg)
	if len(t.Trace) > traceCap {
		t.Trace = t.Trace[len(t.Trace)-traceCap:]
	}
}

// Push/Pop/PopN implement the operand-stack half of spec.md §4.2's
// "stack-based for operand passing" description.
func (t *Thread) Push(v values.Value) { t.Stack = append(t.Stack, v) }

func (t *Thread) Pop() (values.Value, bool) {
	n := len(t.Stack)
	if n == 0 {
		return values.Nil, false
	}
	v := t.Stack[n-1]
	t.Stack = t.Stack[:n-1]
	return v, true
}

func (t *Thread) PopN(n int) ([]values.Value, bool) {
	if n < 0 || len(t.Stack) < n {
		return nil, false
	}
	start := len(t.Stack) - n
	out := make([]values.Value, n)
	copy(out, t.Stack[start:])
	t.Stack = t.Stack[:start]
	return out, true
}

// Globals is the process-wide "generic environment" spec.md §9 says
// should be threaded through every entry point rather than hidden in
// package-level state. One Globals is shared by every Thread spawned
// from the same host context.
type Globals struct {
	Bindings map[int32]values.Value
}

func NewGlobals() *Globals { return &Globals{Bindings: make(map[int32]values.Value)} }

func (g *Globals) Get(sym int32) (values.Value, bool) {
	v, ok := g.Bindings[sym]
	return v, ok
}

func (g *Globals) Set(sym int32, v values.Value) { g.Bindings[sym] = v }

// NewThread creates a thread ready to run fn (a closure) with no
// arguments pushed yet; the caller pushes arguments in call order
// (first argument first: `env` binds the first pushed argument to
// slot 0, not reverse order) and sets ARGC before the first Step.
func NewThread(id int64, globals *Globals) *Thread {
	return &Thread{ID: id, Globals: globals, State: StateReady, VALR: values.Nil, FUNR: values.Nil}
}
