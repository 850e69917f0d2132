package vm

import (
	"errors"
	"fmt"

	"github.com/wudi/arcvm/failure"
	"github.com/wudi/arcvm/ffi"
	"github.com/wudi/arcvm/gc"
	"github.com/wudi/arcvm/numeric"
	"github.com/wudi/arcvm/values"
)

// transition is the trampoline state machine of spec.md §4.1. It is
// unexported: the scheduler-facing surface is Outcome, returned by
// Step; transition is how vm.go's internal loop talks to itself while
// draining RC/FNAPP steps without stepping the VM, exactly as §4.1
// requires ("the trampoline must drain all RC/FNAPP steps that can be
// done without stepping the VM before it returns control to the
// scheduler").
type transition int

const (
	transResume transition = iota
	transFNApp
	transRC
	transHalt
	transSuspend
)

// Outcome is what Step reports to its caller (the scheduler, or a
// caller driving the engine outside a scheduler, e.g. a test or the
// cmd/arcvm demo).
type Outcome int

const (
	OutcomeSuspended Outcome = iota
	OutcomeReleased
	OutcomeBroken
)

// defaultInnerQuanta refills a thread's quantum when a nested
// ApplySync call hits quantum exhaustion. ApplySync has no scheduler
// to hand control back to mid-call, so it must keep going; see the
// SPEC_FULL.md note on this simplification.
const defaultInnerQuanta = 100000

// VM is the bytecode interpreter plus continuation/protect/on-err
// machinery described in spec.md §4.2, §4.3, and §4.6.
type VM struct {
	// OnUnhandled is the host-provided error sink of spec.md §6
	// ("signal_error(ctx, exception-details-string)"), invoked once a
	// raised exception reaches the top with no on-err handler (or is
	// fatal) and every protect after-closure that applies has run.
	OnUnhandled func(t *Thread, exc *failure.Exception)

	Barrier *gc.Barrier

	// Profile, when non-nil, records per-instruction hit counts and
	// honors breakpoints set on it (spec.md §1's "trace hook" latitude,
	// generalized per SPEC_FULL.md from the teacher's vm.DebugLevel /
	// GetPerformanceReport). Left nil, profiling costs nothing.
	Profile *Profile
}

// NewVM constructs a VM with a fresh write-barrier/generation tracker.
func NewVM() *VM { return &VM{Barrier: gc.NewBarrier()} }

// Step is the trampoline's entry point (spec.md §4.1): it runs t for
// up to quanta instructions, draining every RC/FNAPP transition that
// doesn't require stepping bytecode, and returns once t suspends,
// halts normally, or halts on an unrecoverable fault.
func (m *VM) Step(t *Thread, quanta int) (Outcome, error) {
	t.Quanta = quanta
	t.State = StateRunning
	tr := transResume
	if !t.Started {
		// A freshly spawned thread has a callee sitting in VALR (spec.md
		// §4.5's Spawn contract) but no bytecode loaded yet — FNAPP is
		// what unpacks a closure's Code/Env or dispatches a native
		// function, exactly as a `apply` opcode would mid-program.
		t.Started = true
		tr = transFNApp
	}
	for {
		var (
			next transition
			err  error
		)
		switch tr {
		case transResume:
			next, err = m.resume(t)
		case transFNApp:
			next, err = m.fnapp(t)
		case transRC:
			next, _, err = m.rc(t)
		case transHalt:
			if t.State != StateBroken {
				t.State = StateReleased
			}
			if t.State == StateBroken {
				return OutcomeBroken, nil
			}
			return OutcomeReleased, nil
		case transSuspend:
			if t.State == StateRunning {
				t.State = StateReady
			}
			return OutcomeSuspended, nil
		}
		if err != nil {
			t.State = StateBroken
			return OutcomeBroken, err
		}
		tr = next
	}
}

// resume implements the RESUME transition: step bytecode if FUNR is a
// closure, or re-enter a resumable native function at its saved line.
func (m *VM) resume(t *Thread) (transition, error) {
	switch t.FUNR.Type {
	case values.TypeClosure:
		return m.runBytecode(t)
	case values.TypeCFunctionResumable:
		rff, ok := t.FUNR.Obj.(ffi.Resumable)
		if !ok {
			return 0, fmt.Errorf("vm: malformed resumable function value")
		}
		sig, err := rff.Resume(t.RFFLine, t.RFFIn, t.RFFLocals)
		if err != nil {
			return 0, err
		}
		return m.handleSignal(t, sig)
	default:
		// Nothing active to resume: treat as thread completion.
		return transHalt, nil
	}
}

func (m *VM) runBytecode(t *Thread) (transition, error) {
	for {
		if t.Quanta <= 0 {
			return transSuspend, nil
		}
		if t.Code == nil || t.IP < 0 || t.IP >= len(t.Code.Instructions) {
			return 0, fmt.Errorf("vm: instruction pointer %d out of range", t.IP)
		}
		if m.Profile != nil {
			if m.Profile.atBreakpoint(t.Code, t.IP) {
				return transSuspend, nil
			}
			m.Profile.record(t.Code, t.IP)
		}
		inst := t.Code.Instructions[t.IP]
		t.Quanta--
		advance, tr, err := m.exec(t, inst)
		if err != nil {
			return 0, err
		}
		if tr != transResume {
			return tr, nil
		}
		if advance {
			t.IP++
		}
	}
}

func classify(err error) failure.Kind {
	var te *numeric.TypeError
	if errors.As(err, &te) {
		return failure.KindUser
	}
	if errors.Is(err, numeric.ErrDivideByZero) {
		return failure.KindArithmetic
	}
	var ue *UserError
	if errors.As(err, &ue) {
		return failure.KindUser
	}
	return failure.KindVMFault
}

// UserError wraps an explicit `err` raised from Arc code, kept
// distinct from internal VM faults purely so classify() can tell them
// apart without string matching.
type UserError struct{ Message string }

func (e *UserError) Error() string { return e.Message }

func (m *VM) raiseErr(t *Thread, err error) (transition, error) {
	name := "{unknown}"
	if t.Code != nil {
		name = t.Code.SourceName
	}
	exc := failure.New(classify(err), name, err.Error())
	exc.ConrDepth = len(t.CONR)
	return m.Raise(t, exc)
}

// Raise implements spec.md §4.6/§7's error-delivery path.
func (m *VM) Raise(t *Thread, exc *failure.Exception) (transition, error) {
	if exc.Fatal() {
		t.State = StateBroken
		if m.OnUnhandled != nil {
			m.OnUnhandled(t, exc)
		}
		return transHalt, nil
	}
	if len(t.ECONR) == 0 {
		if err := m.unwindProtects(t, 0); err != nil {
			return 0, err
		}
		t.State = StateExiting
		t.Exiting = true
		if m.OnUnhandled != nil {
			m.OnUnhandled(t, exc)
		}
		return transHalt, nil
	}
	eh := t.ECONR[0]
	t.ECONR = t.ECONR[1:]
	if err := m.unwindProtects(t, len(eh.SavedConr)); err != nil {
		return 0, err
	}
	t.CONR = eh.SavedConr
	t.ECONR = eh.SavedEconr
	excVal := values.Value{Type: values.TypeException, Obj: exc}
	result, err := m.ApplySync(t, eh.Handler, []values.Value{excVal})
	if err != nil {
		return 0, err
	}
	t.VALR = result
	return transRC, nil
}

// unwindProtects discards continuations above targetLen, running each
// one's protect after-closure (if any and not already pending) but
// never transferring control to its resume point — the continuations
// are being abandoned, not returned through.
func (m *VM) unwindProtects(t *Thread, targetLen int) error {
	for len(t.CONR) > targetLen {
		k := t.CONR[0]
		t.CONR = t.CONR[1:]
		if k.Protect.Type != values.TypeNil && !k.ProtectPending {
			k.ProtectPending = true
			if _, err := m.ApplySync(t, k.Protect, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// unwindToContinuation implements spec.md §4.6's rule for applying a
// captured continuation directly: "walking CONR from its head down to
// K, invoking each protect closure in order ... then finally restoring
// K." It runs every intervening protect-bearing continuation's
// after-closure exactly once, then leaves t.CONR untouched — the
// subsequent restoreContinuation(t, k) call overwrites CONR wholesale
// from k.SavedConr, which is what actually discards this prefix. If k
// is not found on the current chain (it was captured under a dynamic
// extent this thread has already left by some other path), there is
// nothing to walk.
func (m *VM) unwindToContinuation(t *Thread, k *Continuation) error {
	for _, c := range t.CONR {
		if c == k {
			return nil
		}
		if c.Protect.Type != values.TypeNil && !c.ProtectPending {
			c.ProtectPending = true
			if _, err := m.ApplySync(t, c.Protect, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// fnapp implements the FNAPP transition (spec.md §4.1): consult the
// type of the value in VALR and set up registers accordingly.
func (m *VM) fnapp(t *Thread) (transition, error) {
	fn := t.VALR
	switch fn.Type {
	case values.TypeClosure:
		cl, ok := fn.Obj.(*Closure)
		if !ok {
			return 0, fmt.Errorf("vm: malformed closure value")
		}
		args, ok := t.PopN(t.ARGC)
		if !ok {
			return 0, fmt.Errorf("vm: stack underflow applying closure with argc=%d", t.ARGC)
		}
		for _, a := range args {
			t.Push(a)
		}
		t.FUNR = fn
		t.Code = cl.Code
		t.ENVR = cl.Env
		t.IP = 0
		return transResume, nil

	case values.TypeCFunctionSync:
		sff, ok := fn.Obj.(ffi.Sync)
		if !ok {
			return 0, fmt.Errorf("vm: malformed native function value")
		}
		args, ok := t.PopN(t.ARGC)
		if !ok {
			return 0, fmt.Errorf("vm: stack underflow applying native function with argc=%d", t.ARGC)
		}
		val, err := sff.Call(args)
		if err != nil {
			return m.raiseErr(t, err)
		}
		t.VALR = val
		t.FUNR = fn
		t.Code = nil
		return transRC, nil

	case values.TypeCFunctionResumable:
		rff, ok := fn.Obj.(ffi.Resumable)
		if !ok {
			return 0, fmt.Errorf("vm: malformed resumable function value")
		}
		args, ok := t.PopN(t.ARGC)
		if !ok {
			return 0, fmt.Errorf("vm: stack underflow applying resumable function with argc=%d", t.ARGC)
		}
		fromArgs, extra := rff.Locals()
		locals := make([]values.Value, fromArgs+extra)
		for i := 0; i < fromArgs && i < len(args); i++ {
			locals[i] = args[i]
		}
		for i := fromArgs; i < len(locals); i++ {
			locals[i] = values.Unbound
		}
		t.FUNR = fn
		t.Code = nil
		t.RFFLine = 0
		t.RFFIn = values.Nil
		t.RFFLocals = locals
		sig, err := rff.Resume(0, values.Nil, locals)
		if err != nil {
			return m.raiseErr(t, err)
		}
		return m.handleSignal(t, sig)

	case values.TypeContinuation:
		k, ok := fn.Obj.(*Continuation)
		if !ok {
			return 0, fmt.Errorf("vm: malformed continuation value")
		}
		args, ok := t.PopN(t.ARGC)
		if !ok {
			return 0, fmt.Errorf("vm: stack underflow applying continuation with argc=%d", t.ARGC)
		}
		if len(args) > 0 {
			t.VALR = args[0]
		} else {
			t.VALR = values.Nil
		}
		if err := m.unwindToContinuation(t, k); err != nil {
			return 0, err
		}
		tr, _, err := m.restoreContinuation(t, k)
		return tr, err

	default:
		return 0, fmt.Errorf("vm: %s is not callable", fn.Type)
	}
}

func (m *VM) handleSignal(t *Thread, sig ffi.Signal) (transition, error) {
	switch sig.Kind {
	case ffi.SigReturn:
		t.VALR = sig.ReturnValue
		return transRC, nil
	case ffi.SigYield:
		t.RFFLine = sig.ResumeLine
		t.RFFIn = values.Nil
		t.State = StateReady
		return transSuspend, nil
	case ffi.SigIOWait:
		t.RFFLine = sig.ResumeLine
		t.RFFIn = values.Nil
		t.Wait.WaitFD = sig.IOFD
		t.State = StateIOWaiting
		return transSuspend, nil
	case ffi.SigCall:
		callerFUNR := t.FUNR
		callerLine := sig.ResumeLine
		callerLocals := t.RFFLocals
		k := &Continuation{
			SavedConr:  t.CONR,
			SavedEconr: t.ECONR,
			NativeResume: func(mm *VM, th *Thread) (transition, error) {
				th.FUNR = callerFUNR
				th.Code = nil
				th.RFFLine = callerLine
				th.RFFIn = th.VALR
				th.RFFLocals = callerLocals
				return transResume, nil
			},
		}
		t.CONR = append([]*Continuation{k}, t.CONR...)
		for _, a := range sig.CalleeArgs {
			t.Push(a)
		}
		t.VALR = sig.Callee
		t.ARGC = len(sig.CalleeArgs)
		return transFNApp, nil
	default:
		return 0, fmt.Errorf("vm: unknown ffi signal kind %d", sig.Kind)
	}
}

// rc implements the RC transition: pop the top continuation and
// restore it (spec.md §4.1/§4.3). If none remain the thread is done.
// The second return value identifies which continuation was actually
// jumped into via applyContinuationFields (nil when CONR is empty or
// the continuation resumes a native function; a protect-bearing
// continuation is reported once its after-closure has run), which
// ApplySync uses to detect "we're back at our own sentinel."
func (m *VM) rc(t *Thread) (transition, *Continuation, error) {
	if len(t.CONR) == 0 {
		return transHalt, nil, nil
	}
	k := t.CONR[0]
	t.CONR = t.CONR[1:]
	return m.restoreContinuation(t, k)
}

// restoreContinuation implements spec.md §4.6's protect-aware
// restoration procedure.
func (m *VM) restoreContinuation(t *Thread, k *Continuation) (transition, *Continuation, error) {
	if k.NativeResume != nil {
		t.CONR = k.SavedConr
		t.ECONR = k.SavedEconr
		tr, err := k.NativeResume(m, t)
		return tr, nil, err
	}
	if k.Protect.Type == values.TypeNil {
		m.applyContinuationFields(t, k)
		return transResume, k, nil
	}
	if !k.ProtectPending {
		k.ProtectSavedValue = t.VALR
		k.ProtectPending = true
		if _, err := m.ApplySync(t, k.Protect, nil); err != nil {
			return 0, nil, err
		}
		return m.restoreContinuation(t, k)
	}
	k.ProtectPending = false
	t.VALR = k.ProtectSavedValue
	m.applyContinuationFields(t, k)
	return transResume, k, nil
}

func (m *VM) applyContinuationFields(t *Thread, k *Continuation) {
	t.FUNR = k.Func
	t.ENVR = k.Env
	t.Code = k.Code
	t.IP = k.ReturnOffset
	t.Stack = append([]values.Value(nil), k.SavedStack...)
	t.CONR = k.SavedConr
	t.ECONR = k.SavedEconr
}

// applySyncCore drives the RESUME/FNAPP/RC state machine synchronously
// until control reaches the sentinel continuation installed for this
// call, returning the value left in VALR at that point. protectAfter
// and errHandler, when non-nil (values.Nil otherwise), wire up
// `protect` and `on-err` on top of the same machinery — see
// SPEC_FULL.md's note on this simplification.
func (m *VM) applySyncCore(t *Thread, fn values.Value, args []values.Value, protectAfter, errHandler values.Value) (values.Value, error) {
	sentinel := &Continuation{Sentinel: true, SavedConr: t.CONR, SavedEconr: t.ECONR}
	if protectAfter.Type != values.TypeNil {
		sentinel.Protect = protectAfter
	}
	savedFUNR, savedCode, savedIP, savedENVR, savedStack, savedARGC := t.FUNR, t.Code, t.IP, t.ENVR, t.Stack, t.ARGC
	restore := func() {
		t.FUNR, t.Code, t.IP, t.ENVR, t.Stack, t.ARGC = savedFUNR, savedCode, savedIP, savedENVR, savedStack, savedARGC
	}

	t.CONR = append([]*Continuation{sentinel}, t.CONR...)
	if errHandler.Type != values.TypeNil {
		eh := &ErrHandler{Handler: errHandler, SavedConr: t.CONR, SavedEconr: t.ECONR}
		t.ECONR = append([]*ErrHandler{eh}, t.ECONR...)
	}

	t.Stack = nil
	for _, a := range args {
		t.Push(a)
	}
	t.VALR = fn
	t.ARGC = len(args)

	tr := transFNApp
	for {
		switch tr {
		case transFNApp:
			next, err := m.fnapp(t)
			if err != nil {
				restore()
				return values.Nil, err
			}
			tr = next
		case transResume:
			next, err := m.resume(t)
			if err != nil {
				restore()
				return values.Nil, err
			}
			tr = next
		case transRC:
			next, restored, err := m.rc(t)
			if err != nil {
				restore()
				return values.Nil, err
			}
			if restored == sentinel {
				result := t.VALR
				restore()
				return result, nil
			}
			tr = next
		case transHalt:
			result := t.VALR
			restore()
			return result, nil
		case transSuspend:
			t.Quanta = defaultInnerQuanta
			tr = transResume
		}
	}
}

// ApplySync applies fn to args and runs it to completion, re-entering
// the same state machine Step uses. It is how protect, on-err, and
// callcc's continuation invocations participate fully in tail calls
// and nested control transfer without a separate code path.
func (m *VM) ApplySync(t *Thread, fn values.Value, args []values.Value) (values.Value, error) {
	return m.applySyncCore(t, fn, args, values.Nil, values.Nil)
}

// RunProtect implements `protect(during, after)` (spec.md §4.6).
func (m *VM) RunProtect(t *Thread, during, after values.Value) (values.Value, error) {
	return m.applySyncCore(t, during, nil, after, values.Nil)
}

// RunOnErr implements `on-err(handler, body)` (spec.md §4.6).
func (m *VM) RunOnErr(t *Thread, handler, body values.Value) (values.Value, error) {
	return m.applySyncCore(t, body, nil, values.Nil, handler)
}
