package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/arcvm/failure"
	"github.com/wudi/arcvm/ffi"
	"github.com/wudi/arcvm/lexenv"
	"github.com/wudi/arcvm/opcodes"
	"github.com/wudi/arcvm/symbol"
	"github.com/wudi/arcvm/values"
)

func codeVal(c *Code) values.Value { return values.Value{Type: values.TypeCode, Obj: c} }
func closureVal(c *Code, env *lexenv.Env) values.Value {
	return values.Value{Type: values.TypeClosure, Obj: &Closure{Code: c, Env: env}}
}

// runClosure spawns fn (a closure) with args on a fresh thread and
// steps it to completion in one call, failing the test if it suspends
// (none of these programs yield mid-run).
func runClosure(t *testing.T, m *VM, globals *Globals, fn values.Value, args ...values.Value) *Thread {
	t.Helper()
	th := NewThread(1, globals)
	for _, a := range args {
		th.Push(a)
	}
	th.ARGC = len(args)
	th.VALR = fn
	outcome, err := m.Step(th, 100000)
	require.NoError(t, err)
	require.Equal(t, OutcomeReleased, outcome, "trace: %v", th.Trace)
	return th
}

func TestStepSimpleClosureReturnsValue(t *testing.T) {
	a := newTestAsm("const")
	a.emit(opcodes.LDI, 42)
	a.emit(opcodes.RET)

	m := NewVM()
	globals := NewGlobals()
	th := runClosure(t, m, globals, closureVal(a.code(), nil))
	assert.Equal(t, values.Fixnum(42), th.VALR)
}

// TestStepArithmeticStackOrder pins the binary operators' pop order:
// the second PUSH is popped first as b, the first PUSH is popped
// second as a, so `10 push 3 push sub` computes sub(10, 3) and not
// sub(3, 10).
func TestStepArithmeticStackOrder(t *testing.T) {
	a := newTestAsm("sub")
	a.emit(opcodes.LDI, 10)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.LDI, 3)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.SUB)
	a.emit(opcodes.RET)

	m := NewVM()
	th := runClosure(t, m, NewGlobals(), closureVal(a.code(), nil))
	assert.Equal(t, values.Fixnum(7), th.VALR, "sub(10, 3) must be 7, not -7")
}

// TestTailRecursiveFactorial builds fact-iter(n, acc), tail-calling
// itself via `menv` (spec.md §4.2's tail-merge opcode) instead of
// growing the stack, and checks the accumulator-style result.
func TestTailRecursiveFactorial(t *testing.T) {
	a := newTestAsm("fact-iter")
	a.emit(opcodes.ENV, 2, 0, 0)
	a.mark("loop")
	a.emit(opcodes.LDEI, 0) // n
	a.emit(opcodes.PUSH)
	a.emit(opcodes.LDI, 0)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.IS) // n is 0?
	a.jump(opcodes.JF, "body")
	a.emit(opcodes.LDEI, 1) // return acc
	a.emit(opcodes.RET)
	a.mark("body")
	a.emit(opcodes.LDEI, 0) // n
	a.emit(opcodes.PUSH)
	a.emit(opcodes.LDI, 1)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.SUB) // n - 1
	a.emit(opcodes.PUSH)
	a.emit(opcodes.LDEI, 1) // acc
	a.emit(opcodes.PUSH)
	a.emit(opcodes.LDEI, 0) // n
	a.emit(opcodes.PUSH)
	a.emit(opcodes.MUL) // acc * n
	a.emit(opcodes.PUSH)
	a.emit(opcodes.MENV, 2) // rebuild env: slot0=n-1, slot1=acc*n
	a.jump(opcodes.JMP, "loop")

	m := NewVM()
	th := runClosure(t, m, NewGlobals(), closureVal(a.code(), nil), values.Fixnum(5), values.Fixnum(1))
	assert.Equal(t, values.Fixnum(120), th.VALR)
}

// TestUpwardFunargSharedMutation builds make-adder-style closures by
// hand: `adder` and `set-n!` both close over the same frame holding n,
// so mutating n through set-n! must be visible to a later call to
// adder — the upward-funarg scenario spec.md §8 calls out.
func TestUpwardFunargSharedMutation(t *testing.T) {
	adderAsm := newTestAsm("adder")
	adderAsm.emit(opcodes.ENV, 1, 0, 0) // param x
	adderAsm.emit(opcodes.LDEI, 0)      // x
	adderAsm.emit(opcodes.PUSH)
	adderAsm.emit(opcodes.LDE, 1, 0) // n, from parent frame
	adderAsm.emit(opcodes.PUSH)
	adderAsm.emit(opcodes.ADD)
	adderAsm.emit(opcodes.RET)
	adderCode := adderAsm.code()

	setNAsm := newTestAsm("set-n!")
	setNAsm.emit(opcodes.ENV, 1, 0, 0) // param newN
	setNAsm.emit(opcodes.LDEI, 0)
	setNAsm.emit(opcodes.STE, 1, 0) // n (parent) <- newN
	setNAsm.emit(opcodes.RET)
	setNCode := setNAsm.code()

	m := NewVM()
	parent := lexenv.New(nil, 1, 0, 0)
	require.NoError(t, parent.Set(0, 0, values.Fixnum(5)))

	adder := closureVal(adderCode, parent)
	setN := closureVal(setNCode, parent)

	first := runClosure(t, m, NewGlobals(), adder, values.Fixnum(10))
	assert.Equal(t, values.Fixnum(15), first.VALR, "adder(10) with n=5 is 15")

	runClosure(t, m, NewGlobals(), setN, values.Fixnum(7))

	second := runClosure(t, m, NewGlobals(), adder, values.Fixnum(10))
	assert.Equal(t, values.Fixnum(17), second.VALR, "adder(10) must see n mutated to 7 through set-n!")
}

// TestEscapingContinuationSearch builds a `search(k, lst)` that escapes
// through a captured continuation k as soon as it finds a negative
// number, instead of unwinding frame by frame, and a driver that calls
// it via `cont` + `apply` — spec.md §4.3's callcc scenario.
func TestEscapingContinuationSearch(t *testing.T) {
	notfoundTab := symbol.New()
	notfoundSym := notfoundTab.Intern("notfound")

	// search(k, lst): walks lst; if car(lst) < 0, applies k with that
	// value (escaping without visiting the rest of the list); if lst
	// runs out, returns 'notfound via ordinary RET.
	search := newTestAsm("search")
	litNotfound := search.lit(values.Sym(notfoundSym))
	search.emit(opcodes.ENV, 2, 0, 0) // slot0=k, slot1=lst
	search.mark("loop")
	search.emit(opcodes.LDEI, 1) // lst
	search.jump(opcodes.JF, "base")
	search.emit(opcodes.PUSH)
	search.emit(opcodes.CAR) // VALR = cur = car(lst)
	search.emit(opcodes.PUSH) // stack: [cur]
	search.emit(opcodes.DUP) // stack: [cur, cur]
	search.emit(opcodes.LDI, 0)
	search.emit(opcodes.PUSH) // stack: [cur, cur, 0]
	search.emit(opcodes.LT)   // pop 0, pop dup(cur): cur < 0 ?  stack: [cur]
	search.jump(opcodes.JF, "recurse")
	// found: stack still holds [cur]; apply k with cur
	search.emit(opcodes.LDEI, 0) // VALR = k
	search.emit(opcodes.APPLY, 1)
	search.mark("recurse")
	search.emit(opcodes.POP) // drop the leftover cur
	search.emit(opcodes.LDEI, 0) // k
	search.emit(opcodes.PUSH)   // stack: [k]
	search.emit(opcodes.LDEI, 1) // lst
	search.emit(opcodes.PUSH)    // stack: [k, lst]
	search.emit(opcodes.CDR)     // pop lst: VALR = cdr(lst); stack: [k]
	search.emit(opcodes.PUSH)    // stack: [k, cdr(lst)]
	search.emit(opcodes.MENV, 2) // slot0=k, slot1=cdr(lst): push order preserved
	search.jump(opcodes.JMP, "loop")
	search.mark("base")
	search.emit(opcodes.LDL, litNotfound)
	search.emit(opcodes.RET)
	searchCode := search.code()

	driver := newTestAsm("search-driver")
	litSearchCode := driver.lit(codeVal(searchCode))
	driver.emit(opcodes.ENV, 1, 0, 0) // param: the list
	driver.jump(opcodes.CONT, "after")
	driver.emit(opcodes.PUSH)         // stack: [k]
	driver.emit(opcodes.LDEI, 0)      // VALR = lst
	driver.emit(opcodes.PUSH)         // stack: [k, lst]
	driver.emit(opcodes.LDL, litSearchCode)
	driver.emit(opcodes.CLS) // VALR = closure(searchCode, current env)
	driver.emit(opcodes.APPLY, 2)
	driver.mark("after")
	driver.emit(opcodes.RET)
	driverCode := driver.code()

	m := NewVM()

	withNegative := consOf(values.Fixnum(4), values.Fixnum(9), values.Fixnum(-3), values.Fixnum(7))
	th := runClosure(t, m, NewGlobals(), closureVal(driverCode, nil), withNegative)
	assert.Equal(t, values.Fixnum(-3), th.VALR, "search must escape with the first negative element")

	allPositive := consOf(values.Fixnum(4), values.Fixnum(9), values.Fixnum(2), values.Fixnum(7))
	th2 := runClosure(t, m, NewGlobals(), closureVal(driverCode, nil), allPositive)
	require.Equal(t, values.TypeSymbol, th2.VALR.Type)
	assert.Equal(t, notfoundSym, th2.VALR.Sym, "an all-positive list returns normally via the same continuation")
}

func consOf(vs ...values.Value) values.Value {
	out := values.Nil
	for i := len(vs) - 1; i >= 0; i-- {
		out = values.ConsVal(&values.Cons{Car: vs[i], Cdr: out})
	}
	return out
}

func TestUnhandledDivideByZeroReachesHostSinkAfterExiting(t *testing.T) {
	a := newTestAsm("risky-div")
	a.emit(opcodes.LDI, 10)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.LDI, 0)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.DIV)
	a.emit(opcodes.RET)

	m := NewVM()
	var sunk *failure.Exception
	m.OnUnhandled = func(th *Thread, exc *failure.Exception) { sunk = exc }

	th := NewThread(1, NewGlobals())
	th.VALR = closureVal(a.code(), nil)
	th.ARGC = 0
	outcome, err := m.Step(th, 1000)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReleased, outcome, "an unhandled non-fatal exception exits, it doesn't break the thread")
	require.NotNil(t, sunk)
	assert.Equal(t, failure.KindArithmetic, sunk.Kind)
	assert.True(t, th.Exiting)
}

func TestRunOnErrCatchesDivideByZero(t *testing.T) {
	a := newTestAsm("risky-div")
	a.emit(opcodes.LDI, 10)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.LDI, 0)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.DIV)
	a.emit(opcodes.RET)
	body := closureVal(a.code(), nil)

	m := NewVM()
	var sunk *failure.Exception
	m.OnUnhandled = func(th *Thread, exc *failure.Exception) { sunk = exc }

	tab := symbol.New()
	caught := tab.Intern("caught")
	handler := values.Value{Type: values.TypeCFunctionSync, Obj: ffi.SyncFunc{
		Min: 1,
		Fn: func(args []values.Value) (values.Value, error) {
			exc, ok := args[0].Obj.(*failure.Exception)
			require.True(t, ok)
			assert.Equal(t, failure.KindArithmetic, exc.Kind)
			return values.Sym(caught), nil
		},
	}}

	th := NewThread(1, NewGlobals())
	result, err := m.RunOnErr(th, handler, body)
	require.NoError(t, err)
	assert.Nil(t, sunk, "a caught exception must never reach the host sink")
	require.Equal(t, values.TypeSymbol, result.Type)
	assert.Equal(t, caught, result.Sym)
}

// TestRunOnErrNestedInnerHandlesOuterNeverCalled nests on-err the way
// a host composing two independent error scopes would: the inner
// handler catches the fault raised inside its own body, so the outer
// handler (wrapping the whole call) never runs.
func TestRunOnErrNestedInnerHandlesOuterNeverCalled(t *testing.T) {
	a := newTestAsm("risky-div")
	a.emit(opcodes.LDI, 1)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.LDI, 0)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.DIV)
	a.emit(opcodes.RET)
	innerBody := closureVal(a.code(), nil)

	tab := symbol.New()
	innerCaught := tab.Intern("inner-caught")
	innerHandler := values.Value{Type: values.TypeCFunctionSync, Obj: ffi.SyncFunc{
		Min: 1,
		Fn: func(args []values.Value) (values.Value, error) {
			return values.Sym(innerCaught), nil
		},
	}}

	m := NewVM()
	th := NewThread(1, NewGlobals())

	outerCalled := false
	outerHandler := values.Value{Type: values.TypeCFunctionSync, Obj: ffi.SyncFunc{
		Min: 1,
		Fn: func(args []values.Value) (values.Value, error) {
			outerCalled = true
			return values.Nil, nil
		},
	}}
	outerBody := values.Value{Type: values.TypeCFunctionSync, Obj: ffi.SyncFunc{
		Fn: func(args []values.Value) (values.Value, error) {
			return m.RunOnErr(th, innerHandler, innerBody)
		},
	}}

	result, err := m.RunOnErr(th, outerHandler, outerBody)
	require.NoError(t, err)
	assert.False(t, outerCalled, "the inner on-err must catch its own fault before it ever reaches the outer handler")
	require.Equal(t, values.TypeSymbol, result.Type)
	assert.Equal(t, innerCaught, result.Sym)
}

func TestRunProtectAfterRunsOnceOnNormalReturn(t *testing.T) {
	m := NewVM()
	th := NewThread(1, NewGlobals())

	afterRuns := 0
	after := values.Value{Type: values.TypeCFunctionSync, Obj: ffi.SyncFunc{
		Fn: func(args []values.Value) (values.Value, error) {
			afterRuns++
			return values.Nil, nil
		},
	}}
	during := values.Value{Type: values.TypeCFunctionSync, Obj: ffi.SyncFunc{
		Fn: func(args []values.Value) (values.Value, error) {
			return values.Fixnum(99), nil
		},
	}}

	result, err := m.RunProtect(th, during, after)
	require.NoError(t, err)
	assert.Equal(t, 1, afterRuns)
	assert.Equal(t, values.Fixnum(99), result, "protect must return during's value, not after's")
}

// TestRunProtectAfterRunsOnceOnEscapingContinuation is spec.md's
// dynamic-wind example: a during-closure that escapes past protect via
// a continuation captured before protect was ever installed must still
// run the after-closure exactly once, before control reaches the
// continuation's resume point — log ends up (after during).
func TestRunProtectAfterRunsOnceOnEscapingContinuation(t *testing.T) {
	tab := symbol.New()
	logSym := tab.Intern("log")
	duringSym := tab.Intern("during")
	afterSym := tab.Intern("after")
	resumedSym := tab.Intern("resumed")

	globals := NewGlobals()
	globals.Set(logSym, values.Nil)

	during := newTestAsm("during")
	litDuring := during.lit(values.Sym(duringSym))
	litLog1 := during.lit(values.Sym(logSym))
	during.emit(opcodes.ENV, 0, 0, 0)
	during.emit(opcodes.LDL, litDuring)
	during.emit(opcodes.PUSH)
	during.emit(opcodes.LDG, litLog1)
	during.emit(opcodes.PUSH)
	during.emit(opcodes.CONS)
	during.emit(opcodes.STG, litLog1)
	during.emit(opcodes.NILV)
	during.emit(opcodes.PUSH)
	during.emit(opcodes.LDE, 1, 0) // k, captured one frame up
	during.emit(opcodes.APPLY, 1)
	duringCode := during.code()

	after := newTestAsm("after")
	litAfter := after.lit(values.Sym(afterSym))
	litLog2 := after.lit(values.Sym(logSym))
	after.emit(opcodes.ENV, 0, 0, 0)
	after.emit(opcodes.LDL, litAfter)
	after.emit(opcodes.PUSH)
	after.emit(opcodes.LDG, litLog2)
	after.emit(opcodes.PUSH)
	after.emit(opcodes.CONS)
	after.emit(opcodes.STG, litLog2)
	after.emit(opcodes.NILV)
	after.emit(opcodes.RET)
	afterCode := after.code()

	capture := newTestAsm("capture")
	litDuringCode := capture.lit(codeVal(duringCode))
	litResumed := capture.lit(values.Sym(resumedSym))
	capture.emit(opcodes.ENV, 0, 0, 1) // slot0 reserved for k
	capture.jump(opcodes.CONT, "resume-point")
	capture.emit(opcodes.STEI, 0) // save k
	capture.emit(opcodes.LDL, litDuringCode)
	capture.emit(opcodes.CLS) // VALR = during-closure over this frame (holds k)
	capture.emit(opcodes.HLT)
	capture.mark("resume-point")
	capture.emit(opcodes.LDL, litResumed)
	capture.emit(opcodes.RET)
	captureCode := capture.code()

	m := NewVM()
	th := NewThread(1, globals)
	th.VALR = closureVal(captureCode, nil)
	th.ARGC = 0
	outcome, err := m.Step(th, 1000)
	require.NoError(t, err)
	require.Equal(t, OutcomeReleased, outcome)
	duringClosure := th.VALR
	require.Equal(t, values.TypeClosure, duringClosure.Type)

	afterClosure := closureVal(afterCode, nil)

	result, err := m.RunProtect(th, duringClosure, afterClosure)
	require.NoError(t, err)
	require.Equal(t, values.TypeSymbol, result.Type)
	assert.Equal(t, resumedSym, result.Sym, "escaping through the captured continuation resumes captureCode past the cont instruction")

	logVal, ok := globals.Get(logSym)
	require.True(t, ok)
	require.Equal(t, values.TypeCons, logVal.Type)
	cons1 := logVal.Obj.(*values.Cons)
	assert.Equal(t, afterSym, cons1.Car.Sym, "after must run before during's escape resumes")
	require.Equal(t, values.TypeCons, cons1.Cdr.Type)
	cons2 := cons1.Cdr.Obj.(*values.Cons)
	assert.Equal(t, duringSym, cons2.Car.Sym)
	assert.Equal(t, values.Nil, cons2.Cdr)
}
