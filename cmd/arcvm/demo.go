package main

import (
	"github.com/wudi/arcvm/opcodes"
	"github.com/wudi/arcvm/symbol"
	"github.com/wudi/arcvm/values"
	"github.com/wudi/arcvm/vm"
)

// demoSymbols is a small symbol table private to the hand-assembled
// programs below; a real front end would share one table with the
// reader, but nothing here ever reads Arc source.
var demoSymbols = symbol.New()

// factorialCode builds fact-iter(n, acc), spec.md §8's tail-recursive
// factorial: the recursive call is a tail call, so it is compiled as
// an in-place frame rebuild (menv) plus a backward jump rather than a
// new call frame, letting it run arbitrarily many iterations in
// constant stack depth.
//
//	fact-iter(n, acc) = if n is 0 then acc else fact-iter(n-1, acc*n)
func factorialCode() *vm.Code {
	return cachedCode("fact-iter", buildFactorialCode)
}

func buildFactorialCode() *vm.Code {
	a := newAsm("fact-iter")
	a.emit(opcodes.ENV, 2, 0, 0)
	a.mark("loop")
	a.emit(opcodes.LDEI, 0) // n
	a.emit(opcodes.PUSH)
	a.emit(opcodes.LDI, 0)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.IS)
	a.jump(opcodes.JF, "recurse")
	a.emit(opcodes.LDEI, 1) // acc
	a.emit(opcodes.RET)
	a.mark("recurse")
	a.emit(opcodes.LDEI, 0) // n
	a.emit(opcodes.PUSH)
	a.emit(opcodes.LDI, 1)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.SUB) // n-1
	a.emit(opcodes.PUSH)
	a.emit(opcodes.LDEI, 1) // acc
	a.emit(opcodes.PUSH)
	a.emit(opcodes.LDEI, 0) // n
	a.emit(opcodes.PUSH)
	a.emit(opcodes.MUL) // acc*n
	a.emit(opcodes.PUSH)
	a.emit(opcodes.MENV, 2)
	a.jump(opcodes.JMP, "loop")
	return a.code()
}

// adderCodes builds the classic upward-funarg demo (spec.md §8):
// make-adder(n) returns a pair (adder . set-n!), both closures over
// the same make-adder call frame. Applying adder after calling set-n!
// observes the mutation, showing that capturing an environment keeps
// it alive and shared rather than copying it at closure-creation time.
func adderCodes() (makeAdder, adder, setN *vm.Code) {
	adderAsm := newAsm("adder")
	adderAsm.emit(opcodes.ENV, 1, 0, 0)
	adderAsm.emit(opcodes.LDEI, 0) // x
	adderAsm.emit(opcodes.PUSH)
	adderAsm.emit(opcodes.LDE, 1, 0) // n, one frame up
	adderAsm.emit(opcodes.PUSH)
	adderAsm.emit(opcodes.ADD)
	adderAsm.emit(opcodes.RET)
	adder = adderAsm.code()

	setNAsm := newAsm("set-n!")
	setNAsm.emit(opcodes.ENV, 1, 0, 0)
	setNAsm.emit(opcodes.LDEI, 0) // new-n
	setNAsm.emit(opcodes.STE, 1, 0)
	setNAsm.emit(opcodes.NILV)
	setNAsm.emit(opcodes.RET)
	setN = setNAsm.code()

	makeAdder = cachedCode("make-adder", func() *vm.Code {
		m := newAsm("make-adder")
		m.emit(opcodes.ENV, 1, 0, 0)
		adderLit := m.lit(values.Value{Type: values.TypeCode, Obj: adder})
		setNLit := m.lit(values.Value{Type: values.TypeCode, Obj: setN})
		m.emit(opcodes.LDL, adderLit)
		m.emit(opcodes.CLS)
		m.emit(opcodes.PUSH)
		m.emit(opcodes.LDL, setNLit)
		m.emit(opcodes.CLS)
		m.emit(opcodes.PUSH)
		m.emit(opcodes.CONS) // (adder . set-n!)
		m.emit(opcodes.RET)
		return m.code()
	})
	return
}

// escapeSearchDemo builds the driver + search closures for spec.md
// §8's escaping-continuation scenario: search walks a list looking
// for the first negative number, invoking a captured continuation to
// jump straight back to the caller the moment it finds one instead of
// unwinding frame by frame. If none is negative, search's own base
// case returns normally through the same continuation, so the
// driver's RET is reached exactly once either way.
//
// notfoundSym is the symbol search's base case returns when nothing
// negative is found, interned so a caller can recognize it with `is`.
func escapeSearchDemo(list values.Value) (driver *vm.Code, notfoundSym int32) {
	notfoundSym = demoSymbols.Intern("notfound")

	// search itself takes no runtime-specific literals (its only
	// literal is the interned notfoundSym), so unlike the driver below
	// — which bakes the caller's list into a literal per call — it is
	// stable across invocations and worth caching.
	searchCode := cachedCode("search-escape", func() *vm.Code {
		s := newAsm("search")
		s.emit(opcodes.ENV, 2, 0, 0) // params: k, lst
		s.mark("loop")
		s.emit(opcodes.LDEI, 1) // lst
		s.emit(opcodes.PUSH)
		s.emit(opcodes.NILV)
		s.emit(opcodes.PUSH)
		s.emit(opcodes.IS)
		s.jump(opcodes.JF, "continue")
		s.emit(opcodes.LDL, s.lit(values.Sym(notfoundSym)))
		s.emit(opcodes.RET)
		s.mark("continue")
		s.emit(opcodes.LDEI, 1) // lst
		s.emit(opcodes.PUSH)
		s.emit(opcodes.CAR) // cur
		s.emit(opcodes.PUSH)
		s.emit(opcodes.DUP)
		s.emit(opcodes.LDI, 0)
		s.emit(opcodes.PUSH)
		s.emit(opcodes.LT) // cur < 0, stack left with [cur]
		s.jump(opcodes.JF, "skip")
		s.emit(opcodes.LDEI, 0) // k
		s.emit(opcodes.APPLY, 1)
		s.mark("skip")
		s.emit(opcodes.POP) // drop leftover cur
		s.emit(opcodes.LDEI, 0)
		s.emit(opcodes.PUSH)
		s.emit(opcodes.LDEI, 1)
		s.emit(opcodes.PUSH)
		s.emit(opcodes.CDR) // pops lst, VALR <- cdr(lst); stack left with [k]
		s.emit(opcodes.PUSH)
		s.emit(opcodes.MENV, 2)
		s.jump(opcodes.JMP, "loop")
		return s.code()
	})

	d := newAsm("search-driver")
	d.emit(opcodes.ENV, 0, 0, 0)
	d.jump(opcodes.CONT, "after")
	d.emit(opcodes.PUSH) // [k]
	d.emit(opcodes.LDL, d.lit(list))
	d.emit(opcodes.PUSH) // [k, list]
	d.emit(opcodes.LDL, d.lit(values.Value{Type: values.TypeCode, Obj: searchCode}))
	d.emit(opcodes.CLS)
	d.emit(opcodes.APPLY, 2)
	d.mark("after")
	d.emit(opcodes.RET)
	driver = d.code()
	return driver, notfoundSym
}

// riskyDivCode builds a closure that divides by zero unconditionally,
// used to demonstrate on-err catching an arithmetic fault (spec.md
// §4.6/§7).
func riskyDivCode() *vm.Code {
	return cachedCode("risky-div", buildRiskyDivCode)
}

func buildRiskyDivCode() *vm.Code {
	a := newAsm("risky-div")
	a.emit(opcodes.ENV, 0, 0, 0)
	a.emit(opcodes.LDI, 10)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.LDI, 0)
	a.emit(opcodes.PUSH)
	a.emit(opcodes.DIV)
	a.emit(opcodes.RET)
	return a.code()
}

func consInts(xs []int64) values.Value {
	v := values.Nil
	for i := len(xs) - 1; i >= 0; i-- {
		v = values.ConsVal(&values.Cons{Car: values.Fixnum(xs[i]), Cdr: v})
	}
	return v
}
