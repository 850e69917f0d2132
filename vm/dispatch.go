package vm

import (
	"fmt"

	"github.com/wudi/arcvm/lexenv"
	"github.com/wudi/arcvm/numeric"
	"github.com/wudi/arcvm/opcodes"
	"github.com/wudi/arcvm/values"
)

// exec executes one instruction, centralizing the "an opcode's error
// becomes a catchable exception" policy of spec.md §7 so the
// individual opcode handlers below can just return a plain Go error.
// advance tells runBytecode whether to increment IP itself; opcodes
// that set IP directly (jumps) or that leave bytecode execution
// altogether (apply/ret/hlt/cont-into-escape) report false.
func (m *VM) exec(t *Thread, inst opcodes.Instruction) (advance bool, tr transition, err error) {
	adv, tr2, operr := m.dispatch(t, inst)
	if operr != nil {
		tr3, rerr := m.raiseErr(t, operr)
		if rerr != nil {
			return false, 0, rerr
		}
		return false, tr3, nil
	}
	return adv, tr2, nil
}

func (m *VM) dispatch(t *Thread, inst opcodes.Instruction) (bool, transition, error) {
	switch inst.Op {
	case opcodes.NOP:
		return true, transResume, nil

	case opcodes.PUSH:
		t.Push(t.VALR)
		return true, transResume, nil
	case opcodes.POP:
		if _, ok := t.Pop(); !ok {
			return true, transResume, fmt.Errorf("pop: stack underflow")
		}
		return true, transResume, nil
	case opcodes.DUP:
		if len(t.Stack) == 0 {
			return true, transResume, fmt.Errorf("dup: stack underflow")
		}
		t.Push(t.Stack[len(t.Stack)-1])
		return true, transResume, nil

	case opcodes.LDI:
		t.VALR = values.Fixnum(int64(inst.A))
		return true, transResume, nil
	case opcodes.LDL:
		lit, err := literal(t, inst.A)
		if err != nil {
			return true, transResume, err
		}
		t.VALR = lit
		return true, transResume, nil
	case opcodes.LDG:
		sym, err := literalSymbol(t, inst.A)
		if err != nil {
			return true, transResume, err
		}
		v, ok := t.Globals.Get(sym)
		if !ok {
			return true, transResume, fmt.Errorf("ldg: unbound global %d", sym)
		}
		t.VALR = v
		return true, transResume, nil
	case opcodes.STG:
		sym, err := literalSymbol(t, inst.A)
		if err != nil {
			return true, transResume, err
		}
		t.Globals.Set(sym, t.VALR)
		if m.Barrier != nil {
			m.Barrier.WB(t.Globals)
		}
		return true, transResume, nil
	case opcodes.LDE:
		v, err := t.ENVR.Get(int(inst.A), int(inst.B))
		if err != nil {
			return true, transResume, err
		}
		t.VALR = v
		return true, transResume, nil
	case opcodes.STE:
		if err := m.storeEnvSlot(t, int(inst.A), int(inst.B)); err != nil {
			return true, transResume, err
		}
		return true, transResume, nil
	case opcodes.LDEI:
		v, err := t.ENVR.Get(0, int(inst.A))
		if err != nil {
			return true, transResume, err
		}
		t.VALR = v
		return true, transResume, nil
	case opcodes.STEI:
		if err := m.storeEnvSlot(t, 0, int(inst.A)); err != nil {
			return true, transResume, err
		}
		return true, transResume, nil

	case opcodes.ENV:
		if err := m.buildEnv(t, inst, false); err != nil {
			return true, transResume, err
		}
		return true, transResume, nil
	case opcodes.ENVR:
		if err := m.buildEnv(t, inst, true); err != nil {
			return true, transResume, err
		}
		return true, transResume, nil
	case opcodes.MENV:
		n := int(inst.A)
		args, ok := t.PopN(n)
		if !ok {
			return true, transResume, fmt.Errorf("menv: stack underflow popping %d values", n)
		}
		if t.ENVR == nil {
			return true, transResume, fmt.Errorf("menv: no environment to rebuild")
		}
		t.ENVR.Promote()
		t.ENVR.Rebuild(args)
		return true, transResume, nil

	case opcodes.CONT:
		k := &Continuation{
			ReturnOffset: t.IP + int(inst.A),
			Func:         t.FUNR,
			Env:          t.ENVR,
			Code:         t.Code,
			SavedStack:   append([]values.Value(nil), t.Stack...),
			SavedConr:    t.CONR,
			SavedEconr:   t.ECONR,
			FPS:          len(t.Stack),
		}
		if t.ENVR != nil {
			t.ENVR.Promote()
		}
		t.CONR = append([]*Continuation{k}, t.CONR...)
		t.VALR = values.Value{Type: values.TypeContinuation, Obj: k}
		t.Stack = nil
		return true, transResume, nil

	case opcodes.APPLY:
		t.ARGC = int(inst.A)
		return false, transFNApp, nil
	case opcodes.RET:
		return false, transRC, nil

	case opcodes.JMP:
		t.IP += int(inst.A)
		return false, transResume, nil
	case opcodes.JT:
		if values.Truthy(t.VALR) {
			t.IP += int(inst.A)
			return false, transResume, nil
		}
		return true, transResume, nil
	case opcodes.JF:
		if !values.Truthy(t.VALR) {
			t.IP += int(inst.A)
			return false, transResume, nil
		}
		return true, transResume, nil
	case opcodes.JBND:
		if t.VALR.Type != values.TypeUnbound {
			t.IP += int(inst.A)
			return false, transResume, nil
		}
		return true, transResume, nil

	case opcodes.TRUE:
		t.VALR = values.True
		return true, transResume, nil
	case opcodes.NILV:
		t.VALR = values.Nil
		return true, transResume, nil
	case opcodes.HLT:
		return false, transHalt, nil

	case opcodes.ADD:
		b, ok1 := t.Pop()
		a, ok2 := t.Pop()
		if !ok1 || !ok2 {
			return true, transResume, fmt.Errorf("add: stack underflow")
		}
		res, err := addValues(a, b)
		if err != nil {
			return true, transResume, err
		}
		t.VALR = res
		return true, transResume, nil
	case opcodes.SUB:
		return true, transResume, m.binNumeric(t, numeric.Sub)
	case opcodes.MUL:
		return true, transResume, m.binNumeric(t, numeric.Mul)
	case opcodes.DIV:
		return true, transResume, m.binNumeric(t, numeric.Div)

	case opcodes.CONS:
		b, ok1 := t.Pop()
		a, ok2 := t.Pop()
		if !ok1 || !ok2 {
			return true, transResume, fmt.Errorf("cons: stack underflow")
		}
		t.VALR = values.ConsVal(&values.Cons{Car: a, Cdr: b})
		return true, transResume, nil
	case opcodes.CAR:
		v, ok := t.Pop()
		if !ok {
			return true, transResume, fmt.Errorf("car: stack underflow")
		}
		c, ok := v.Obj.(*values.Cons)
		if v.Type != values.TypeCons || !ok {
			return true, transResume, fmt.Errorf("car: %s is not a cons", v.Type)
		}
		t.VALR = c.Car
		return true, transResume, nil
	case opcodes.CDR:
		v, ok := t.Pop()
		if !ok {
			return true, transResume, fmt.Errorf("cdr: stack underflow")
		}
		c, ok := v.Obj.(*values.Cons)
		if v.Type != values.TypeCons || !ok {
			return true, transResume, fmt.Errorf("cdr: %s is not a cons", v.Type)
		}
		t.VALR = c.Cdr
		return true, transResume, nil
	case opcodes.SCAR:
		newCar, ok1 := t.Pop()
		target, ok2 := t.Pop()
		if !ok1 || !ok2 {
			return true, transResume, fmt.Errorf("scar: stack underflow")
		}
		c, ok := target.Obj.(*values.Cons)
		if target.Type != values.TypeCons || !ok {
			return true, transResume, fmt.Errorf("scar: %s is not a cons", target.Type)
		}
		c.Car = newCar
		if m.Barrier != nil {
			m.Barrier.WB(c)
		}
		t.VALR = target
		return true, transResume, nil
	case opcodes.SCDR:
		newCdr, ok1 := t.Pop()
		target, ok2 := t.Pop()
		if !ok1 || !ok2 {
			return true, transResume, fmt.Errorf("scdr: stack underflow")
		}
		c, ok := target.Obj.(*values.Cons)
		if target.Type != values.TypeCons || !ok {
			return true, transResume, fmt.Errorf("scdr: %s is not a cons", target.Type)
		}
		c.Cdr = newCdr
		if m.Barrier != nil {
			m.Barrier.WB(c)
		}
		t.VALR = target
		return true, transResume, nil
	case opcodes.CONSR:
		cdr, ok := t.Pop()
		if !ok {
			return true, transResume, fmt.Errorf("consr: stack underflow")
		}
		t.VALR = values.ConsVal(&values.Cons{Car: t.VALR, Cdr: cdr})
		return true, transResume, nil
	case opcodes.SPL:
		b, ok1 := t.Pop()
		a, ok2 := t.Pop()
		if !ok1 || !ok2 {
			return true, transResume, fmt.Errorf("spl: stack underflow")
		}
		spliced, err := splice(a, b)
		if err != nil {
			return true, transResume, err
		}
		t.VALR = spliced
		return true, transResume, nil

	case opcodes.IS:
		b, ok1 := t.Pop()
		a, ok2 := t.Pop()
		if !ok1 || !ok2 {
			return true, transResume, fmt.Errorf("is: stack underflow")
		}
		t.VALR = values.Bool(values.Is(a, b))
		return true, transResume, nil
	case opcodes.ISO:
		b, ok1 := t.Pop()
		a, ok2 := t.Pop()
		if !ok1 || !ok2 {
			return true, transResume, fmt.Errorf("iso: stack underflow")
		}
		t.VALR = values.Bool(isoEqual(a, b))
		return true, transResume, nil
	case opcodes.GT:
		b, ok1 := t.Pop()
		a, ok2 := t.Pop()
		if !ok1 || !ok2 {
			return true, transResume, fmt.Errorf("gt: stack underflow")
		}
		cmp, err := numeric.Compare(a, b)
		if err != nil {
			return true, transResume, err
		}
		t.VALR = values.Bool(cmp > 0)
		return true, transResume, nil
	case opcodes.LT:
		b, ok1 := t.Pop()
		a, ok2 := t.Pop()
		if !ok1 || !ok2 {
			return true, transResume, fmt.Errorf("lt: stack underflow")
		}
		cmp, err := numeric.Compare(a, b)
		if err != nil {
			return true, transResume, err
		}
		t.VALR = values.Bool(cmp < 0)
		return true, transResume, nil

	case opcodes.CLS:
		code, ok := t.VALR.Obj.(*Code)
		if t.VALR.Type != values.TypeCode || !ok {
			return true, transResume, fmt.Errorf("cls: %s is not a code object", t.VALR.Type)
		}
		if t.ENVR != nil {
			t.ENVR.Promote()
		}
		t.VALR = values.Value{Type: values.TypeClosure, Obj: &Closure{Code: code, Env: t.ENVR}}
		return true, transResume, nil

	default:
		return true, transResume, fmt.Errorf("invalid opcode %s", inst.Op)
	}
}

func literal(t *Thread, n int32) (values.Value, error) {
	if t.Code == nil || n < 0 || int(n) >= len(t.Code.Literals) {
		return values.Nil, fmt.Errorf("ldl: literal index %d out of range", n)
	}
	return t.Code.Literals[n], nil
}

func literalSymbol(t *Thread, n int32) (int32, error) {
	lit, err := literal(t, n)
	if err != nil {
		return 0, err
	}
	if lit.Type != values.TypeSymbol {
		return 0, fmt.Errorf("expected symbol literal at index %d, got %s", n, lit.Type)
	}
	return lit.Sym, nil
}

// buildEnv implements the `env`/`envr` opcodes: pop the arguments the
// preceding `apply` left on the stack and bind them into a fresh
// environment chained off the caller's (spec.md §4.2/§4.3).
func (m *VM) buildEnv(t *Thread, inst opcodes.Instruction, rest bool) error {
	p, o, x := int(inst.A), int(inst.B), int(inst.C)
	n := t.ARGC
	if rest {
		if n < p {
			return fmt.Errorf("envr: expected at least %d arguments, got %d", p, n)
		}
	} else if n < p || n > p+o {
		return fmt.Errorf("env: expected between %d and %d arguments, got %d", p, p+o, n)
	}
	args, ok := t.PopN(n)
	if !ok {
		return fmt.Errorf("env: stack underflow popping %d arguments", n)
	}
	extra := x
	if rest {
		extra++
	}
	env := lexenv.New(t.ENVR, p, o, extra)
	for i := 0; i < p+o && i < len(args); i++ {
		env.Slots[i] = args[i]
	}
	if rest {
		restList := values.Nil
		for i := len(args) - 1; i >= p+o; i-- {
			restList = values.ConsVal(&values.Cons{Car: args[i], Cdr: restList})
		}
		env.Slots[p+o+x] = restList
	}
	t.ENVR = env
	return nil
}

// storeEnvSlot implements `ste`/`stei`: resolve the frame the depth
// addresses before mutating it, so the write barrier (spec.md §5)
// records the actual heap object written to rather than the calling
// frame.
func (m *VM) storeEnvSlot(t *Thread, depth, index int) error {
	target, err := t.ENVR.At(depth)
	if err != nil {
		return err
	}
	if err := target.Set(0, index, t.VALR); err != nil {
		return err
	}
	if m.Barrier != nil {
		m.Barrier.WB(target)
	}
	return nil
}

func (m *VM) binNumeric(t *Thread, op func(a, b values.Value) (values.Value, error)) error {
	b, ok1 := t.Pop()
	a, ok2 := t.Pop()
	if !ok1 || !ok2 {
		return fmt.Errorf("arithmetic: stack underflow")
	}
	res, err := op(a, b)
	if err != nil {
		return err
	}
	t.VALR = res
	return nil
}

// addValues implements the `add` opcode's full overload set (spec.md
// §4.2): list append, string concatenation, and char+string
// concatenation take priority over the numeric tower, which handles
// everything else (and raises the type-mismatch error for anything
// not addable).
func addValues(a, b values.Value) (values.Value, error) {
	switch {
	case isListy(a) && isListy(b):
		return splice(a, b)
	case a.Type == values.TypeString && b.Type == values.TypeString:
		sa, sb := a.Obj.(*values.String), b.Obj.(*values.String)
		return values.Str(values.NewString(sa.String() + sb.String())), nil
	case a.Type == values.TypeChar && b.Type == values.TypeString:
		sb := b.Obj.(*values.String)
		return values.Str(values.NewString(string(rune(a.Fixnum)) + sb.String())), nil
	case a.Type == values.TypeString && b.Type == values.TypeChar:
		sa := a.Obj.(*values.String)
		return values.Str(values.NewString(sa.String() + string(rune(b.Fixnum)))), nil
	default:
		return numeric.Add(a, b)
	}
}

func isListy(v values.Value) bool {
	return v.Type == values.TypeNil || v.Type == values.TypeCons
}

// splice implements the `spl` opcode: a non-destructive list append of
// a and b, mirroring Arc's `join`/`splice` when both operands are
// proper lists.
func splice(a, b values.Value) (values.Value, error) {
	if a.Type == values.TypeNil {
		return b, nil
	}
	c, ok := a.Obj.(*values.Cons)
	if a.Type != values.TypeCons || !ok {
		return values.Nil, fmt.Errorf("spl: %s is not a list", a.Type)
	}
	tail, err := splice(c.Cdr, b)
	if err != nil {
		return values.Nil, err
	}
	return values.ConsVal(&values.Cons{Car: c.Car, Cdr: tail}), nil
}

// isoEqual implements `iso`'s structural (as opposed to `is`'s
// pointer/immediate) equality, recursing through conses and vectors
// and comparing strings and numbers by content.
func isoEqual(a, b values.Value) bool {
	if numeric.IsNumber(a) && numeric.IsNumber(b) {
		return numeric.NumEqual(a, b)
	}
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case values.TypeCons:
		ca, aok := a.Obj.(*values.Cons)
		cb, bok := b.Obj.(*values.Cons)
		if !aok || !bok {
			return false
		}
		return isoEqual(ca.Car, cb.Car) && isoEqual(ca.Cdr, cb.Cdr)
	case values.TypeVector:
		va, aok := a.Obj.(*values.Vector)
		vb, bok := b.Obj.(*values.Vector)
		if !aok || !bok || len(va.Slots) != len(vb.Slots) {
			return false
		}
		for i := range va.Slots {
			if !isoEqual(va.Slots[i], vb.Slots[i]) {
				return false
			}
		}
		return true
	case values.TypeString:
		sa, aok := a.Obj.(*values.String)
		sb, bok := b.Obj.(*values.String)
		return aok && bok && sa.String() == sb.String()
	default:
		return values.Is(a, b)
	}
}
