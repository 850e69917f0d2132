package main

import (
	"fmt"

	"github.com/wudi/arcvm/opcodes"
	"github.com/wudi/arcvm/values"
	"github.com/wudi/arcvm/vm"
)

// asm is a tiny two-pass assembler for hand-written demo bytecode. It
// exists only so the demo programs below can say "jump to loop"
// instead of counting instruction offsets by hand; nothing under
// vm/ or opcodes/ depends on it.
type asm struct {
	name    string
	ops     []opcodes.Instruction
	lits    []values.Value
	labels  map[string]int
	pending map[string][]int
}

func newAsm(name string) *asm {
	return &asm{name: name, labels: make(map[string]int), pending: make(map[string][]int)}
}

func (a *asm) lit(v values.Value) int32 {
	a.lits = append(a.lits, v)
	return int32(len(a.lits) - 1)
}

// mark records name as pointing at the next instruction to be
// emitted, resolving any jumps already emitted toward it.
func (a *asm) mark(name string) {
	pos := len(a.ops)
	a.labels[name] = pos
	for _, idx := range a.pending[name] {
		a.ops[idx].A = int32(pos - idx)
	}
	delete(a.pending, name)
}

func (a *asm) emit(op opcodes.Op, operands ...int32) {
	var inst opcodes.Instruction
	inst.Op = op
	if len(operands) > 0 {
		inst.A = operands[0]
	}
	if len(operands) > 1 {
		inst.B = operands[1]
	}
	if len(operands) > 2 {
		inst.C = operands[2]
	}
	a.ops = append(a.ops, inst)
}

// jump emits op with its A operand resolved to target, forward or
// backward, patching it once target is mark()ed if it isn't yet.
func (a *asm) jump(op opcodes.Op, target string) {
	idx := len(a.ops)
	a.ops = append(a.ops, opcodes.Instruction{Op: op})
	if pos, ok := a.labels[target]; ok {
		a.ops[idx].A = int32(pos - idx)
		return
	}
	a.pending[target] = append(a.pending[target], idx)
}

// code finalizes the program, panicking if a label was jumped to but
// never mark()ed — a bug in the demo program, not something a real
// compiler's caller could trigger at runtime.
func (a *asm) code() *vm.Code {
	if len(a.pending) != 0 {
		panic(fmt.Sprintf("arcvm demo %q: unresolved label(s) %v", a.name, a.pending))
	}
	return &vm.Code{
		Version:      1,
		SourceName:   a.name,
		Instructions: append([]opcodes.Instruction(nil), a.ops...),
		Literals:     append([]values.Value(nil), a.lits...),
	}
}
