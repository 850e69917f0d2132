package vm

import (
	"fmt"

	"github.com/wudi/arcvm/opcodes"
	"github.com/wudi/arcvm/values"
)

// testAsm is a minimal two-pass labeled assembler for hand-written test
// programs, letting tests name jump targets instead of computing
// relative offsets by hand. Mirrors cmd/arcvm/asm.go's shape, kept
// test-local since nothing outside _test.go files needs to hand-build
// bytecode.
type testAsm struct {
	name    string
	ops     []opcodes.Instruction
	lits    []values.Value
	labels  map[string]int
	pending map[string][]int
}

func newTestAsm(name string) *testAsm {
	return &testAsm{name: name, labels: make(map[string]int), pending: make(map[string][]int)}
}

func (a *testAsm) lit(v values.Value) int32 {
	a.lits = append(a.lits, v)
	return int32(len(a.lits) - 1)
}

func (a *testAsm) mark(name string) {
	a.labels[name] = len(a.ops)
	for _, idx := range a.pending[name] {
		a.ops[idx].A = int32(len(a.ops) - idx)
	}
	delete(a.pending, name)
}

func (a *testAsm) emit(op opcodes.Op, operands ...int32) {
	inst := opcodes.Instruction{Op: op}
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

func (a *testAsm) jump(op opcodes.Op, target string) {
	idx := len(a.ops)
	a.ops = append(a.ops, opcodes.Instruction{Op: op})
	if pos, ok := a.labels[target]; ok {
		a.ops[idx].A = int32(pos - idx)
		return
	}
	a.pending[target] = append(a.pending[target], idx)
}

func (a *testAsm) code() *Code {
	if len(a.pending) != 0 {
		panic(fmt.Sprintf("vm test %q: unresolved label(s) %v", a.name, a.pending))
	}
	return &Code{Version: 1, SourceName: a.name, Instructions: a.ops, Literals: a.lits}
}
