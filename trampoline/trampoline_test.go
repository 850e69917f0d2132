package trampoline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/arcvm/lexenv"
	"github.com/wudi/arcvm/opcodes"
	"github.com/wudi/arcvm/values"
	"github.com/wudi/arcvm/vm"
)

func closureVal(c *vm.Code, env *lexenv.Env) values.Value {
	return values.Value{Type: values.TypeClosure, Obj: &vm.Closure{Code: c, Env: env}}
}

func TestNewWrapsNilWithFreshVM(t *testing.T) {
	d := New(nil)
	require.NotNil(t, d)
	assert.NotNil(t, d.VM)
}

func TestNewKeepsSuppliedVM(t *testing.T) {
	m := vm.NewVM()
	d := New(m)
	assert.Same(t, m, d.VM)
}

func TestRunReturnsReleasedForSimpleClosure(t *testing.T) {
	code := &vm.Code{
		SourceName: "const-nil",
		Instructions: []opcodes.Instruction{
			{Op: opcodes.ENV},
			{Op: opcodes.LDI, A: 7},
			{Op: opcodes.RET},
		},
	}
	th := vm.NewThread(1, vm.NewGlobals())
	th.VALR = closureVal(code, nil)

	d := New(vm.NewVM())
	outcome, err := d.Run(th, 1000)
	require.NoError(t, err)
	assert.Equal(t, vm.OutcomeReleased, outcome)
	assert.Equal(t, values.Fixnum(7), th.VALR)
}

func TestRunSuspendsOnQuantumExhaustion(t *testing.T) {
	code := &vm.Code{
		SourceName:   "spin",
		Instructions: []opcodes.Instruction{{Op: opcodes.ENV}, {Op: opcodes.JMP, A: 0}},
	}
	th := vm.NewThread(2, vm.NewGlobals())
	th.VALR = closureVal(code, nil)

	d := New(vm.NewVM())
	outcome, err := d.Run(th, 3)
	require.NoError(t, err)
	assert.Equal(t, vm.OutcomeSuspended, outcome)
}
