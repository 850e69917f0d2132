package opcodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpStringKnown(t *testing.T) {
	tests := []struct {
		op   Op
		want string
	}{
		{PUSH, "push"},
		{LDE, "lde"},
		{MENV, "menv"},
		{CONT, "cont"},
		{APPLY, "apply"},
		{RET, "ret"},
		{CLS, "cls"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.String())
	}
}

func TestOpStringUnknown(t *testing.T) {
	unknown := Op(255)
	assert.Equal(t, "op(255)", unknown.String())
}

func TestInstructionString(t *testing.T) {
	inst := Instruction{Op: LDE, A: 1, B: 2, C: 0}
	assert.Equal(t, "lde    1 2 0", inst.String())
}

func TestLeadingOpsHaveStableByteValues(t *testing.T) {
	// Code serialized by bytecodecache embeds raw Op bytes; renumbering
	// an opcode silently corrupts any cached program. Pin the first few
	// as a guard against reordering the enum.
	assert.Equal(t, Op(0), NOP)
	assert.Equal(t, Op(1), PUSH)
	assert.Equal(t, Op(2), POP)
	assert.Equal(t, Op(3), DUP)
}
