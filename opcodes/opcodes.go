// Package opcodes defines the Arc bytecode instruction set of
// spec.md §4.2: roughly forty opcodes operating on a per-thread value
// stack, with results placed in VALR. Mirrors the flat byte-enum +
// Instruction-struct style of the teacher's opcodes package.
package opcodes

import "fmt"

// Op identifies a single bytecode instruction.
type Op byte

const (
	NOP Op = iota

	// Stack/register movement.
	PUSH
	POP
	DUP
	LDI  // ldi K        VALR <- immediate K
	LDL  // ldl N        VALR <- literal N
	LDG  // ldg N        VALR <- global bound to symbol literal N
	STG  // stg N        global[symbol N] <- VALR
	LDE  // lde D,I      VALR <- env slot (depth D, index I)
	STE  // ste D,I      env slot (depth D, index I) <- VALR
	LDEI // ldei I       shorthand for lde 0,I
	STEI // stei I       shorthand for ste 0,I

	// Environment / call frame construction.
	ENV  // env P,O,X    build environment: P required, O optional, X extra
	ENVR // envr P,O,X   as ENV, trailing args collected into rest param
	MENV // menv N       tail-merge: rebuild current env from top N stack values

	// Continuations and control transfer.
	CONT  // cont Δ       push continuation resuming at IP+Δ, clear stack
	APPLY // apply N      ARGC <- N; trampoline transition FNAPP
	RET   // ret          trampoline transition RC
	JMP   // jmp Δ
	JT    // jt Δ         jump if truthy
	JF    // jf Δ         jump if falsy
	JBND  // jbnd Δ       jump if VALR is bound (not unbound)

	// Constants.
	TRUE
	NILV
	HLT // hlt          thread state <- released; return to scheduler

	// Arithmetic (delegates to the numeric tower).
	ADD
	SUB
	MUL
	DIV

	// List primitives.
	CONS
	CAR
	CDR
	SCAR // scar  set-car!
	SCDR // scdr  set-cdr!
	CONSR
	SPL // spl   splice / append

	// Comparisons.
	IS
	ISO
	GT
	LT

	// Closures.
	CLS // cls  VALR <- closure over current env and code in VALR
)

var names = map[Op]string{
	NOP: "nop", PUSH: "push", POP: "pop", DUP: "dup",
	LDI: "ldi", LDL: "ldl", LDG: "ldg", STG: "stg",
	LDE: "lde", STE: "ste", LDEI: "ldei", STEI: "stei",
	ENV: "env", ENVR: "envr", MENV: "menv",
	CONT: "cont", APPLY: "apply", RET: "ret",
	JMP: "jmp", JT: "jt", JF: "jf", JBND: "jbnd",
	TRUE: "true", NILV: "nil", HLT: "hlt",
	ADD: "add", SUB: "sub", MUL: "mul", DIV: "div",
	CONS: "cons", CAR: "car", CDR: "cdr", SCAR: "scar", SCDR: "scdr",
	CONSR: "consr", SPL: "spl",
	IS: "is", ISO: "iso", GT: "gt", LT: "lt",
	CLS: "cls",
}

func (o Op) String() string {
	if n, ok := names[o]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", byte(o))
}

// Instruction is one bytecode instruction: an opcode plus up to three
// operand words, per spec.md §6 ("one opcode word followed by 0-3
// operand words"). Jump operands (A) are relative to the opcode's own
// index in the owning Code's instruction vector, making code
// position-independent.
type Instruction struct {
	Op   Op
	A, B, C int32
}

func (i Instruction) String() string {
	return fmt.Sprintf("%-6s %d %d %d", i.Op, i.A, i.B, i.C)
}
