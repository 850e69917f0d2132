package vm

import (
	"github.com/wudi/arcvm/lexenv"
	"github.com/wudi/arcvm/values"
)

// Continuation is the heap object of spec.md §3's Continuation row:
// "[return-offset, func, env, saved-stack, saved-cont-reg,
// saved-err-reg, protect-slot, protect-saved-value, fps]."
//
// Protect holds the after-closure installed by `protect` as a plain
// value rather than a nested continuation: restoring or escaping past
// this continuation runs it via VM.ApplySync exactly once, which is
// what spec.md §4.6 requires without needing a bytecode compiler to
// emit a dedicated after-continuation.
type Continuation struct {
	ReturnOffset int
	Func         values.Value
	Env          *lexenv.Env
	Code         *Code
	SavedStack   []values.Value
	SavedConr    []*Continuation
	SavedEconr   []*ErrHandler
	FPS          int

	Protect           values.Value
	ProtectPending    bool
	ProtectSavedValue values.Value

	// NativeResume, when set, means restoring this continuation means
	// "run this Go callback, then proceed as whatever transition it
	// reports" rather than jumping into bytecode. Used to splice a
	// resumable foreign function's call-return point into the ordinary
	// continuation-restoration path (see VM.handleSignal's SigCall
	// case) without requiring a bytecode compiler for it.
	NativeResume func(m *VM, t *Thread) (transition, error)

	// Sentinel marks a continuation installed by ApplySync to mean
	// "return control to the Go caller" rather than to any bytecode
	// address.
	Sentinel bool
}

// ErrHandler is an ECONR entry (spec.md §4.6's on-err): "a new
// top-of-ECONR entry whose fields equal the current CONR state."
type ErrHandler struct {
	Handler    values.Value
	SavedConr  []*Continuation
	SavedEconr []*ErrHandler
}
