// Package lexenv implements the environment model of spec.md §4.3:
// lexical bindings addressed by (depth, index), with a parent chain
// that every closure's environment must eventually terminate through
// nil or a shared top-level environment.
//
// spec.md distinguishes stack-resident environments (fast, default,
// valid only while the owning frame is intact) from heap-promoted
// ones (copied out when captured by callcc, a closure, or an I/O
// suspension). This implementation takes the legal simplification
// spec.md §9's Open Question allows: every Env is a normal Go heap
// value from the start, so "promotion" degrades to bookkeeping
// (Env.Promoted) rather than a slot copy-and-rewrite pass. The cost
// the spec calls out — the inability to reclaim a never-captured
// frame's environment early — lands on the Go garbage collector
// instead of a bespoke allocator, which is the tradeoff this
// simplification is meant to make.
package lexenv

import (
	"errors"

	"github.com/wudi/arcvm/values"
)

// Env is one lexical frame: a flat slot vector plus a parent link.
// Required parameters occupy the first slots, then optional
// parameters (defaulting to Unbound), then extras (defaulting to
// Unbound; a rest parameter collects trailing arguments into the
// final slot when the frame was built with envr semantics).
type Env struct {
	Parent   *Env
	Slots    []values.Value
	Promoted bool
}

// New builds a fresh environment with P required + O optional + X
// extra slots, matching the `env P,O,X` opcode of spec.md §4.2/§4.3.
// All slots start Unbound; the caller fills required slots from the
// call's arguments.
func New(parent *Env, required, optional, extra int) *Env {
	n := required + optional + extra
	slots := make([]values.Value, n)
	for i := range slots {
		slots[i] = values.Unbound
	}
	return &Env{Parent: parent, Slots: slots}
}

// ErrDepthOutOfRange is returned when `lde`/`ste` walks past the root
// of the parent chain.
var ErrDepthOutOfRange = errors.New("lexenv: depth exceeds parent chain")

// ErrIndexOutOfRange is returned when a slot index is outside the
// addressed environment's slot vector.
var ErrIndexOutOfRange = errors.New("lexenv: slot index out of range")

func (e *Env) at(depth int) (*Env, error) {
	cur := e
	for i := 0; i < depth; i++ {
		if cur == nil {
			return nil, ErrDepthOutOfRange
		}
		cur = cur.Parent
	}
	if cur == nil {
		return nil, ErrDepthOutOfRange
	}
	return cur, nil
}

// At exposes the frame depth levels up from e, letting a caller that
// mutates a slot through Set (the VM's `ste`/`stei` opcodes) identify
// which Env is the write barrier's holder.
func (e *Env) At(depth int) (*Env, error) { return e.at(depth) }

// Get implements `lde D,I` (and, with D=0, `ldei I`).
func (e *Env) Get(depth, index int) (values.Value, error) {
	target, err := e.at(depth)
	if err != nil {
		return values.Nil, err
	}
	if index < 0 || index >= len(target.Slots) {
		return values.Nil, ErrIndexOutOfRange
	}
	return target.Slots[index], nil
}

// Set implements `ste D,I` (and, with D=0, `stei I`).
func (e *Env) Set(depth, index int, v values.Value) error {
	target, err := e.at(depth)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(target.Slots) {
		return ErrIndexOutOfRange
	}
	target.Slots[index] = v
	return nil
}

// Promote marks e and its ancestors as heap-promoted. The VM calls it
// when `cls` captures e in a closure, when `cont` captures a
// continuation whose environment is e, and before `menv` rebuilds e;
// a thread suspending does not call it. See the package doc for why
// this degrades to bookkeeping here.
func (e *Env) Promote() {
	for cur := e; cur != nil && !cur.Promoted; cur = cur.Parent {
		cur.Promoted = true
	}
}

// Rebuild implements the `menv N` tail-merge opcode: replace e's own
// slots in place from newSlots, keeping the same parent and the same
// Env identity, so any reference already captured to this frame
// resolves the way a same-frame tail call should.
func (e *Env) Rebuild(newSlots []values.Value) {
	e.Slots = newSlots
}

// Clone returns a shallow copy of e's slot vector sharing e's parent.
// The VM does not call it: a non-tail apply gets its fresh frame from
// New via the `env`/`envr` opcodes.
func (e *Env) Clone() *Env {
	slots := make([]values.Value, len(e.Slots))
	copy(slots, e.Slots)
	return &Env{Parent: e.Parent, Slots: slots, Promoted: e.Promoted}
}
