// Package gc models the write-barrier contract of spec.md §5: "all
// mutation uses write barriers (WB) around slots of heap objects that
// the GC tracks; the barrier records stores from old-generation to
// young-generation to preserve incremental-collection invariants."
//
// Go's own garbage collector already provides memory safety and
// reclamation for this module; what spec.md actually requires
// observable here is the *protocol* — every slot mutation the VM
// performs on a shared heap object goes through WB, and no mutation
// happens while a macro is being expanded (the scheduler's "nested
// loop with GC paused" rule). This package gives that protocol a
// concrete, lightweight home: a generation counter and a dirty-set
// recorder that a real incremental collector would consume, without
// reimplementing a mark/sweep collector the rest of the engine does
// not need (Go's allocator already satisfies the reachability
// invariant spec.md §3 requires of every live value).
package gc

import "sync"

// Generation distinguishes old objects (allocated before the last GC
// pause) from young ones.
type Generation uint32

// Barrier records every holder passed to WB, tagged with the generation
// current at its first write. It does not compare the generations of
// the holder and the stored value, so same-generation writes are
// recorded too. A real collector would drain the dirty set during its
// next incremental pass and rescan only those objects; this
// implementation just keeps the bookkeeping so WB call sites are real
// and exercised rather than theoretical.
type Barrier struct {
	mu    sync.Mutex
	gen   Generation
	dirty map[any]Generation
	paused bool
}

// NewBarrier constructs a Barrier at generation 0.
func NewBarrier() *Barrier {
	return &Barrier{dirty: make(map[any]Generation)}
}

// WB must be called after every mutation of a slot inside a heap
// object the GC tracks (HeapEnv slots, Cons car/cdr, Vector slots,
// Continuation fields). holder identifies the mutated object.
func (b *Barrier) WB(holder any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.dirty[holder]; !ok {
		b.dirty[holder] = b.gen
	}
}

// Pause suspends barrier-driven collection, for use around macro
// expansion per spec.md §5 ("it must not run while a macro is being
// expanded ... because compiler-local values may not be rooted").
// Neither the scheduler nor the VM calls it, since the VM itself has no
// macro expander (that is the compiler's job per spec.md §1); this hook
// exists for a host embedding a macro-capable compiler on top of this
// engine.
func (b *Barrier) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
}

// Resume re-enables collection after Pause.
func (b *Barrier) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = false
}

// Paused reports whether collection is currently suspended.
func (b *Barrier) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// AdvanceGeneration increments the generation counter and clears the
// dirty set, as a real collector would after completing an
// incremental pass over it.
func (b *Barrier) AdvanceGeneration() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		return
	}
	b.gen++
	b.dirty = make(map[any]Generation)
}

// DirtyCount reports how many distinct holders have been written to
// since the last AdvanceGeneration, for a host to use as the
// "allocation pressure" signal spec.md §5 says triggers a GC pass.
// The scheduler does not read it.
func (b *Barrier) DirtyCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dirty)
}
