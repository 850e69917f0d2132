// Package trampoline is the scheduler-facing name for spec.md §4.1's
// trampoline loop. The state machine it describes — RESUME, FNAPP,
// RC, SUSPEND — is implemented by vm.VM.Step, because restoring a
// continuation and stepping bytecode share too much Thread-mutating
// logic to live in a separate package without an import cycle (see
// SPEC_FULL.md's module map). Trampoline exists so a scheduler can
// depend on a small, named surface instead of reaching into vm
// directly, and so the "one call = one scheduling quantum" contract
// has a home independent of the VM's internals.
package trampoline

import (
	"github.com/wudi/arcvm/vm"
)

// Driver runs threads to completion or suspension, one quantum at a
// time.
type Driver struct {
	VM *vm.VM
}

// New wraps a vm.VM (or, if nil, a fresh one) as a trampoline Driver.
func New(m *vm.VM) *Driver {
	if m == nil {
		m = vm.NewVM()
	}
	return &Driver{VM: m}
}

// Run advances t by up to quanta instructions, stopping earlier if t
// suspends (yields, blocks on I/O, or the quantum is exhausted) or
// halts (returns normally, is released by an uncaught exception, or
// is marked broken by an unrecoverable fault). The scheduler calls
// Run once per thread per round; it never needs to inspect CONR/ECONR
// or bytecode itself.
func (d *Driver) Run(t *vm.Thread, quanta int) (vm.Outcome, error) {
	return d.VM.Step(t, quanta)
}
