// Package scheduler implements the cooperative green-thread scheduler
// of spec.md §4.5: a single OS thread round-robins a pool of
// interpreter threads, running each for one quantum via the
// trampoline, and moves threads between ready/sleeping/iowait sets as
// they suspend. Grounded on the teacher pack's MongooseMoo-barn
// scheduler (a timer-driven ready queue plus a container/heap
// priority queue for timed wakeups) and joeycumines-go-utilpkg's
// eventloop package for the single-goroutine drive-to-idle pattern,
// adapted from goroutine-per-task concurrency to true cooperative
// (one goroutine, quantum-sliced) scheduling, since spec.md's threads
// share registers/stack via the trampoline rather than running on
// independent Go stacks.
package scheduler

import (
	"container/heap"
	"log"
	"sync"
	"time"

	"github.com/wudi/arcvm/trampoline"
	"github.com/wudi/arcvm/values"
	"github.com/wudi/arcvm/vm"
)

// Scheduler owns every live thread and drives them to completion.
type Scheduler struct {
	mu sync.Mutex

	globals   *vm.Globals
	driver    *trampoline.Driver
	quantum   int
	nextID    int64
	threads   map[int64]*vm.Thread
	ready     []int64
	sleeping  sleepHeap
	poller    *Poller
	stop      chan struct{}
	idleSleep time.Duration
}

// Config bundles the scheduler's tunables (spec.md §9's Q quantum and
// friends; see config.Config for where these are sourced from a host
// process).
type Config struct {
	Quantum   int
	IdleSleep time.Duration
	// Profile, when set, is attached to the scheduler's VM so every
	// thread's instruction execution is recorded (spec.md §1's trace
	// hook, see vm.Profile).
	Profile *vm.Profile
}

// New constructs a Scheduler sharing globals across every thread it
// spawns.
func New(globals *vm.Globals, cfg Config) *Scheduler {
	if cfg.Quantum <= 0 {
		cfg.Quantum = 10000
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 5 * time.Millisecond
	}
	engine := vm.NewVM()
	engine.Profile = cfg.Profile
	return &Scheduler{
		globals:   globals,
		driver:    trampoline.New(engine),
		quantum:   cfg.Quantum,
		threads:   make(map[int64]*vm.Thread),
		poller:    NewPoller(),
		stop:      make(chan struct{}),
		idleSleep: cfg.IdleSleep,
	}
}

// Spawn creates a new ready thread applying fn to args and enqueues
// it for the next round.
func (s *Scheduler) Spawn(fn values.Value, args []values.Value) *vm.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t := vm.NewThread(s.nextID, s.globals)
	for _, a := range args {
		t.Push(a)
	}
	t.ARGC = len(args)
	t.VALR = fn
	t.State = vm.StateReady
	s.threads[t.ID] = t
	s.ready = append(s.ready, t.ID)
	t.Note("spawned")
	return t
}

// Kill marks a thread broken and removes it from scheduling, matching
// spec.md §4.5's "broken threads exit immediately without running
// protect blocks" cancellation semantics.
func (s *Scheduler) Kill(threadID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[threadID]; ok {
		t.State = vm.StateBroken
		t.Note("killed")
		delete(s.threads, threadID)
	}
}

// Run drives every thread to completion, round-robining ready
// threads and waking sleeping/I/O-blocked ones as their conditions are
// met. It returns once no threads remain.
func (s *Scheduler) Run() {
	for {
		if s.roundOnce() {
			return
		}
	}
}

// roundOnce runs one scheduling round: wake due sleepers, poll for
// I/O readiness, step one ready thread, and report whether the whole
// pool is now empty.
func (s *Scheduler) roundOnce() bool {
	s.mu.Lock()
	now := time.Now().UnixNano()
	for s.sleeping.Len() > 0 && s.sleeping[0].wakeAt <= now {
		entry := heap.Pop(&s.sleeping).(sleepEntry)
		if t, ok := s.threads[entry.threadID]; ok && t.State == vm.StateSleeping {
			t.State = vm.StateReady
			s.ready = append(s.ready, t.ID)
		}
	}
	empty := len(s.threads) == 0
	var nextID int64
	haveNext := false
	if len(s.ready) > 0 {
		nextID = s.ready[0]
		s.ready = s.ready[1:]
		haveNext = true
	}
	s.mu.Unlock()

	if empty {
		return true
	}

	if !haveNext {
		s.waitForWork()
		return false
	}

	s.mu.Lock()
	t, ok := s.threads[nextID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	quanta := s.quantum
	if t.State == vm.StateCritical {
		quanta = s.quantum * 1000 // let a critical section run to completion
	}

	outcome, err := s.driver.Run(t, quanta)
	if err != nil {
		log.Printf("arcvm: thread %d faulted: %v", t.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch outcome {
	case vm.OutcomeReleased, vm.OutcomeBroken:
		delete(s.threads, t.ID)
	case vm.OutcomeSuspended:
		switch t.State {
		case vm.StateReady, vm.StateCritical, vm.StateRunning:
			t.State = vm.StateReady
			s.ready = append(s.ready, t.ID)
		case vm.StateSleeping:
			heap.Push(&s.sleeping, sleepEntry{threadID: t.ID, wakeAt: t.Wait.WakeAtNanos})
		case vm.StateIOWaiting:
			s.poller.Watch(t.Wait.WaitFD, t.ID)
		default:
			// exiting/released/broken already handled above; anything
			// else is treated as done to avoid an orphaned thread.
			delete(s.threads, t.ID)
		}
	}
	return false
}

// waitForWork blocks briefly on the poller (if anything is
// I/O-waiting) or sleeps a fixed idle slice, then requeues any threads
// that became ready, so roundOnce always has something to do on its
// next call once conditions are met.
func (s *Scheduler) waitForWork() {
	s.mu.Lock()
	hasIOWaiters := len(s.poller.waiters) > 0
	nextWake := int64(0)
	if s.sleeping.Len() > 0 {
		nextWake = s.sleeping[0].wakeAt
	}
	s.mu.Unlock()

	if !hasIOWaiters && nextWake == 0 {
		time.Sleep(s.idleSleep)
		return
	}

	timeout := int(s.idleSleep / time.Millisecond)
	if nextWake > 0 {
		if d := time.Duration(nextWake - time.Now().UnixNano()); d > 0 && d < s.idleSleep {
			timeout = int(d / time.Millisecond)
		}
	}
	if timeout < 1 {
		timeout = 1
	}

	ready, err := s.poller.Ready(timeout)
	if err != nil {
		log.Printf("arcvm: poller error: %v", err)
		return
	}
	if len(ready) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ready {
		if t, ok := s.threads[id]; ok && t.State == vm.StateIOWaiting {
			t.State = vm.StateReady
			s.ready = append(s.ready, id)
		}
	}
}

// sleepEntry is one pending wakeup in the sleeping heap.
type sleepEntry struct {
	threadID int64
	wakeAt   int64
}

type sleepHeap []sleepEntry

func (h sleepHeap) Len() int            { return len(h) }
func (h sleepHeap) Less(i, j int) bool  { return h[i].wakeAt < h[j].wakeAt }
func (h sleepHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *sleepHeap) Push(x interface{}) { *h = append(*h, x.(sleepEntry)) }
func (h *sleepHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
