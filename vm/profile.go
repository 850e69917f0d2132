package vm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Profile generalizes the teacher's vm.DebugLevel / breakpoint set /
// GetPerformanceReport / GetHotSpots (vm/vm.go) into the trace hook
// spec.md §1's Non-goals allow "beyond a trace hook": per-instruction
// execution counts keyed by (Code, IP), a breakpoint set keyed the
// same way, and a human-readable hot-spot report. A VM with a nil
// Profile pays no bookkeeping cost; attaching one is opt-in.
type Profile struct {
	mu          sync.Mutex
	started     time.Time
	counts      map[profileKey]int64
	breakpoints map[profileKey]bool
}

type profileKey struct {
	code *Code
	ip   int
}

// NewProfile constructs an empty, running profile.
func NewProfile() *Profile {
	return &Profile{
		started:     time.Now(),
		counts:      make(map[profileKey]int64),
		breakpoints: make(map[profileKey]bool),
	}
}

func (p *Profile) record(code *Code, ip int) {
	p.mu.Lock()
	p.counts[profileKey{code, ip}]++
	p.mu.Unlock()
}

// SetBreakpoint arms a breakpoint at (code, ip); runBytecode suspends
// the thread just before executing that instruction instead of
// stepping through it.
func (p *Profile) SetBreakpoint(code *Code, ip int) {
	p.mu.Lock()
	p.breakpoints[profileKey{code, ip}] = true
	p.mu.Unlock()
}

func (p *Profile) ClearBreakpoint(code *Code, ip int) {
	p.mu.Lock()
	delete(p.breakpoints, profileKey{code, ip})
	p.mu.Unlock()
}

func (p *Profile) atBreakpoint(code *Code, ip int) bool {
	if len(p.breakpoints) == 0 {
		return false
	}
	p.mu.Lock()
	hit := p.breakpoints[profileKey{code, ip}]
	p.mu.Unlock()
	return hit
}

// HotSpot is one entry of a Profile's ranked instruction-count report.
type HotSpot struct {
	SourceName string
	IP         int
	Op         string
	Count      int64
}

// HotSpots returns the n most-executed instructions across every Code
// this profile has observed, highest count first.
func (p *Profile) HotSpots(n int) []HotSpot {
	p.mu.Lock()
	spots := make([]HotSpot, 0, len(p.counts))
	for key, count := range p.counts {
		op := "?"
		if key.ip >= 0 && key.ip < len(key.code.Instructions) {
			op = key.code.Instructions[key.ip].Op.String()
		}
		spots = append(spots, HotSpot{SourceName: key.code.SourceName, IP: key.ip, Op: op, Count: count})
	}
	p.mu.Unlock()

	sort.Slice(spots, func(i, j int) bool {
		if spots[i].Count != spots[j].Count {
			return spots[i].Count > spots[j].Count
		}
		if spots[i].SourceName != spots[j].SourceName {
			return spots[i].SourceName < spots[j].SourceName
		}
		return spots[i].IP < spots[j].IP
	})
	if n >= 0 && len(spots) > n {
		spots = spots[:n]
	}
	return spots
}

// Report renders a human-readable summary: total instructions
// executed, elapsed wall time since the profile started, and the top
// hot spots, using go-humanize for the comma-grouped counts and the
// SI-prefixed elapsed seconds the teacher's own performance report
// favors over raw integers.
func (p *Profile) Report(topN int) string {
	p.mu.Lock()
	var total int64
	for _, c := range p.counts {
		total += c
	}
	p.mu.Unlock()

	elapsed := time.Since(p.started)
	out := fmt.Sprintf("%s instructions executed in %s\n", humanize.Comma(total), humanize.SI(elapsed.Seconds(), "s"))
	for i, hs := range p.HotSpots(topN) {
		out += fmt.Sprintf("  %d. %-6s %s@%d  %s hits\n", i+1, hs.Op, hs.SourceName, hs.IP, humanize.Comma(hs.Count))
	}
	return out
}
