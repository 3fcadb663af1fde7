package compiler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// StageMetric records one stage run. Before and After are instruction counts
// for the LIR stages; the alloc stage reports slots and the emit stage code
// bytes as After.
type StageMetric struct {
	Stage    string
	Function string
	Before   int
	After    int
	Duration time.Duration
}

// Metrics collects the stage runs of a compilation.
type Metrics struct {
	mu     sync.Mutex
	Stages []StageMetric
}

func (m *Metrics) record(stage, fn string, before, after int, d time.Duration) {
	m.mu.Lock()
	m.Stages = append(m.Stages, StageMetric{Stage: stage, Function: fn, Before: before, After: after, Duration: d})
	m.mu.Unlock()
}

// Total is the summed duration of every stage run.
func (m *Metrics) Total() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var t time.Duration
	for _, s := range m.Stages {
		t += s.Duration
	}
	return t
}

// ByStage sums durations per stage.
func (m *Metrics) ByStage() map[string]time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Duration)
	for _, s := range m.Stages {
		out[s.Stage] += s.Duration
	}
	return out
}

// Delta is the instruction count change of a stage summed over functions.
func (m *Metrics) Delta(stage string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := 0
	for _, s := range m.Stages {
		if s.Stage == stage {
			d += s.After - s.Before
		}
	}
	return d
}

// String renders a per-stage summary.
func (m *Metrics) String() string {
	by := m.ByStage()
	names := make([]string, 0, len(by))
	for n := range by {
		names = append(names, n)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, n := range names {
		fmt.Fprintf(&sb, "%-14s %v\n", n, by[n])
	}
	return sb.String()
}
