package app

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type scope struct {
	start   time.Time
	last    time.Duration
	total   time.Duration
	samples int
}

// Profiler keeps CPU timings per pass and per-frame counters.
type Profiler struct {
	mu     sync.Mutex
	scopes map[string]*scope
	counts map[string]int
	order  []string
}

func NewProfiler() *Profiler {
	return &Profiler{
		scopes: make(map[string]*scope),
		counts: make(map[string]int),
	}
}

// Begin starts timing name. Scopes keep first-seen order for display.
func (p *Profiler) Begin(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.scopes[name]
	if !ok {
		s = &scope{}
		p.scopes[name] = s
		p.order = append(p.order, name)
	}
	s.start = time.Now()
}

func (p *Profiler) End(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.scopes[name]
	if !ok || s.start.IsZero() {
		return
	}
	s.last = time.Since(s.start)
	s.total += s.last
	s.samples++
	s.start = time.Time{}
}

func (p *Profiler) SetCount(name string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[name] = n
}

func (p *Profiler) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[name]
}

// Samples is the number of completed timings for name.
func (p *Profiler) Samples(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.scopes[name]; ok {
		return s.samples
	}
	return 0
}

// Average is the mean duration of name over all samples.
func (p *Profiler) Average(name string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.scopes[name]
	if !ok || s.samples == 0 {
		return 0
	}
	return s.total / time.Duration(s.samples)
}

// Scopes lists scope names in first-seen order.
func (p *Profiler) Scopes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

func (p *Profiler) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("Timings (CPU, last/avg):\n")
	for _, name := range p.order {
		s := p.scopes[name]
		avg := time.Duration(0)
		if s.samples > 0 {
			avg = s.total / time.Duration(s.samples)
		}
		fmt.Fprintf(&sb, "  %-15s: %.2f / %.2f ms\n", name, ms(s.last), ms(avg))
	}

	sb.WriteString("\nStats:\n")
	keys := make([]string, 0, len(p.counts))
	for k := range p.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %-15s: %d\n", k, p.counts[k])
	}
	return sb.String()
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
