package app

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// profileWindow is the number of samples averaged per scope.
const profileWindow = 60

type scope struct {
	start   time.Time
	last    time.Duration
	samples [profileWindow]time.Duration
	n       int
}

func (s *scope) add(d time.Duration) {
	s.last = d
	s.samples[s.n%profileWindow] = d
	s.n++
}

func (s *scope) average() time.Duration {
	k := min(s.n, profileWindow)
	if k == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range s.samples[:k] {
		sum += d
	}
	return sum / time.Duration(k)
}

// Profiler keeps CPU timings of named scopes, averaged over the last
// frames, and integer counters. Scopes are listed in first-use order.
type Profiler struct {
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

func (p *Profiler) BeginScope(name string) {
	s, ok := p.scopes[name]
	if !ok {
		s = &scope{}
		p.scopes[name] = s
		p.order = append(p.order, name)
	}
	s.start = time.Now()
}

func (p *Profiler) EndScope(name string) {
	if s, ok := p.scopes[name]; ok && !s.start.IsZero() {
		s.add(time.Since(s.start))
		s.start = time.Time{}
	}
}

// Scope begins name and returns the matching end, for use with defer.
func (p *Profiler) Scope(name string) func() {
	p.BeginScope(name)
	return func() { p.EndScope(name) }
}

func (p *Profiler) SetCount(name string, count int) {
	p.counts[name] = count
}

func (p *Profiler) Count(name string) int { return p.counts[name] }

// Last is the most recent duration of name.
func (p *Profiler) Last(name string) time.Duration {
	if s, ok := p.scopes[name]; ok {
		return s.last
	}
	return 0
}

func (p *Profiler) Average(name string) time.Duration {
	if s, ok := p.scopes[name]; ok {
		return s.average()
	}
	return 0
}

// Reset drops all samples and counters but keeps the scope order.
func (p *Profiler) Reset() {
	for _, s := range p.scopes {
		*s = scope{}
	}
	clear(p.counts)
}

// Lines formats timings then counters, one entry per line.
func (p *Profiler) Lines() []string {
	lines := make([]string, 0, len(p.order)+len(p.counts))
	for _, name := range p.order {
		ms := float64(p.scopes[name].average().Microseconds()) / 1000.0
		lines = append(lines, fmt.Sprintf("%-10s %7.2f ms", name, ms))
	}
	keys := make([]string, 0, len(p.counts))
	for k := range p.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%-10s %7d", k, p.counts[k]))
	}
	return lines
}

func (p *Profiler) String() string {
	return strings.Join(p.Lines(), "\n")
}
