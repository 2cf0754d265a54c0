package modules

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Monitor counts the engine resources that are alive, by kind: "note" for
// voices and one field per kind of module.
type Monitor struct {
	mu     sync.Mutex
	fields map[string]int
}

func NewMonitor() *Monitor {
	return &Monitor{fields: map[string]int{}}
}

func (m *Monitor) Retain(field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[field]++
}

func (m *Monitor) Release(field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[field]--
}

func (m *Monitor) Count(field string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fields[field]
}

// Counts returns a copy of all the counts.
func (m *Monitor) Counts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make(map[string]int, len(m.fields))
	for k, v := range m.fields {
		ret[k] = v
	}
	return ret
}

// Info formats the counts as "field count : field count : ...", sorted by
// field.
func (m *Monitor) Info() string {
	counts := m.Counts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s %d : ", k, counts[k])
	}
	return sb.String()
}
