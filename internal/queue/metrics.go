package queue

import (
	"sort"
	"sync"
	"time"
)

// Metrics tracks delivery statistics per message type
type Metrics struct {
	mu    sync.RWMutex
	types map[string]*typeCounters
}

type typeCounters struct {
	processed  int64
	succeeded  int64
	duplicates int64
	failed     int64
	retried    int64

	total time.Duration
	min   time.Duration
	max   time.Duration
}

// TypeStats holds statistics for one message type
type TypeStats struct {
	Type        string        `json:"type"`
	Processed   int64         `json:"processed"`
	Succeeded   int64         `json:"succeeded"`
	Duplicates  int64         `json:"duplicates"`
	Failed      int64         `json:"failed"`
	Retried     int64         `json:"retried"`
	MinDuration time.Duration `json:"min_duration"`
	MaxDuration time.Duration `json:"max_duration"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// SuccessRate returns the share of processed messages that were acked, as a
// percentage. Duplicates count as acked.
func (s TypeStats) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Succeeded+s.Duplicates) / float64(s.Processed) * 100
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{types: make(map[string]*typeCounters)}
}

func (m *Metrics) counters(typ string) *typeCounters {
	c, ok := m.types[typ]
	if !ok {
		c = &typeCounters{}
		m.types[typ] = c
	}
	return c
}

// RecordSuccess records a message that was ingested
func (m *Metrics) RecordSuccess(typ string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters(typ)
	c.succeeded++
	c.observe(d)
}

// RecordDuplicate records a redelivery acked on conflict
func (m *Metrics) RecordDuplicate(typ string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters(typ)
	c.duplicates++
	c.observe(d)
}

// RecordFailure records a message moved to the dead list
func (m *Metrics) RecordFailure(typ string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters(typ)
	c.failed++
	c.observe(d)
}

// RecordRetry records a message put back for another attempt
func (m *Metrics) RecordRetry(typ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters(typ).retried++
}

func (c *typeCounters) observe(d time.Duration) {
	c.processed++
	c.total += d
	if c.processed == 1 || d < c.min {
		c.min = d
	}
	if d > c.max {
		c.max = d
	}
}

func (c *typeCounters) stats(typ string) TypeStats {
	s := TypeStats{
		Type:        typ,
		Processed:   c.processed,
		Succeeded:   c.succeeded,
		Duplicates:  c.duplicates,
		Failed:      c.failed,
		Retried:     c.retried,
		MinDuration: c.min,
		MaxDuration: c.max,
	}
	if c.processed > 0 {
		s.AvgDuration = c.total / time.Duration(c.processed)
	}
	return s
}

// Stats returns statistics for a message type
func (m *Metrics) Stats(typ string) TypeStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.types[typ]
	if !ok {
		return TypeStats{Type: typ}
	}
	return c.stats(typ)
}

// AllStats returns statistics for every type seen, ordered by type
func (m *Metrics) AllStats() []TypeStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TypeStats, 0, len(m.types))
	for typ, c := range m.types {
		out = append(out, c.stats(typ))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
