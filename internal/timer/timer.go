package timer

import (
	"sort"
	"sync"
	"time"
)

// Handle is a scheduled single-shot callback. *time.Timer satisfies it.
type Handle interface {
	Stop() bool
}

// Clock tells time and schedules delayed callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Handle
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

func (System) AfterFunc(d time.Duration, f func()) Handle {
	return time.AfterFunc(d, f)
}

// Manual is a Clock that only moves when Advance is called. Callbacks run on the
// goroutine calling Advance, in deadline order.
type Manual struct {
	l       sync.Mutex
	now     time.Time
	seq     uint64
	pending []*manualTimer
}

type manualTimer struct {
	m        *Manual
	seq      uint64
	deadline time.Time
	f        func()
}

func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now() time.Time {
	m.l.Lock()
	defer m.l.Unlock()

	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Handle {
	m.l.Lock()
	defer m.l.Unlock()

	m.seq++
	t := &manualTimer{m: m, seq: m.seq, deadline: m.now.Add(d), f: f}
	m.pending = append(m.pending, t)
	return t
}

// Pending returns the number of scheduled callbacks that have not fired or been stopped.
func (m *Manual) Pending() int {
	m.l.Lock()
	defer m.l.Unlock()

	return len(m.pending)
}

// Advance moves the clock forward by d, firing every callback that falls due,
// including ones scheduled by callbacks fired along the way.
func (m *Manual) Advance(d time.Duration) {
	m.l.Lock()
	target := m.now.Add(d)
	m.l.Unlock()

	for {
		m.l.Lock()
		sort.SliceStable(m.pending, func(i, j int) bool {
			if m.pending[i].deadline.Equal(m.pending[j].deadline) {
				return m.pending[i].seq < m.pending[j].seq
			}
			return m.pending[i].deadline.Before(m.pending[j].deadline)
		})
		if len(m.pending) == 0 || m.pending[0].deadline.After(target) {
			m.now = target
			m.l.Unlock()
			return
		}
		next := m.pending[0]
		m.pending = m.pending[1:]
		m.now = next.deadline
		m.l.Unlock()

		next.f()
	}
}

func (t *manualTimer) Stop() bool {
	t.m.l.Lock()
	defer t.m.l.Unlock()

	for i, p := range t.m.pending {
		if p == t {
			t.m.pending = append(t.m.pending[:i], t.m.pending[i+1:]...)
			return true
		}
	}
	return false
}
