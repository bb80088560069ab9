package timer

import "time"

// Slot holds at most one pending callback. Arming it stops and replaces whatever
// was armed before.
//
// Slot is not safe for concurrent use: the owner serializes access with its own
// lock and calls Claim under that lock from the expiry callback. A callback
// whose timer was stopped or replaced fails Claim, even if it was already
// running when Cancel was called.
type Slot struct {
	clock  Clock
	handle Handle
	seq    uint64
}

func NewSlot(clock Clock) *Slot {
	return &Slot{clock: clock}
}

// Arm cancels the pending callback, if any, and schedules expired to run after d.
// expired receives the sequence number to pass to Claim.
func (s *Slot) Arm(d time.Duration, expired func(seq uint64)) {
	s.Cancel()

	s.seq++
	seq := s.seq
	s.handle = s.clock.AfterFunc(d, func() { expired(seq) })
}

// Cancel stops the pending callback. It reports whether one was armed.
func (s *Slot) Cancel() bool {
	if s.handle == nil {
		return false
	}

	s.handle.Stop()
	s.handle = nil
	s.seq++
	return true
}

// Armed reports whether a callback is pending.
func (s *Slot) Armed() bool {
	return s.handle != nil
}

// Claim reports whether seq still owns the slot and, if so, empties it.
func (s *Slot) Claim(seq uint64) bool {
	if s.handle == nil || seq != s.seq {
		return false
	}

	s.handle = nil
	return true
}
