package timer

import "time"

// Manual is a deterministic Scheduler driven by Advance and Fire.
// It has no goroutines and is not safe for concurrent use.
type Manual struct {
	now    time.Duration
	timers []*ManualTimer
}

// NewManual creates a manual scheduler at virtual time zero
func NewManual() *Manual {
	return &Manual{}
}

// Now returns the virtual time elapsed since creation
func (m *Manual) Now() time.Duration {
	return m.now
}

// NewTimer implements Scheduler
func (m *Manual) NewTimer(period time.Duration, cb Callback) (Timer, error) {
	t, err := m.newTimer(period, cb, false)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// NewOneShot implements Scheduler
func (m *Manual) NewOneShot(period time.Duration, cb Callback) (Timer, error) {
	t, err := m.newTimer(period, cb, true)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (m *Manual) newTimer(period time.Duration, cb Callback, oneShot bool) (*ManualTimer, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	t := &ManualTimer{m: m, cb: cb, period: period, oneShot: oneShot, last: m.now}
	m.timers = append(m.timers, t)
	return t, nil
}

// Timers returns the timers that are not deleted, in creation order
func (m *Manual) Timers() []*ManualTimer {
	var live []*ManualTimer
	for _, t := range m.timers {
		if !t.deleted {
			live = append(live, t)
		}
	}
	return live
}

// Advance moves virtual time forward by d, firing every due timer in
// deadline order. Ties fire in creation order.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.deadline()
		next.fire()
	}
	m.now = target
}

func (m *Manual) nextDue(target time.Duration) *ManualTimer {
	if t := m.earliest(); t != nil && t.deadline() <= target {
		return t
	}
	return nil
}

func (m *Manual) earliest() *ManualTimer {
	var best *ManualTimer
	for _, t := range m.timers {
		if t.deleted || t.paused {
			continue
		}
		if best == nil || t.deadline() < best.deadline() {
			best = t
		}
	}
	return best
}

// Until returns the virtual time left before the next active timer fires.
// ok is false when no timer is running.
func (m *Manual) Until() (d time.Duration, ok bool) {
	t := m.earliest()
	if t == nil {
		return 0, false
	}
	if d = t.deadline() - m.now; d < 0 {
		d = 0
	}
	return d, true
}

// Fire runs t now if it is active. It reports whether the callback ran.
func (m *Manual) Fire(t Timer) bool {
	mt, ok := t.(*ManualTimer)
	if !ok || mt.m != m || mt.deleted || mt.paused {
		return false
	}
	mt.fire()
	return true
}

// ManualTimer is the Timer handed out by Manual
type ManualTimer struct {
	m       *Manual
	cb      Callback
	period  time.Duration
	oneShot bool
	paused  bool
	deleted bool
	last    time.Duration
	fires   int
}

func (t *ManualTimer) deadline() time.Duration {
	return t.last + t.period
}

func (t *ManualTimer) fire() {
	t.last = t.m.now
	t.fires++
	if t.oneShot {
		t.deleted = true
	}
	t.cb(t)
}

// Fires counts how many times the callback ran
func (t *ManualTimer) Fires() int { return t.fires }

// OneShot reports whether the timer deletes itself after firing
func (t *ManualTimer) OneShot() bool { return t.oneShot }

func (t *ManualTimer) SetPeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	t.period = d
	t.last = t.m.now
}

func (t *ManualTimer) Period() time.Duration { return t.period }

func (t *ManualTimer) Pause() {
	t.paused = true
}

func (t *ManualTimer) Resume() {
	if !t.paused {
		return
	}
	t.paused = false
	t.last = t.m.now
}

func (t *ManualTimer) Paused() bool  { return t.paused }
func (t *ManualTimer) Delete()       { t.deleted = true }
func (t *ManualTimer) Deleted() bool { return t.deleted }
