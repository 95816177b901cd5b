package timer

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const defaultQueueSize = 256

// Loop is a single cooperative dispatch loop. Timer callbacks and posted
// functions run one at a time on the loop goroutine, in the order they were
// queued.
type Loop struct {
	clk    clock.Clock
	logger zerolog.Logger
	tasks  chan func()

	mu      sync.Mutex
	timers  map[*loopTimer]struct{}
	started bool
	stopped bool

	stopChan chan struct{}
	done     chan struct{}
}

// NewLoop creates a dispatch loop. A nil clock uses wall time.
func NewLoop(clk clock.Clock, logger zerolog.Logger) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		clk:      clk,
		logger:   logger.With().Str("component", "loop").Logger(),
		tasks:    make(chan func(), defaultQueueSize),
		timers:   make(map[*loopTimer]struct{}),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop goroutine
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.stopped {
		return
	}
	l.started = true
	go l.run()
}

// Stop deletes every timer and waits for the loop goroutine to exit
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	started := l.started
	timers := make([]*loopTimer, 0, len(l.timers))
	for t := range l.timers {
		timers = append(timers, t)
	}
	l.mu.Unlock()

	for _, t := range timers {
		t.Delete()
	}
	close(l.stopChan)
	if started {
		<-l.done
	}
}

// Post queues fn for the loop. It returns false once the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopChan:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.stopChan:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
// It must not be called from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopChan:
		return ErrStopped
	}
}

// NewTimer implements Scheduler
func (l *Loop) NewTimer(period time.Duration, cb Callback) (Timer, error) {
	return l.newTimer(period, cb, false)
}

// NewOneShot implements Scheduler
func (l *Loop) NewOneShot(period time.Duration, cb Callback) (Timer, error) {
	return l.newTimer(period, cb, true)
}

func (l *Loop) newTimer(period time.Duration, cb Callback, oneShot bool) (Timer, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil, ErrStopped
	}
	t := &loopTimer{loop: l, cb: cb, oneShot: oneShot, period: period}
	l.timers[t] = struct{}{}
	l.mu.Unlock()

	t.mu.Lock()
	t.armLocked()
	t.mu.Unlock()
	return t, nil
}

func (l *Loop) forget(t *loopTimer) {
	l.mu.Lock()
	delete(l.timers, t)
	l.mu.Unlock()
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stopChan:
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("Loop task panicked")
		}
	}()
	fn()
}

type loopTimer struct {
	loop    *Loop
	cb      Callback
	oneShot bool

	mu      sync.Mutex
	period  time.Duration
	paused  bool
	deleted bool
	gen     uint64
	pending *clock.Timer
}

// armLocked schedules the next firing. Firings queued by an earlier
// generation are dropped when they reach the loop.
func (t *loopTimer) armLocked() {
	if t.pending != nil {
		t.pending.Stop()
	}
	t.gen++
	gen := t.gen
	t.pending = t.loop.clk.AfterFunc(t.period, func() {
		t.loop.Post(func() { t.fire(gen) })
	})
}

func (t *loopTimer) disarmLocked() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.gen++
}

func (t *loopTimer) fire(gen uint64) {
	t.mu.Lock()
	if t.deleted || t.paused || gen != t.gen {
		t.mu.Unlock()
		return
	}
	if t.oneShot {
		t.deleted = true
		t.pending = nil
	} else {
		t.armLocked()
	}
	t.mu.Unlock()

	if t.oneShot {
		t.loop.forget(t)
	}
	t.cb(t)
}

func (t *loopTimer) SetPeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.period = d
	if !t.paused && !t.deleted {
		t.armLocked()
	}
}

func (t *loopTimer) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

func (t *loopTimer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused || t.deleted {
		return
	}
	t.paused = true
	t.disarmLocked()
}

func (t *loopTimer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused || t.deleted {
		return
	}
	t.paused = false
	t.armLocked()
}

func (t *loopTimer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *loopTimer) Delete() {
	t.mu.Lock()
	if t.deleted {
		t.mu.Unlock()
		return
	}
	t.deleted = true
	t.disarmLocked()
	t.mu.Unlock()

	t.loop.forget(t)
}

func (t *loopTimer) Deleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deleted
}
