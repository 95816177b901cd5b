package avatar

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/normanking/cortexface/internal/display"
	"github.com/normanking/cortexface/internal/timer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	idleName      = slotObjectName(SlotIdle)
	listeningName = slotObjectName(SlotListening)
	speakingName  = slotObjectName(SlotSpeaking)
)

func testConfig() Config {
	return Config{
		IdleCycle: []IdleEntry{
			{Resource: "lgsx", Duration: 8 * time.Second},
			{Resource: "lzhch", Duration: 8 * time.Second},
			{Resource: "game", Duration: 13 * time.Second},
		},
		Listening: "ting",
		Speaking:  "kaixin",
		Caption:   true,
	}
}

func newTestController(t *testing.T, cfg Config) (*Controller, *display.Memory, *timer.Manual) {
	t.Helper()
	surface := display.NewMemory(nil)
	sched := timer.NewManual()
	c := New(surface, sched, cfg, zerolog.Nop())
	require.NoError(t, c.Initialize())
	return c, surface, sched
}

type failingScheduler struct{}

func (failingScheduler) NewTimer(time.Duration, timer.Callback) (timer.Timer, error) {
	return nil, errors.New("out of timers")
}

func (failingScheduler) NewOneShot(time.Duration, timer.Callback) (timer.Timer, error) {
	return nil, errors.New("out of timers")
}

type names map[string]bool

func (n names) Has(name string) bool { return n[name] }

func TestInitialize_EverythingHidden(t *testing.T) {
	c, surface, _ := newTestController(t, testConfig())

	assert.Empty(t, surface.Visible())

	idle, ok := surface.Object(idleName)
	require.True(t, ok)
	assert.Equal(t, "lgsx", idle.Source)

	listening, _ := surface.Object(listeningName)
	assert.Equal(t, "ting", listening.Source)
	speaking, _ := surface.Object(speakingName)
	assert.Equal(t, "kaixin", speaking.Source)

	caption, ok := surface.Object(captionObjectName)
	require.True(t, ok)
	assert.True(t, caption.Hidden)
	assert.Empty(t, caption.Text)

	s := c.State()
	assert.True(t, s.Initialized)
	assert.Equal(t, SlotNone, s.Active)
	assert.Equal(t, 1, s.IdleIndex)
	assert.Equal(t, 8*time.Second+DefaultStartMargin, s.Period)
}

func TestInitialize_Errors(t *testing.T) {
	t.Run("nil surface", func(t *testing.T) {
		c := New(nil, timer.NewManual(), testConfig(), zerolog.Nop())
		assert.ErrorIs(t, c.Initialize(), ErrNoSurface)
		assert.False(t, c.IsInitialized())
	})

	t.Run("nil scheduler", func(t *testing.T) {
		c := New(display.NewMemory(nil), nil, testConfig(), zerolog.Nop())
		assert.ErrorIs(t, c.Initialize(), ErrNoScheduler)
	})

	t.Run("empty idle cycle", func(t *testing.T) {
		cfg := testConfig()
		cfg.IdleCycle = nil
		c := New(display.NewMemory(nil), timer.NewManual(), cfg, zerolog.Nop())
		assert.ErrorIs(t, c.Initialize(), ErrInvalidConfig)
	})

	t.Run("object allocation fails", func(t *testing.T) {
		surface := display.NewMemory(nil)
		surface.FailCreate[speakingName] = true
		sched := timer.NewManual()
		c := New(surface, sched, testConfig(), zerolog.Nop())

		assert.ErrorIs(t, c.Initialize(), ErrResource)
		assert.Empty(t, surface.Snapshot(), "partial objects are released")
		assert.Empty(t, sched.Timers())

		c.StartLoop()
		c.ShowListeningAnimation()
		c.ShowSpeakingText("ignored")
		assert.Empty(t, surface.Snapshot())
	})

	t.Run("caption label fails", func(t *testing.T) {
		surface := display.NewMemory(nil)
		surface.FailCreate[captionObjectName] = true
		c := New(surface, timer.NewManual(), testConfig(), zerolog.Nop())
		assert.ErrorIs(t, c.Initialize(), ErrResource)
		assert.Empty(t, surface.Snapshot())
	})

	t.Run("unknown source", func(t *testing.T) {
		surface := display.NewMemory(names{"lgsx": true, "ting": true})
		c := New(surface, timer.NewManual(), testConfig(), zerolog.Nop())
		err := c.Initialize()
		assert.ErrorIs(t, err, ErrResource)
		assert.ErrorIs(t, err, display.ErrUnknownSource)
	})

	t.Run("timer fails", func(t *testing.T) {
		surface := display.NewMemory(nil)
		c := New(surface, failingScheduler{}, testConfig(), zerolog.Nop())
		assert.ErrorIs(t, c.Initialize(), ErrTimer)
		assert.Empty(t, surface.Snapshot())
	})

	t.Run("twice", func(t *testing.T) {
		c, _, _ := newTestController(t, testConfig())
		assert.ErrorIs(t, c.Initialize(), ErrAlreadyInitialized)
	})
}

func TestController_StartListenReturn(t *testing.T) {
	c, surface, _ := newTestController(t, testConfig())

	// A: idle visible, timer running
	c.StartLoop()
	assert.Equal(t, []string{idleName}, surface.Visible())
	s := c.State()
	assert.Equal(t, SlotIdle, s.Active)
	assert.False(t, s.Paused)
	indexBefore := s.IdleIndex

	// B: listening visible, timer paused
	c.ShowListeningAnimation()
	assert.Equal(t, []string{listeningName}, surface.Visible())
	s = c.State()
	assert.Equal(t, SlotListening, s.Active)
	assert.True(t, s.Paused)

	// C: back to idle, index unchanged
	c.StartLoop()
	assert.Equal(t, []string{idleName}, surface.Visible())
	s = c.State()
	assert.False(t, s.Paused)
	assert.Equal(t, indexBefore, s.IdleIndex)
}

func TestIdleCycle_PeriodFollowsEntryDuration(t *testing.T) {
	c, surface, sched := newTestController(t, testConfig())
	c.StartLoop()

	sched.Advance(8*time.Second + DefaultStartMargin)
	s := c.State()
	assert.Equal(t, "lzhch", s.IdleSource)
	assert.Equal(t, 8*time.Second+DefaultAdvanceMargin, s.Period)
	assert.Equal(t, 2, s.IdleIndex)

	sched.Advance(8*time.Second + DefaultAdvanceMargin)
	s = c.State()
	assert.Equal(t, "game", s.IdleSource)
	assert.Equal(t, 13*time.Second+DefaultAdvanceMargin, s.Period)
	assert.Equal(t, 0, s.IdleIndex)

	// game stays up for its longer duration
	sched.Advance(13 * time.Second)
	assert.Equal(t, "game", c.State().IdleSource)
	sched.Advance(DefaultAdvanceMargin)
	assert.Equal(t, "lgsx", c.State().IdleSource)

	idle, _ := surface.Object(idleName)
	assert.Equal(t, "lgsx", idle.Source)
}

func TestIdleCycle_WrapsAfterLengthFirings(t *testing.T) {
	c, _, sched := newTestController(t, testConfig())
	c.StartLoop()

	n := len(testConfig().IdleCycle)
	for i := 0; i < n; i++ {
		require.True(t, sched.Fire(c.primary))
	}
	assert.Equal(t, "lgsx", c.State().IdleSource)
	assert.Equal(t, 1, c.State().IdleIndex)
}

func TestIdleCycle_SingleEntry(t *testing.T) {
	cfg := testConfig()
	cfg.IdleCycle = cfg.IdleCycle[:1]
	c, _, sched := newTestController(t, cfg)
	c.StartLoop()

	assert.Equal(t, 0, c.State().IdleIndex)
	sched.Fire(c.primary)
	sched.Fire(c.primary)
	assert.Equal(t, "lgsx", c.State().IdleSource)
	assert.Equal(t, 0, c.State().IdleIndex)
}

func TestIdleCycle_GatedOutsideIdle(t *testing.T) {
	c, _, sched := newTestController(t, testConfig())

	// Before the loop starts nothing advances.
	c.onIdleTimer(c.primary)
	assert.Equal(t, 1, c.State().IdleIndex)

	c.StartLoop()
	sched.Fire(c.primary)
	require.Equal(t, 2, c.State().IdleIndex)

	for _, show := range []func(){c.ShowListeningAnimation, c.ShowSpeakingAnimation} {
		show()
		c.onIdleTimer(c.primary)
		c.onIdleTimer(c.primary)
		assert.False(t, sched.Fire(c.primary), "primary timer is paused")
		sched.Advance(time.Minute)
		assert.Equal(t, 2, c.State().IdleIndex)
		assert.Equal(t, "lzhch", c.State().IdleSource)
	}

	c.StartLoop()
	sched.Fire(c.primary)
	assert.Equal(t, "game", c.State().IdleSource, "next entry is the one pending before the interruption")
}

func TestTransitions_AtMostOneSlotVisible(t *testing.T) {
	c, surface, sched := newTestController(t, testConfig())
	ops := []func(){
		c.StartLoop,
		c.ShowListeningAnimation,
		c.ShowSpeakingAnimation,
		func() { c.ShowSpeakingText("hello") },
		func() { sched.Advance(3 * time.Second) },
		func() { sched.Fire(c.primary) },
	}

	rng := rand.New(rand.NewSource(7))
	started := false
	for i := 0; i < 500; i++ {
		k := rng.Intn(len(ops))
		ops[k]()
		if k == 0 {
			started = true
		}
		visible := surface.Visible()
		assert.LessOrEqual(t, len(visible), 1)
		if started {
			assert.Len(t, visible, 1)
		}
	}
}

func TestTransitions_Idempotent(t *testing.T) {
	c, surface, _ := newTestController(t, testConfig())
	var changes []Change
	c.SetStateHandler(func(ch Change) { changes = append(changes, ch) })

	c.StartLoop()
	c.ShowListeningAnimation()
	once := surface.Snapshot()
	c.ShowListeningAnimation()

	assert.Equal(t, once, surface.Snapshot())
	require.Len(t, changes, 2)
	assert.Equal(t, SlotIdle, changes[0].State.Active)
	assert.Equal(t, SlotListening, changes[1].State.Active)

	c.ShowSpeakingAnimation()
	c.ShowSpeakingAnimation()
	assert.Len(t, changes, 3)

	c.StartLoop()
	c.StartLoop()
	assert.Len(t, changes, 4)
	for _, ch := range changes {
		assert.Equal(t, ReasonTransition, ch.Reason)
	}
}

func TestShowSpeakingAnimation_KeepsCaption(t *testing.T) {
	c, surface, _ := newTestController(t, testConfig())
	c.StartLoop()
	c.ShowSpeakingText("hi")
	c.ShowSpeakingAnimation()

	assert.Equal(t, []string{speakingName}, surface.Visible())
	assert.True(t, c.State().Paused)
	caption, _ := surface.Object(captionObjectName)
	assert.False(t, caption.Hidden)
	assert.True(t, c.CaptionActive())
}

func TestAbsentSlots(t *testing.T) {
	cfg := Config{
		IdleCycle: []IdleEntry{
			{Resource: "lzy", Duration: 8 * time.Second},
			{Resource: "ting", Duration: 8 * time.Second},
			{Resource: "lzuoyou", Duration: 8 * time.Second},
		},
	}
	c, surface, sched := newTestController(t, cfg)

	snap := surface.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, idleName, snap[0].Name)

	c.StartLoop()
	c.ShowListeningAnimation()
	c.ShowSpeakingAnimation()
	c.ShowSpeakingText("ignored")

	assert.Equal(t, []string{idleName}, surface.Visible())
	assert.False(t, c.State().Paused)
	assert.Len(t, sched.Timers(), 1)
}

func TestOperationsBeforeInitialize(t *testing.T) {
	surface := display.NewMemory(nil)
	c := New(surface, timer.NewManual(), testConfig(), zerolog.Nop())

	c.StartLoop()
	c.ShowListeningAnimation()
	c.ShowSpeakingAnimation()
	c.ShowSpeakingText("x")
	c.Destroy()

	assert.Empty(t, surface.Snapshot())
	assert.False(t, c.State().Initialized)
}

func TestDestroy(t *testing.T) {
	surface := display.NewMemory(nil)
	surface.Lock()
	_, err := surface.CreateLabel("statusbar")
	surface.Unlock()
	require.NoError(t, err)

	sched := timer.NewManual()
	c := New(surface, sched, testConfig(), zerolog.Nop())
	require.NoError(t, c.Initialize())
	c.StartLoop()
	c.ShowSpeakingText("long caption")
	require.Len(t, sched.Timers(), 2)

	c.Destroy()
	c.Destroy()

	assert.Empty(t, sched.Timers())
	snap := surface.Snapshot()
	require.Len(t, snap, 1, "sibling objects are left alone")
	assert.Equal(t, "statusbar", snap[0].Name)

	c.StartLoop()
	sched.Advance(time.Minute)
	assert.Len(t, surface.Snapshot(), 1)
	assert.False(t, c.IsInitialized())
	assert.ErrorIs(t, c.Initialize(), ErrAlreadyInitialized)
}

func TestStateHandler_AdvanceReason(t *testing.T) {
	c, _, sched := newTestController(t, testConfig())
	var reasons []Reason
	c.SetStateHandler(func(ch Change) { reasons = append(reasons, ch.Reason) })

	c.StartLoop()
	sched.Fire(c.primary)

	assert.Equal(t, []Reason{ReasonTransition, ReasonAdvance}, reasons)
}

func TestController_ReloadResource(t *testing.T) {
	c, surface, _ := newTestController(t, testConfig())
	c.StartLoop()

	assert.Equal(t, 1, c.ReloadResource("lgsx"))
	idle, _ := surface.Object(idleName)
	assert.Equal(t, 2, idle.Loads)
	assert.Equal(t, "lgsx", idle.Source)

	assert.Equal(t, 1, c.ReloadResource("ting"))
	listening, _ := surface.Object(listeningName)
	assert.Equal(t, 2, listening.Loads)
	assert.True(t, listening.Hidden)

	assert.Zero(t, c.ReloadResource("game"))
	assert.Zero(t, c.ReloadResource(""))

	c.Destroy()
	assert.Zero(t, c.ReloadResource("lgsx"))
}
