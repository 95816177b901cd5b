package sim

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/normanking/cortexface/internal/avatar"
	"github.com/normanking/cortexface/internal/bus"
	"github.com/normanking/cortexface/internal/display"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newSurface(t *testing.T) *display.Memory {
	t.Helper()
	m := display.NewMemory(nil)
	m.Lock()
	defer m.Unlock()

	idle, err := m.CreateImage("avatar.idle")
	require.NoError(t, err)
	require.NoError(t, idle.SetSource("lgsx"))
	listening, err := m.CreateImage("avatar.listening")
	require.NoError(t, err)
	require.NoError(t, listening.SetSource("ting"))
	listening.Hide()
	label, err := m.CreateLabel("avatar.caption")
	require.NoError(t, err)
	label.SetText("你好")
	return m
}

func TestModel_KeysPublishEvents(t *testing.T) {
	b := bus.NewEventBus()
	var got []bus.Event
	b.SubscribeMultiple([]bus.EventType{
		bus.EventTypeIdle,
		bus.EventTypeListeningStarted,
		bus.EventTypeSpeakingStarted,
		bus.EventTypeSentence,
		bus.EventTypeSpeakingStopped,
	}, func(e bus.Event) { got = append(got, e) })

	m := New(display.NewMemory(nil), b, Options{Sentences: []string{"one", "two"}})
	for _, k := range []string{"i", "l", "s", "t", "t", "x", "z"} {
		m.Update(keyMsg(k))
	}

	types := make([]bus.EventType, len(got))
	for i, e := range got {
		types[i] = e.Type
	}
	assert.Equal(t, []bus.EventType{
		bus.EventTypeIdle,
		bus.EventTypeListeningStarted,
		bus.EventTypeSpeakingStarted,
		bus.EventTypeSentence,
		bus.EventTypeSentence,
		bus.EventTypeSentence,
		bus.EventTypeSpeakingStopped,
	}, types)
	assert.Equal(t, "one", got[3].String(bus.KeyText))
	assert.Equal(t, "two", got[4].String(bus.KeyText))
	assert.Equal(t, "one", got[5].String(bus.KeyText))
}

func TestModel_Quit(t *testing.T) {
	m := New(display.NewMemory(nil), bus.NewEventBus(), Options{})
	_, cmd := m.Update(keyMsg("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, m.View())
}

func TestModel_TickRendersSurface(t *testing.T) {
	m := New(newSurface(t), bus.NewEventBus(), Options{Board: "xiaozhi-lcd"})
	_, cmd := m.Update(TickMsg{})
	assert.NotNil(t, cmd)

	view := m.View()
	assert.Contains(t, view, "xiaozhi-lcd")
	assert.Contains(t, view, "▶ avatar.idle")
	assert.Contains(t, view, "lgsx")
	assert.Contains(t, view, "avatar.listening")
	assert.NotContains(t, view, "▶ avatar.listening")
	assert.Contains(t, view, "你好")
}

func TestModel_ChangeMsg(t *testing.T) {
	m := New(display.NewMemory(nil), bus.NewEventBus(), Options{})
	m.Update(ChangeMsg{Reason: "transition", State: avatar.State{Active: avatar.SlotSpeaking, Initialized: true, IdleIndex: 3}})

	view := m.View()
	assert.Contains(t, view, "transition → speaking")
	assert.Contains(t, view, "idle #3")
	assert.Contains(t, view, "(no caption)")
}

func TestModel_LogBounded(t *testing.T) {
	m := New(display.NewMemory(nil), bus.NewEventBus(), Options{})
	for i := 0; i < 20; i++ {
		m.Update(keyMsg("i"))
	}
	assert.Len(t, m.log, maxLog)
}

func TestChangeMsg(t *testing.T) {
	msg, ok := changeMsg(bus.Event{Data: map[string]any{
		bus.KeyReason: "advance",
		bus.KeyState:  avatar.State{IdleIndex: 2},
	}})
	require.True(t, ok)
	assert.Equal(t, "advance", msg.Reason)
	assert.Equal(t, 2, msg.State.IdleIndex)

	_, ok = changeMsg(bus.Event{})
	assert.False(t, ok)
}

func TestModel_WindowSize(t *testing.T) {
	m := New(display.NewMemory(nil), bus.NewEventBus(), Options{})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	for _, line := range strings.Split(m.View(), "\n") {
		assert.LessOrEqual(t, len([]rune(line)), 100)
	}
}

func TestKeyMap_Help(t *testing.T) {
	k := DefaultKeyMap()
	assert.Len(t, k.ShortHelp(), 8)
	for _, col := range k.FullHelp() {
		assert.Len(t, col, 4)
	}

	m := New(display.NewMemory(nil), bus.NewEventBus(), Options{})
	assert.Contains(t, m.View(), "sentence")
}

type fakeStepper struct {
	steps []time.Duration
	now   time.Duration
	err   error
}

func (f *fakeStepper) Step(_ context.Context, d time.Duration) (time.Duration, error) {
	f.steps = append(f.steps, d)
	if d <= 0 {
		d = 8500 * time.Millisecond
	}
	f.now += d
	return f.now, f.err
}

func TestModel_StepMode(t *testing.T) {
	stepper := &fakeStepper{}
	m := New(display.NewMemory(nil), bus.NewEventBus(), Options{Stepper: stepper, StepSize: 250 * time.Millisecond})

	_, cmd := m.Update(keyMsg("n"))
	require.NotNil(t, cmd)
	m.Update(cmd())
	_, cmd = m.Update(keyMsg("]"))
	require.NotNil(t, cmd)
	m.Update(cmd())

	assert.Equal(t, []time.Duration{0, 250 * time.Millisecond}, stepper.steps)
	assert.Contains(t, m.View(), "virtual time 8.75s")
	assert.Contains(t, m.help.View(m.keys), "next timer")

	stepper.err = errors.New("loop stopped")
	_, cmd = m.Update(keyMsg("n"))
	m.Update(cmd())
	assert.Contains(t, m.View(), "step failed: loop stopped")
}

func TestModel_StepKeysDisabledWithoutStepper(t *testing.T) {
	m := New(display.NewMemory(nil), bus.NewEventBus(), Options{})
	_, cmd := m.Update(keyMsg("n"))
	assert.Nil(t, cmd)
	_, cmd = m.Update(keyMsg("]"))
	assert.Nil(t, cmd)

	assert.NotContains(t, m.help.View(m.keys), "next timer")
	assert.NotContains(t, m.View(), "virtual time")
}
