// Package sim renders the avatar surface in the terminal and feeds it
// device events from the keyboard.
package sim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/normanking/cortexface/internal/avatar"
	"github.com/normanking/cortexface/internal/bus"
	"github.com/normanking/cortexface/internal/display"
)

const maxLog = 6

// Snapshotter is the part of the surface the view needs
type Snapshotter interface {
	Snapshot() []display.ObjectState
}

// TickMsg triggers a redraw from the surface
type TickMsg time.Time

// ChangeMsg carries a controller change from the bus
type ChangeMsg struct {
	Reason string
	State  avatar.State
}

// Stepper advances virtual time. A d of zero jumps to the next timer.
type Stepper interface {
	Step(ctx context.Context, d time.Duration) (time.Duration, error)
}

// SteppedMsg reports the virtual time after a step
type SteppedMsg struct {
	Now time.Duration
	Err error
}

// Options configures the simulator
type Options struct {
	Board     string
	Refresh   time.Duration
	Sentences []string

	// Stepper enables step mode; StepSize is the ] increment
	Stepper  Stepper
	StepSize time.Duration
}

// DefaultSentences are spoken by the s and t keys
var DefaultSentences = []string{
	"你好，我是小智。",
	"Hello there, how can I help?",
	"今天天气不错 🙂",
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	activeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	hiddenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	captionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("229"))
)

// Model is the bubbletea model of the simulator
type Model struct {
	surface  Snapshotter
	eventBus *bus.EventBus
	opts     Options
	keys     KeyMap
	help     help.Model

	objects  []display.ObjectState
	state    avatar.State
	log      []string
	next     int
	virtual  time.Duration
	width    int
	quitting bool
}

// New creates the simulator model
func New(surface Snapshotter, eventBus *bus.EventBus, opts Options) *Model {
	if opts.Refresh <= 0 {
		opts.Refresh = 50 * time.Millisecond
	}
	if len(opts.Sentences) == 0 {
		opts.Sentences = DefaultSentences
	}
	if opts.StepSize <= 0 {
		opts.StepSize = time.Second
	}
	keys := DefaultKeyMap()
	keys.Next.SetEnabled(opts.Stepper != nil)
	keys.Step.SetEnabled(opts.Stepper != nil)
	return &Model{
		surface:  surface,
		eventBus: eventBus,
		opts:     opts,
		keys:     keys,
		help:     help.New(),
		width:    60,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.tick()
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case TickMsg:
		m.objects = m.surface.Snapshot()
		return m, m.tick()

	case ChangeMsg:
		m.state = msg.State
		m.appendLog(fmt.Sprintf("%s → %s", msg.Reason, displaySlot(msg.State.Active)))
		return m, nil

	case SteppedMsg:
		if msg.Err != nil {
			m.appendLog("step failed: " + msg.Err.Error())
		} else {
			m.virtual = msg.Now
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Idle):
		m.publish(bus.EventTypeIdle, nil)
	case key.Matches(msg, m.keys.Listen):
		m.publish(bus.EventTypeListeningStarted, nil)
	case key.Matches(msg, m.keys.Speak):
		m.publish(bus.EventTypeSpeakingStarted, nil)
		m.speakNext()
	case key.Matches(msg, m.keys.Sentence):
		m.speakNext()
	case key.Matches(msg, m.keys.Stop):
		m.publish(bus.EventTypeSpeakingStopped, nil)
	case key.Matches(msg, m.keys.Next):
		return m, m.step(0)
	case key.Matches(msg, m.keys.Step):
		return m, m.step(m.opts.StepSize)
	}
	return m, nil
}

// step runs off the update goroutine: the stepped timers publish changes
// that are sent back into the program.
func (m *Model) step(d time.Duration) tea.Cmd {
	stepper := m.opts.Stepper
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		now, err := stepper.Step(ctx, d)
		return SteppedMsg{Now: now, Err: err}
	}
}

func (m *Model) speakNext() {
	text := m.opts.Sentences[m.next%len(m.opts.Sentences)]
	m.next++
	m.publish(bus.EventTypeSentence, map[string]any{bus.KeyText: text})
}

func (m *Model) publish(t bus.EventType, data map[string]any) {
	m.appendLog(string(t))
	m.eventBus.Publish(bus.Event{Type: t, Data: data})
}

func (m *Model) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLog {
		m.log = m.log[len(m.log)-maxLog:]
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	title := "cortexface"
	if m.opts.Board != "" {
		title += " · " + m.opts.Board
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	var caption *display.ObjectState
	for i := range m.objects {
		o := m.objects[i]
		switch o.Kind {
		case display.KindLabel:
			caption = &m.objects[i]
		case display.KindImage:
			line := fmt.Sprintf("%-16s %s", o.Name, o.Source)
			if o.Hidden {
				b.WriteString(hiddenStyle.Render("  " + line))
			} else {
				b.WriteString(activeStyle.Render("▶ " + line))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if caption != nil && !caption.Hidden {
		b.WriteString(captionStyle.Render("“" + caption.Text + "”"))
	} else {
		b.WriteString(hiddenStyle.Render("(no caption)"))
	}
	b.WriteString("\n\n")

	if m.state.Initialized {
		fmt.Fprintf(&b, "idle #%d  period %s  paused %t\n", m.state.IdleIndex, m.state.Period, m.state.Paused)
	}
	if m.opts.Stepper != nil {
		fmt.Fprintf(&b, "virtual time %s\n", m.virtual)
	}
	for _, line := range m.log {
		b.WriteString(hiddenStyle.Render(line))
		b.WriteString("\n")
	}

	b.WriteString(m.help.View(m.keys))

	width := m.width - 2
	if width < 20 {
		width = 20
	}
	return boxStyle.Width(width).Render(b.String())
}

func displaySlot(s avatar.Slot) string {
	if s == avatar.SlotNone {
		return "none"
	}
	return string(s)
}
