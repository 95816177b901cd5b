package sim

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/normanking/cortexface/internal/avatar"
	"github.com/normanking/cortexface/internal/bus"
)

// Run starts the TUI and forwards avatar changes from the bus into it.
// It returns when the user quits or ctx is done.
func Run(ctx context.Context, m *Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	p := tea.NewProgram(m, opts...)

	m.eventBus.Subscribe(bus.EventTypeAvatarStateChanged, func(e bus.Event) {
		if msg, ok := changeMsg(e); ok {
			p.Send(msg)
		}
	})

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func changeMsg(e bus.Event) (ChangeMsg, bool) {
	state, ok := e.Data[bus.KeyState].(avatar.State)
	if !ok {
		return ChangeMsg{}, false
	}
	return ChangeMsg{Reason: e.String(bus.KeyReason), State: state}, true
}
