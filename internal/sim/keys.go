package sim

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the simulator shortcuts. It implements help.KeyMap.
type KeyMap struct {
	Idle     key.Binding
	Listen   key.Binding
	Speak    key.Binding
	Sentence key.Binding
	Stop     key.Binding
	Next     key.Binding
	Step     key.Binding
	Quit     key.Binding
}

// DefaultKeyMap returns the default shortcuts.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Idle: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "idle"),
		),
		Listen: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "listen"),
		),
		Speak: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "speak"),
		),
		Sentence: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "sentence"),
		),
		Stop: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "stop speaking"),
		),
		Next: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "next timer"),
		),
		Step: key.NewBinding(
			key.WithKeys("]"),
			key.WithHelp("]", "+step"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Idle, k.Listen, k.Speak, k.Sentence, k.Stop, k.Next, k.Step, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Idle, k.Listen, k.Speak, k.Sentence},
		{k.Stop, k.Next, k.Step, k.Quit},
	}
}
