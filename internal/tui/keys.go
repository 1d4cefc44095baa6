package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

type keyMap struct {
	Send       key.Binding
	Start      key.Binding
	Front      key.Binding
	Back       key.Binding
	Attach     key.Binding
	SwitchSide key.Binding
	Capture    key.Binding
	Submit     key.Binding
	Confirm    key.Binding
	Edit       key.Binding
	Retry      key.Binding
	CloseSurf  key.Binding
	ResetFlow  key.Binding
	Quit       key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Send:       key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Start:      key.NewBinding(key.WithKeys("enter", "v"), key.WithHelp("enter", "start verification")),
		Front:      key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "capture front")),
		Back:       key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "capture back")),
		Attach:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "attach file")),
		SwitchSide: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch side")),
		Capture:    key.NewBinding(key.WithKeys("c", " "), key.WithHelp("c", "capture")),
		Submit:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "submit")),
		Confirm:    key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "confirm")),
		Edit:       key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
		Retry:      key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
		CloseSurf:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close")),
		ResetFlow:  key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "start over")),
		Quit:       key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
		ScrollUp:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
		ScrollDown: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "scroll down")),
	}
}

// contextual is the help shown for one surface.
type contextual []key.Binding

func (c contextual) ShortHelp() []key.Binding { return c }

func (c contextual) FullHelp() [][]key.Binding { return [][]key.Binding{c} }
