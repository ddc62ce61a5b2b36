package keys

import "github.com/charmbracelet/bubbles/key"

// DashboardKeys are the key bindings for the watch dashboard
type DashboardKeys struct {
	Quit key.Binding
	Help key.Binding
	Pair key.Binding
}

func NewDashboardKeys() DashboardKeys {
	return DashboardKeys{
		Quit: key.NewBinding(
			key.WithKeys("q", "Q", "ctrl+c"),
			key.WithHelp("q/ctrl+c", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Pair: key.NewBinding(
			key.WithKeys("p", "P"),
			key.WithHelp("p", "pair senders to receiver"),
		),
	}
}

func (k DashboardKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Pair, k.Help, k.Quit}
}

func (k DashboardKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Pair},
		{k.Help, k.Quit},
	}
}
