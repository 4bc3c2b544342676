package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap 收件箱界面的按键绑定
type KeyMap struct {
	Down    key.Binding
	Up      key.Binding
	Expand  key.Binding
	New     key.Binding
	Refresh key.Binding
	Search  key.Binding
	Back    key.Binding
	Help    key.Binding
	Quit    key.Binding
}

// DefaultKeyMap 返回默认按键绑定
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Expand: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "expand/collapse"),
		),
		New: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "new address"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Search: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "search"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "clear search"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp 返回状态栏展示的常用按键
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Expand, k.New, k.Refresh, k.Search, k.Help, k.Quit}
}

// FullHelp 返回分组后的全部按键
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Expand},
		{k.New, k.Refresh},
		{k.Search, k.Back, k.Help, k.Quit},
	}
}
