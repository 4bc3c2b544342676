// Package tui 是收件箱核心的终端展示层，只读取快照并转发用户动作。
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tempmail/inboxsync/internal/countdown"
	"tempmail/inboxsync/internal/domain"
	"tempmail/inboxsync/internal/inbox"
)

// Engine 界面依赖的收件箱引擎能力
type Engine interface {
	Snapshot() domain.Snapshot
	Subscribe() (<-chan domain.Snapshot, func())
	CreateNewSession(ctx context.Context) (domain.Session, error)
	RefreshNow(ctx context.Context) error
	ExpandMessage(ctx context.Context, messageID string) (domain.MessageBody, error)
}

// snapshotMsg 引擎推送的新快照，ok 为 false 表示订阅已关闭
type snapshotMsg struct {
	snap domain.Snapshot
	ok   bool
}

// tickMsg 驱动倒计时刷新
type tickMsg time.Time

// actionDoneMsg 用户动作执行完成
type actionDoneMsg struct {
	action string
	err    error
}

// Model 收件箱界面模型
type Model struct {
	engine  Engine
	ctx     context.Context
	updates <-chan domain.Snapshot
	cancel  func()

	keys     *KeyMap
	help     help.Model
	search   textinput.Model
	tick     time.Duration
	snap     domain.Snapshot
	cursor   int
	expanded string
	notice   string

	searching bool
	showHelp  bool
	width     int
	height    int
}

// New 创建界面模型并订阅引擎快照，退出后需调用 Close
func New(ctx context.Context, engine Engine) Model {
	si := textinput.New()
	si.Placeholder = "sender or subject"
	si.Prompt = "/ "
	si.CharLimit = 64

	updates, cancel := engine.Subscribe()
	return Model{
		engine:  engine,
		ctx:     ctx,
		updates: updates,
		cancel:  cancel,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		search:  si,
		tick:    countdown.DefaultTickInterval,
		snap:    engine.Snapshot(),
		width:   80,
		height:  24,
	}
}

// Close 取消快照订阅
func (m Model) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Init 开始监听快照并启动倒计时
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForSnapshot(), m.tickCmd())
}

// Update 处理消息
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.search.Width = msg.Width - 6
		return m, nil

	case snapshotMsg:
		if !msg.ok {
			return m, tea.Quit
		}
		m.applySnapshot(msg.snap)
		return m, m.waitForSnapshot()

	case tickMsg:
		m.applySnapshot(m.engine.Snapshot())
		return m, m.tickCmd()

	case actionDoneMsg:
		m.notice = ""
		if msg.err != nil && !errors.Is(msg.err, domain.ErrStaleResult) {
			m.notice = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		}
		return m, nil

	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.visible())-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Expand):
		cmd := m.toggleExpand()
		return m, cmd
	case key.Matches(msg, m.keys.New):
		m.expanded = ""
		return m, m.runAction("new address", func(ctx context.Context) error {
			_, err := m.engine.CreateNewSession(ctx)
			return err
		})
	case key.Matches(msg, m.keys.Refresh):
		return m, m.runAction("refresh", m.engine.RefreshNow)
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		cmd := m.search.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.Back):
		m.search.SetValue("")
		m.cursor = 0
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.searching = false
		m.search.SetValue("")
		m.search.Blur()
		m.cursor = 0
		return m, nil
	case tea.KeyEnter:
		m.searching = false
		m.search.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	m.cursor = 0
	return m, cmd
}

// toggleExpand 展开或收起选中的邮件，加载失败的邮件再次确认时重试
func (m *Model) toggleExpand() tea.Cmd {
	msgs := m.visible()
	if len(msgs) == 0 {
		return nil
	}
	sel := msgs[m.cursor]

	if m.expanded == sel.ID && sel.BodyState != domain.BodyFailed {
		m.expanded = ""
		return nil
	}
	m.expanded = sel.ID
	if sel.HasBody() || sel.BodyState == domain.BodyLoading {
		return nil
	}

	id := sel.ID
	return m.runAction("load message", func(ctx context.Context) error {
		_, err := m.engine.ExpandMessage(ctx, id)
		return err
	})
}

func (m *Model) applySnapshot(snap domain.Snapshot) {
	m.snap = snap
	visible := m.visible()
	if m.cursor >= len(visible) {
		m.cursor = max(len(visible)-1, 0)
	}
	if m.expanded != "" && !containsID(snap.Messages, m.expanded) {
		m.expanded = ""
	}
}

// visible 返回筛选后的邮件
func (m Model) visible() []domain.Message {
	return inbox.Filter(m.snap.Messages, m.search.Value())
}

func (m Model) runAction(name string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{action: name, err: fn(ctx)}
	}
}

func (m Model) waitForSnapshot() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		snap, ok := <-updates
		return snapshotMsg{snap: snap, ok: ok}
	}
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.tick, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// View 渲染界面
func (m Model) View() string {
	sections := []string{
		m.renderHeader(),
		m.renderStatus(),
		"",
		m.renderList(),
		"",
		m.renderFooter(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	title := headerStyle.Render("Temp Mail")
	if m.snap.Session == nil {
		return lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", statusStyle.Render("no address"))
	}

	var clock string
	switch {
	case m.snap.Session.Expired:
		clock = countdownLowStyle.Render("Mailbox Expired")
	case countdown.Low(m.snap.RemainingSeconds):
		clock = countdownLowStyle.Render(countdown.Format(m.snap.RemainingSeconds))
	default:
		clock = countdownStyle.Render(countdown.Format(m.snap.RemainingSeconds))
	}

	return lipgloss.JoinHorizontal(lipgloss.Center,
		title, "  ",
		addressStyle.Render(m.snap.Session.Address), "  ",
		clock,
	)
}

func (m Model) renderStatus() string {
	var line string
	switch m.snap.State {
	case domain.DisplayNoSession:
		if m.snap.Creating {
			line = statusStyle.Render("Generating address...")
		} else {
			line = statusStyle.Render("No mailbox. Press n to generate one.")
		}
	case domain.DisplayExpired:
		line = warningStyle.Render("This address has expired. Press n for a new one.")
	case domain.DisplayDegraded:
		line = warningStyle.Render(fmt.Sprintf("Connection issues, retrying... (%d failed attempts)", m.snap.ConsecutiveFailures))
	default:
		switch {
		case m.snap.Creating:
			line = statusStyle.Render("Generating address...")
		case m.snap.PollStatus == domain.PollFetching:
			line = statusStyle.Render("Checking for new mail...")
		default:
			line = statusStyle.Render(fmt.Sprintf("%d messages", len(m.snap.Messages)))
		}
	}

	if m.snap.LastError != "" {
		line += "  " + errorStyle.Render(m.snap.LastError)
	}
	if m.notice != "" {
		line += "  " + errorStyle.Render(m.notice)
	}
	return line
}

func (m Model) renderList() string {
	msgs := m.visible()
	if len(msgs) == 0 {
		switch {
		case m.search.Value() != "":
			return statusStyle.Render(fmt.Sprintf("No messages match %q", m.search.Value()))
		case m.snap.Session == nil:
			return ""
		default:
			return statusStyle.Render("Waiting for incoming emails...")
		}
	}

	var b strings.Builder
	for i, msg := range msgs {
		b.WriteString(m.renderItem(msg, i == m.cursor))
		b.WriteString("\n")
		if msg.ID == m.expanded {
			b.WriteString(m.renderBody(msg))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderItem(msg domain.Message, selected bool) string {
	marker := " "
	if !msg.Seen {
		marker = unreadStyle.Render("●")
	}

	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}

	line := fmt.Sprintf("%s %s %-20s %s  %s",
		marker,
		avatarStyle.Render(msg.From.Initials()),
		truncate(msg.From.DisplayName(), 20),
		subject,
		statusStyle.Render(msg.ReceivedAt.Local().Format("15:04")),
	)
	if selected {
		return selectedItemStyle.Render(line)
	}
	return itemStyle.Render(line)
}

func (m Model) renderBody(msg domain.Message) string {
	var content string
	switch {
	case msg.HasBody():
		content = fmt.Sprintf("From: %s <%s>\n\n%s",
			msg.From.DisplayName(), msg.From.DisplayAddress(), plainText(msg.Body.HTML))
	case msg.BodyState == domain.BodyFailed:
		content = errorStyle.Render("Failed to load message. Press enter to retry.")
	default:
		content = statusStyle.Render("Loading full message...")
	}
	return bodyStyle.Width(max(m.width-6, 20)).Render(content)
}

func (m Model) renderFooter() string {
	var parts []string
	if m.searching || m.search.Value() != "" {
		parts = append(parts, m.search.View())
	}
	parts = append(parts, m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func containsID(msgs []domain.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
