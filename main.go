//go:build !gui

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/metcalfc/pagebook/internal/book"
	"github.com/metcalfc/pagebook/internal/reader"
	"github.com/metcalfc/pagebook/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF"))

	crumbStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	pageStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#666666")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFAA00"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Padding(0, 1)

	playingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	tocStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(lipgloss.Color("#444444"))
)

type keyMap struct {
	Prev, Next, First, Last key.Binding
	ZoomIn, ZoomOut, Zoom0  key.Binding
	Spread, TOC, Link       key.Binding
	Audio, CloseAudio       key.Binding
	Exercise, Help, Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Prev, k.Next, k.Spread, k.TOC, k.Audio, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Prev, k.Next, k.First, k.Last},
		{k.ZoomIn, k.ZoomOut, k.Zoom0, k.Spread},
		{k.TOC, k.Link, k.Audio, k.CloseAudio, k.Exercise},
		{k.Help, k.Quit},
	}
}

var keys = keyMap{
	Prev:       key.NewBinding(key.WithKeys("left", "h", "pgup"), key.WithHelp("←", "previous")),
	Next:       key.NewBinding(key.WithKeys("right", "l", "pgdown", " "), key.WithHelp("→", "next")),
	First:      key.NewBinding(key.WithKeys("home"), key.WithHelp("home", "first page")),
	Last:       key.NewBinding(key.WithKeys("end"), key.WithHelp("end", "last page")),
	ZoomIn:     key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "zoom in")),
	ZoomOut:    key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "zoom out")),
	Zoom0:      key.NewBinding(key.WithKeys("0"), key.WithHelp("0", "reset zoom")),
	Spread:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "single/spread")),
	TOC:        key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "contents")),
	Link:       key.NewBinding(key.WithKeys("g"), key.WithHelp("g/g1-9", "follow page link")),
	Audio:      key.NewBinding(key.WithKeys("a", "1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("a/1-9", "play/pause audio")),
	CloseAudio: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "close audio")),
	Exercise:   key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "exercise")),
	Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:       key.NewBinding(key.WithKeys("q", "Q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// tocItem is one row of the contents panel.
type tocItem struct {
	node  *book.TocNode
	depth int
}

func (i tocItem) Title() string { return strings.Repeat("  ", i.depth) + i.node.Title }

func (i tocItem) Description() string {
	if !i.node.HasRange() {
		return ""
	}
	return fmt.Sprintf("%spages %s-%s", strings.Repeat("  ", i.depth), i.node.StartPage, i.node.EndPage)
}

func (i tocItem) FilterValue() string { return i.node.Title }

func tocItems(meta *book.Metadata) []list.Item {
	var items []list.Item
	if meta == nil {
		return nil
	}
	meta.Walk(func(n *book.TocNode, depth int) bool {
		items = append(items, tocItem{node: n, depth: depth})
		return true
	})
	return items
}

type imageMsg struct{ session.ImageResult }

type audioMsg struct{ session.AudioResult }

type exerciseMsg struct {
	name string
	url  string
	err  error
}

type model struct {
	sess *session.Session
	ctx  context.Context
	opts uiOptions

	keys       keyMap
	help       help.Model
	toc        list.Model
	tocVisible bool
	// spread was forced to single by a narrow terminal
	wantSpread bool
	// g was pressed and the next digit picks a link
	linkPending bool

	status   string
	quitting bool
	width    int
	height   int
}

func newModel(ctx context.Context, sess *session.Session, opts uiOptions) model {
	toc := list.New(tocItems(sess.Reader.Metadata()), list.NewDefaultDelegate(), 0, 0)
	toc.Title = "Contents"
	toc.SetShowHelp(false)
	toc.SetShowStatusBar(false)

	m := model{
		sess:   sess,
		ctx:    ctx,
		opts:   opts,
		keys:   keys,
		help:   help.New(),
		toc:    toc,
		width:  80,
		height: 24,
	}
	m.tocVisible = opts.showTOC && len(toc.Items()) > 0
	if err := sess.Err(); err != nil {
		m.status = err.Error()
	}
	return m
}

func (m model) Init() tea.Cmd {
	return m.fetchImages()
}

// fetchImages issues image requests for the visible slots. Results come
// back as imageMsg and are applied only while still current.
func (m model) fetchImages() tea.Cmd {
	var cmds []tea.Cmd
	for _, req := range m.sess.RequestImages() {
		cmds = append(cmds, func() tea.Msg {
			return imageMsg{m.sess.ResolveImage(m.ctx, req)}
		})
	}
	return tea.Batch(cmds...)
}

func (m model) fetchAudio(path string) tea.Cmd {
	req, ok := m.sess.ToggleAudio(path)
	if !ok {
		return nil
	}
	bookID := m.sess.BookID()
	return func() tea.Msg {
		return audioMsg{m.sess.ResolveAudio(m.ctx, bookID, req)}
	}
}

func (m model) fetchExercise() tea.Cmd {
	var ex *book.ExerciseInfo
	for _, p := range m.sess.Reader.VisiblePages() {
		if p != nil && len(p.Exercises) > 0 {
			ex = &p.Exercises[0]
			break
		}
	}
	if ex == nil {
		return nil
	}
	bookID, name, id := m.sess.BookID(), ex.Name, ex.ResourceID
	return func() tea.Msg {
		url, err := m.sess.ResolveExercise(m.ctx, bookID, id)
		return exerciseMsg{name: name, url: url, err: err}
	}
}

// audioFor maps the pressed key to a clip of the visible pages.
func (m model) audioFor(k string) string {
	active := m.sess.Reader.Playable()
	if len(active) == 0 {
		return ""
	}
	if n, err := strconv.Atoi(k); err == nil {
		if n >= 1 && n <= len(active) {
			return active[n-1].Path
		}
		return ""
	}
	if cur := m.sess.Reader.Audio.State().CurrentPath; cur != "" {
		for _, a := range active {
			if a.Path == cur {
				return cur
			}
		}
	}
	return active[0].Path
}

// followLink jumps to the nth page link of the visible pages.
func (m model) followLink(n int) (tea.Model, tea.Cmd) {
	links := m.sess.Reader.PageLinks()
	if n < 1 || n > len(links) {
		m.status = fmt.Sprintf("no link %d on these pages", n)
		return m, nil
	}
	m.sess.Reader.JumpTo(links[n-1])
	m.status = ""
	return m, m.fetchImages()
}

func (m *model) narrow() bool {
	return m.opts.narrowWidth > 0 && m.width < m.opts.narrowWidth
}

// fitWidth forces single mode on narrow terminals and restores spread once
// there is room again.
func (m *model) fitWidth() {
	r := m.sess.Reader
	switch {
	case m.narrow() && r.State().ViewMode == book.Spread:
		m.wantSpread = true
		r.SetViewMode(book.Single)
	case !m.narrow() && m.wantSpread:
		m.wantSpread = false
		r.SetViewMode(book.Spread)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m.sess.Reader.Audio.Poll()
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.toc.SetSize(msg.Width/3, msg.Height-4)
		m.fitWidth()
		return m, m.fetchImages()

	case imageMsg:
		m.sess.ApplyImage(msg.ImageResult)
		return m, nil

	case audioMsg:
		if msg.Err != nil {
			m.status = fmt.Sprintf("audio %s: %v", msg.Request.Path, msg.Err)
		}
		m.sess.ApplyAudio(msg.AudioResult)
		return m, nil

	case exerciseMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("exercise %s: %v", msg.name, msg.err)
		} else {
			m.status = fmt.Sprintf("exercise %s: %s", msg.name, msg.url)
		}
		return m, nil

	case tea.KeyMsg:
		if m.tocVisible {
			return m.updateTOC(msg)
		}
		return m.updateReader(msg)
	}
	return m, nil
}

func (m model) updateTOC(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.toc.FilterState() != list.Filtering {
		switch msg.String() {
		case "t", "esc":
			m.tocVisible = false
			return m, nil
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			item, ok := m.toc.SelectedItem().(tocItem)
			if !ok {
				return m, nil
			}
			if !m.sess.Reader.SelectNode(item.node) {
				m.status = fmt.Sprintf("%q has no page of its own", item.node.Title)
				return m, nil
			}
			m.status = ""
			m.tocVisible = false
			return m, m.fetchImages()
		}
	}
	var cmd tea.Cmd
	m.toc, cmd = m.toc.Update(msg)
	return m, cmd
}

func (m model) updateReader(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	r := m.sess.Reader
	if m.linkPending {
		m.linkPending = false
		if n, err := strconv.Atoi(msg.String()); err == nil {
			return m.followLink(n)
		}
		m.status = ""
	}
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Prev):
		r.GoBack()
	case key.Matches(msg, m.keys.Next):
		r.GoForward()
	case key.Matches(msg, m.keys.First):
		r.GoFirst()
	case key.Matches(msg, m.keys.Last):
		r.GoLast()

	case key.Matches(msg, m.keys.ZoomIn):
		r.ZoomIn()
	case key.Matches(msg, m.keys.ZoomOut):
		r.ZoomOut()
	case key.Matches(msg, m.keys.Zoom0):
		r.ResetZoom()

	case key.Matches(msg, m.keys.Spread):
		if m.narrow() {
			m.status = "terminal too narrow for spread"
			return m, nil
		}
		r.ToggleViewMode()

	case key.Matches(msg, m.keys.TOC):
		if len(m.toc.Items()) > 0 {
			m.tocVisible = true
		}
		return m, nil

	case key.Matches(msg, m.keys.Link):
		switch links := r.PageLinks(); len(links) {
		case 0:
			m.status = "no links on these pages"
		case 1:
			return m.followLink(1)
		default:
			m.linkPending = true
			m.status = fmt.Sprintf("follow link 1-%d", len(links))
		}
		return m, nil

	case key.Matches(msg, m.keys.Audio):
		path := m.audioFor(msg.String())
		if path == "" {
			m.status = "no audio on these pages"
			return m, nil
		}
		return m, m.fetchAudio(path)
	case key.Matches(msg, m.keys.CloseAudio):
		r.CloseAudio()
		return m, nil

	case key.Matches(msg, m.keys.Exercise):
		cmd := m.fetchExercise()
		if cmd == nil {
			m.status = "no exercise on these pages"
		}
		return m, cmd

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	default:
		return m, nil
	}
	m.status = ""
	return m, m.fetchImages()
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	meta := m.sess.Reader.Metadata()
	if meta == nil {
		msg := "No book loaded."
		if err := m.sess.Err(); err != nil {
			msg = errorStyle.Render(err.Error())
		}
		return msg + "\n\n" + statusStyle.Render("q: quit")
	}
	snap := m.sess.Reader.Snapshot()

	var sb strings.Builder
	header := titleStyle.Render(meta.Title)
	if snap.UnitTitle != "" {
		header += "  " + snap.UnitTitle
	}
	sb.WriteString(header + "\n")
	if len(snap.Breadcrumb) > 1 {
		sb.WriteString(crumbStyle.Render(strings.Join(snap.Breadcrumb, " › ")))
	}
	sb.WriteString("\n")

	pages := m.renderPages(snap.Left, snap.Right, snap.ViewMode)
	if m.tocVisible {
		pages = lipgloss.JoinHorizontal(lipgloss.Top, tocStyle.Render(m.toc.View()), pages)
	}
	sb.WriteString(pages + "\n")

	if audio := renderAudio(m.sess.Reader.Playable(), snap.Audio); audio != "" {
		sb.WriteString(audio + "\n")
	}
	if links := renderLinks(m.sess.Reader.PageLinks()); links != "" {
		sb.WriteString(links + "\n")
	}

	status := fmt.Sprintf("Page %d/%d | %s | %.0f%%", snap.Position, snap.Total, snap.ViewMode, snap.ZoomLevel*100)
	if m.wantSpread {
		status += " (narrow)"
	}
	if m.status != "" {
		status += " | " + m.status
	}
	sb.WriteString(statusStyle.Render(status) + "\n")
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

func (m model) renderPages(left, right string, mode book.ViewMode) string {
	width := m.width - 4
	if m.tocVisible {
		width -= m.width / 3
	}
	if mode == book.Spread {
		width /= 2
	}
	if width < 20 {
		width = 20
	}
	box := pageStyle.Width(width - 2)

	if mode == book.Single {
		return box.Render(m.renderPage(session.SlotLeft, left))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		box.Render(m.renderPage(session.SlotLeft, left)),
		box.Render(m.renderPage(session.SlotRight, right)))
}

func (m model) renderPage(slot, label string) string {
	if label == "" {
		return ""
	}
	var lines []string
	lines = append(lines, labelStyle.Render("p. "+label))

	img, ok := m.sess.Image(slot)
	switch {
	case !ok || img.Label != label:
		lines = append(lines, crumbStyle.Render("loading…"))
	case img.Err != nil:
		lines = append(lines, errorStyle.Render("image unavailable"))
	default:
		lines = append(lines, img.Path)
	}

	page := m.sess.Reader.Metadata().Page(label)
	if page == nil {
		return strings.Join(lines, "\n")
	}
	for _, a := range page.AudioOverlays() {
		lines = append(lines, crumbStyle.Render("♪ "+clipName(a)))
	}
	for _, l := range page.PageLinks() {
		lines = append(lines, crumbStyle.Render("↪ p. "+l))
	}
	for _, ex := range page.Exercises {
		lines = append(lines, "✎ "+ex.Name)
	}
	return strings.Join(lines, "\n")
}

func clipName(a book.AudioRef) string {
	if a.Title != "" {
		return a.Title
	}
	return a.Path
}

func renderAudio(clips []book.AudioRef, st reader.AudioState) string {
	if len(clips) == 0 {
		return ""
	}
	var parts []string
	for i, a := range clips {
		entry := fmt.Sprintf("%d:%s", i+1, clipName(a))
		if a.Path == st.CurrentPath {
			if st.CurrentTime > 0 || st.Duration > 0 {
				entry += " " + playTime(st)
			}
			if st.Playing {
				entry = playingStyle.Render("▶ " + entry)
			} else {
				entry = "❚❚ " + entry
			}
		}
		parts = append(parts, entry)
	}
	return "♪ " + strings.Join(parts, "  ")
}

func renderLinks(links []string) string {
	switch len(links) {
	case 0:
		return ""
	case 1:
		return "↪ g: p. " + links[0]
	}
	parts := make([]string, len(links))
	for i, l := range links {
		parts[i] = fmt.Sprintf("g%d: p. %s", i+1, l)
	}
	return "↪ " + strings.Join(parts, "  ")
}

// runReader runs the terminal front-end until the user quits.
func runReader(ctx context.Context, sess *session.Session, opts uiOptions) error {
	p := tea.NewProgram(newModel(ctx, sess, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("terminal ui: %w", err)
	}
	return nil
}
