//go:build gui

package main

import (
	"context"
	"fmt"
	"image/color"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/metcalfc/pagebook/internal/book"
	"github.com/metcalfc/pagebook/internal/session"
)

// pixels per terminal column when applying narrow_width to a window
const columnWidth = 10

var basePage = fyne.NewSize(420, 600)

type window struct {
	sess *session.Session
	ctx  context.Context
	opts uiOptions
	w    fyne.Window

	pages    map[string]*canvas.Image
	labels   map[string]*widget.Label
	overlays map[string]*fyne.Container

	unit   *widget.Label
	crumbs *widget.Label
	status *widget.Label
	audio  *widget.Label
	spread *fyne.Container

	tree  *widget.Tree
	nodes map[widget.TreeNodeID]*book.TocNode
	split *container.Split

	wantSpread bool
}

func newPage() (*canvas.Image, *widget.Label, *fyne.Container) {
	img := canvas.NewImageFromResource(nil)
	img.FillMode = canvas.ImageFillContain
	img.SetMinSize(basePage)
	lbl := widget.NewLabel("")
	lbl.Alignment = fyne.TextAlignCenter
	return img, lbl, container.NewWithoutLayout()
}

// hotspot is a tappable overlay area laid over a page image.
type hotspot struct {
	widget.BaseWidget
	onTap func()
}

func newHotspot(onTap func()) *hotspot {
	h := &hotspot{onTap: onTap}
	h.ExtendBaseWidget(h)
	return h
}

func (h *hotspot) Tapped(*fyne.PointEvent) { h.onTap() }

func (h *hotspot) Cursor() desktop.Cursor { return desktop.PointerCursor }

func (h *hotspot) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(canvas.NewRectangle(color.NRGBA{R: 0xff, G: 0xaa, A: 0x30}))
}

// pageSize is the on-screen size of a page at zoom, keeping the aspect
// ratio of the book when it is known.
func pageSize(meta *book.Metadata, zoom float64) fyne.Size {
	size := fyne.NewSize(basePage.Width*float32(zoom), basePage.Height*float32(zoom))
	if meta != nil && meta.PageWidth > 0 && meta.PageHeight > 0 {
		size.Height = size.Width * float32(meta.PageHeight/meta.PageWidth)
	}
	return size
}

// placeOverlays rebuilds the hotspots of label inside layer, which covers
// a page of the given size.
func (ui *window) placeOverlays(layer *fyne.Container, label string, size fyne.Size) {
	layer.RemoveAll()
	meta := ui.sess.Reader.Metadata()
	page := meta.Page(label)
	if page == nil {
		return
	}
	for _, o := range page.Overlays {
		var tap func()
		switch {
		case o.Type == book.OverlayPage && o.Page != nil:
			target := o.Page.PageLabel
			tap = func() {
				if ui.sess.Reader.JumpTo(target) {
					ui.refresh()
				}
			}
		case o.Type == book.OverlayAudio && o.Audio != nil:
			path := o.Audio.Path
			tap = func() { ui.toggleAudio(path) }
		default:
			continue
		}
		r := o.Percent(meta.PageWidth, meta.PageHeight)
		h := newHotspot(tap)
		h.Move(fyne.NewPos(size.Width*float32(r.Left/100), size.Height*float32(r.Top/100)))
		h.Resize(fyne.NewSize(size.Width*float32(r.Width/100), size.Height*float32(r.Height/100)))
		layer.Add(h)
	}
	layer.Resize(size)
}

// tocTree builds the contents tree. Node ids are index paths, "0/2/1".
func (ui *window) tocTree(meta *book.Metadata) *widget.Tree {
	ui.nodes = make(map[widget.TreeNodeID]*book.TocNode)
	children := make(map[widget.TreeNodeID][]widget.TreeNodeID)
	var add func(parent widget.TreeNodeID, nodes []*book.TocNode)
	add = func(parent widget.TreeNodeID, nodes []*book.TocNode) {
		for i, n := range nodes {
			id := strconv.Itoa(i)
			if parent != "" {
				id = parent + "/" + id
			}
			ui.nodes[id] = n
			children[parent] = append(children[parent], id)
			add(id, n.Children)
		}
	}
	if meta != nil {
		add("", meta.TOC)
	}

	tree := widget.NewTree(
		func(id widget.TreeNodeID) []widget.TreeNodeID { return children[id] },
		func(id widget.TreeNodeID) bool { return len(children[id]) > 0 },
		func(bool) fyne.CanvasObject { return widget.NewLabel("Title") },
		func(id widget.TreeNodeID, _ bool, obj fyne.CanvasObject) {
			n := ui.nodes[id]
			text := n.Title
			if n.HasRange() {
				text += fmt.Sprintf("  (%s-%s)", n.StartPage, n.EndPage)
			}
			obj.(*widget.Label).SetText(text)
		},
	)
	tree.OnSelected = func(id widget.TreeNodeID) {
		n := ui.nodes[id]
		if n == nil {
			return
		}
		if !n.IsLeaf() {
			tree.ToggleBranch(id)
		} else if ui.sess.Reader.SelectNode(n) {
			ui.refresh()
		}
		tree.Unselect(id)
	}
	return tree
}

// fetchImages resolves the visible pages off the UI goroutine and applies
// the answers that are still current.
func (ui *window) fetchImages() {
	for _, req := range ui.sess.RequestImages() {
		go func() {
			res := ui.sess.ResolveImage(ui.ctx, req)
			fyne.Do(func() {
				if ui.sess.ApplyImage(res) {
					ui.updatePages()
				}
			})
		}()
	}
}

func (ui *window) toggleAudio(path string) {
	req, ok := ui.sess.ToggleAudio(path)
	if ok {
		bookID := ui.sess.BookID()
		go func() {
			res := ui.sess.ResolveAudio(ui.ctx, bookID, req)
			fyne.Do(func() {
				if res.Err != nil {
					ui.status.SetText(fmt.Sprintf("audio %s: %v", res.Request.Path, res.Err))
				}
				ui.sess.ApplyAudio(res)
				ui.updateAudio()
			})
		}()
	}
	ui.updateAudio()
}

func (ui *window) toggleFirstAudio() {
	active := ui.sess.Reader.Playable()
	if len(active) == 0 {
		return
	}
	path := active[0].Path
	cur := ui.sess.Reader.Audio.State().CurrentPath
	for _, a := range active {
		if a.Path == cur {
			path = cur
		}
	}
	ui.toggleAudio(path)
}

func (ui *window) openExercise() {
	for _, p := range ui.sess.Reader.VisiblePages() {
		if p == nil || len(p.Exercises) == 0 {
			continue
		}
		ex := p.Exercises[0]
		bookID := ui.sess.BookID()
		go func() {
			url, err := ui.sess.ResolveExercise(ui.ctx, bookID, ex.ResourceID)
			fyne.Do(func() {
				if err != nil {
					ui.status.SetText(fmt.Sprintf("exercise %s: %v", ex.Name, err))
					return
				}
				if u, perr := exerciseURL(url); perr == nil {
					_ = fyne.CurrentApp().OpenURL(u)
				}
				ui.status.SetText("exercise " + ex.Name)
			})
		}()
		return
	}
}

// exerciseURL turns a resolved exercise location into something a browser
// can open. Local files become file URLs.
func exerciseURL(s string) (*url.URL, error) {
	if strings.Contains(s, "://") {
		return url.Parse(s)
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(s)}, nil
}

func (ui *window) narrow() bool {
	return ui.opts.narrowWidth > 0 && ui.w.Canvas().Size().Width < float32(ui.opts.narrowWidth*columnWidth)
}

func (ui *window) fitWidth() {
	r := ui.sess.Reader
	switch {
	case ui.narrow() && r.State().ViewMode == book.Spread:
		ui.wantSpread = true
		r.SetViewMode(book.Single)
	case !ui.narrow() && ui.wantSpread:
		ui.wantSpread = false
		r.SetViewMode(book.Spread)
	}
}

func (ui *window) updatePages() {
	snap := ui.sess.Reader.Snapshot()
	size := pageSize(ui.sess.Reader.Metadata(), snap.ZoomLevel)
	for slot, label := range map[string]string{session.SlotLeft: snap.Left, session.SlotRight: snap.Right} {
		img, lbl, layer := ui.pages[slot], ui.labels[slot], ui.overlays[slot]
		visible := label != "" && (slot == session.SlotLeft || snap.ViewMode == book.Spread)
		if !visible {
			img.File = ""
			img.Hide()
			lbl.Hide()
			layer.RemoveAll()
			continue
		}
		img.SetMinSize(size)
		img.Show()
		lbl.Show()
		ui.placeOverlays(layer, label, size)
		lbl.SetText("p. " + label)
		if got, ok := ui.sess.Image(slot); ok && got.Label == label && got.Err == nil {
			img.File = got.Path
		} else {
			img.File = ""
			if ok && got.Err != nil {
				lbl.SetText("p. " + label + " (unavailable)")
			}
		}
		img.Refresh()
	}
	ui.spread.Refresh()
}

func (ui *window) updateAudio() {
	st := ui.sess.Reader.Audio.State()
	var parts []string
	for i, a := range ui.sess.Reader.Playable() {
		entry := fmt.Sprintf("%d:%s", i+1, a.Path)
		if a.Path == st.CurrentPath {
			if st.Playing {
				entry = "▶ " + entry
			} else {
				entry = "❚❚ " + entry
			}
			entry += " " + playTime(st)
		}
		parts = append(parts, entry)
	}
	ui.audio.SetText(strings.Join(parts, "   "))
}

// refresh redraws everything derived from navigation state.
func (ui *window) refresh() {
	snap := ui.sess.Reader.Snapshot()
	ui.unit.SetText(snap.UnitTitle)
	ui.crumbs.SetText(strings.Join(snap.Breadcrumb, " › "))
	ui.status.SetText(fmt.Sprintf("Page %d/%d | %s | %.0f%%", snap.Position, snap.Total, snap.ViewMode, snap.ZoomLevel*100))
	ui.updatePages()
	ui.updateAudio()
	ui.fetchImages()
}

func (ui *window) toggleTOC() {
	if ui.split == nil {
		return
	}
	if ui.split.Leading.Visible() {
		ui.split.Leading.Hide()
	} else {
		ui.split.Leading.Show()
	}
	ui.split.Refresh()
}

func (ui *window) toggleSpread() {
	if ui.narrow() {
		ui.status.SetText("window too narrow for spread")
		return
	}
	ui.sess.Reader.ToggleViewMode()
	ui.refresh()
}

func (ui *window) onKey(ev *fyne.KeyEvent) {
	r := ui.sess.Reader
	switch ev.Name {
	case fyne.KeyLeft, fyne.KeyPageUp:
		r.GoBack()
	case fyne.KeyRight, fyne.KeyPageDown, fyne.KeySpace:
		r.GoForward()
	case fyne.KeyHome:
		r.GoFirst()
	case fyne.KeyEnd:
		r.GoLast()
	case fyne.KeyF:
		ui.w.SetFullScreen(!ui.w.FullScreen())
		return
	case fyne.KeyQ:
		ui.w.Close()
		return
	default:
		return
	}
	ui.refresh()
}

func (ui *window) onRune(ch rune) {
	r := ui.sess.Reader
	switch {
	case ch == '+' || ch == '=':
		r.ZoomIn()
	case ch == '-':
		r.ZoomOut()
	case ch == '0':
		r.ResetZoom()
	case ch == 's' || ch == 'S':
		ui.toggleSpread()
		return
	case ch == 't' || ch == 'T':
		ui.toggleTOC()
		return
	case ch == 'a' || ch == 'A':
		ui.toggleFirstAudio()
		return
	case ch >= '1' && ch <= '9':
		if active := r.Playable(); int(ch-'1') < len(active) {
			ui.toggleAudio(active[ch-'1'].Path)
		}
		return
	case ch == 'x' || ch == 'X':
		r.CloseAudio()
		ui.updateAudio()
		return
	case ch == 'e' || ch == 'E':
		ui.openExercise()
		return
	default:
		return
	}
	ui.refresh()
}

// runReader runs the desktop front-end until the window is closed.
func runReader(ctx context.Context, sess *session.Session, opts uiOptions) error {
	a := app.New()
	title := "pagebook"
	meta := sess.Reader.Metadata()
	if meta != nil {
		title += " - " + meta.Title
	}
	ui := &window{
		sess:   sess,
		ctx:    ctx,
		opts:   opts,
		w:      a.NewWindow(title),
		pages:    make(map[string]*canvas.Image),
		labels:   make(map[string]*widget.Label),
		overlays: make(map[string]*fyne.Container),
		unit:     widget.NewLabel(""),
		crumbs:   widget.NewLabel(""),
		status:   widget.NewLabel(""),
		audio:    widget.NewLabel(""),
	}
	ui.unit.TextStyle.Bold = true

	var columns []fyne.CanvasObject
	for _, slot := range []string{session.SlotLeft, session.SlotRight} {
		img, lbl, layer := newPage()
		ui.pages[slot], ui.labels[slot], ui.overlays[slot] = img, lbl, layer
		columns = append(columns, container.NewBorder(nil, lbl, nil, nil, container.NewStack(img, layer)))
	}
	ui.spread = container.NewHBox(columns...)

	toolbar := widget.NewToolbar(
		widget.NewToolbarAction(theme.NavigateBackIcon(), func() { sess.Reader.GoBack(); ui.refresh() }),
		widget.NewToolbarAction(theme.NavigateNextIcon(), func() { sess.Reader.GoForward(); ui.refresh() }),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.ZoomInIcon(), func() { sess.Reader.ZoomIn(); ui.refresh() }),
		widget.NewToolbarAction(theme.ZoomOutIcon(), func() { sess.Reader.ZoomOut(); ui.refresh() }),
		widget.NewToolbarAction(theme.ZoomFitIcon(), func() { sess.Reader.ResetZoom(); ui.refresh() }),
		widget.NewToolbarAction(theme.GridIcon(), ui.toggleSpread),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.MediaPlayIcon(), ui.toggleFirstAudio),
		widget.NewToolbarAction(theme.MediaStopIcon(), func() { sess.Reader.CloseAudio(); ui.updateAudio() }),
		widget.NewToolbarAction(theme.DocumentIcon(), ui.openExercise),
		widget.NewToolbarSpacer(),
		widget.NewToolbarAction(theme.ListIcon(), ui.toggleTOC),
	)

	reading := container.NewBorder(
		container.NewVBox(toolbar, ui.unit, ui.crumbs),
		container.NewVBox(ui.audio, ui.status),
		nil, nil,
		container.NewScroll(container.NewCenter(ui.spread)),
	)

	cover := canvas.NewImageFromResource(nil)
	cover.FillMode = canvas.ImageFillContain
	cover.Hide()

	content := fyne.CanvasObject(reading)
	if meta != nil && len(meta.TOC) > 0 {
		ui.tree = ui.tocTree(meta)
		toc := container.NewBorder(container.NewVBox(cover, widget.NewLabel("Table of Contents")), nil, nil, nil, ui.tree)
		ui.split = container.NewHSplit(toc, reading)
		ui.split.Offset = 0.25
		if !opts.showTOC {
			toc.Hide()
		}
		content = ui.split
	}
	if err := sess.Err(); err != nil {
		ui.status.SetText(err.Error())
	}

	ui.w.Canvas().SetOnTypedKey(ui.onKey)
	ui.w.Canvas().SetOnTypedRune(ui.onRune)
	ui.w.Resize(fyne.NewSize(1100, 800))
	ui.w.SetContent(content)

	if bookID := sess.BookID(); meta != nil {
		go func() {
			p, err := sess.ResolveCover(ctx, bookID)
			if err != nil {
				return
			}
			res, err := fyne.LoadResourceFromPath(p)
			if err != nil {
				fyne.LogError("unable to read cover", err)
				return
			}
			fyne.Do(func() {
				ui.w.SetIcon(res)
				cover.Resource = res
				cover.SetMinSize(fyne.NewSize(120, 160))
				cover.Show()
				cover.Refresh()
			})
		}()
	}

	// follow window resizes for the narrow layout and playback progress
	done := make(chan struct{})
	var closeOnce sync.Once
	go func() {
		var last float32
		tick := time.NewTicker(200 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				fyne.Do(func() {
					if width := ui.w.Canvas().Size().Width; width > 0 && width != last {
						last = width
						ui.fitWidth()
						ui.refresh()
					}
					if st := sess.Reader.Audio.State(); st.Playing {
						sess.Reader.Audio.Poll()
						ui.updateAudio()
					}
				})
			}
		}
	}()

	ui.w.SetOnClosed(func() {
		if err := sess.SaveProgress(context.Background()); err != nil {
			fyne.LogError("unable to save progress", err)
		}
		closeOnce.Do(func() { close(done) })
	})

	ui.refresh()
	ui.w.ShowAndRun()
	closeOnce.Do(func() { close(done) })
	return nil
}
