// Package reader provides the page navigation and table of contents
// resolution engine of an image book reading session.
package reader

import (
	"math"
	"slices"

	"github.com/rs/zerolog"

	"github.com/metcalfc/pagebook/internal/book"
)

const (
	MinZoom         = 0.25
	MaxZoom         = 5.0
	DefaultZoom     = 1.0
	DefaultZoomStep = 0.05
)

// NavigationState is the mutable part of a reading session.
type NavigationState struct {
	CurrentPageLabel string
	ViewMode         book.ViewMode
	ZoomLevel        float64
	SpreadOffset     int
}

// Change describes what a mutation touched.
type Change uint8

const (
	ChangePage Change = 1 << iota
	ChangeViewMode
	ChangeZoom
	ChangeSpreadOffset
	ChangeMetadata
)

// Has reports whether c includes f.
func (c Change) Has(f Change) bool {
	return c&f != 0
}

// Reader holds the navigation state for one open book. Every derived value is
// recomputed from the state on read.
type Reader struct {
	state    NavigationState
	meta     *book.Metadata
	labels   *book.Labels
	ZoomStep float64
	Audio    *Audio

	observers map[int]func(Change)
	nextObs   int
	log       zerolog.Logger
}

// NewReader creates a reader with no book loaded.
func NewReader(player Player, tickets *Tickets, log zerolog.Logger) *Reader {
	r := &Reader{
		state: NavigationState{
			ViewMode:  book.Single,
			ZoomLevel: DefaultZoom,
		},
		labels:    book.NewLabels(nil),
		ZoomStep:  DefaultZoomStep,
		Audio:     NewAudio(player, tickets, log),
		observers: make(map[int]func(Change)),
		log:       log,
	}
	r.Subscribe(func(c Change) {
		if c.Has(ChangePage | ChangeViewMode | ChangeMetadata) {
			r.Audio.Sync(r.Playable())
		}
	})
	return r
}

// Load replaces the book. The start page falls back to the first page when
// it is not part of the book. A nil book is allowed and disables navigation.
func (r *Reader) Load(meta *book.Metadata, start NavigationState) {
	r.Audio.Close()
	r.meta = meta
	r.labels = meta.Labels()

	if start.CurrentPageLabel == "" || !r.labels.Contains(start.CurrentPageLabel) {
		if start.CurrentPageLabel != "" {
			r.log.Debug().Str("page", start.CurrentPageLabel).Msg("Start page not found, using first page")
		}
		start.CurrentPageLabel = r.labels.At(0)
	}
	if start.ViewMode != book.Spread {
		start.ViewMode = book.Single
	}
	if start.ZoomLevel == 0 {
		start.ZoomLevel = DefaultZoom
	}
	start.ZoomLevel = clampZoom(start.ZoomLevel)
	start.SpreadOffset &= 1

	r.state = start
	r.notify(ChangeMetadata | ChangePage | ChangeViewMode | ChangeZoom | ChangeSpreadOffset)
}

// Metadata returns the loaded book or nil.
func (r *Reader) Metadata() *book.Metadata {
	return r.meta
}

// Labels returns the page order of the loaded book.
func (r *Reader) Labels() *book.Labels {
	return r.labels
}

// State returns a copy of the navigation state.
func (r *Reader) State() NavigationState {
	return r.state
}

// Subscribe registers fn to be called synchronously after every mutation
// that changed state. The returned function removes it.
func (r *Reader) Subscribe(fn func(Change)) func() {
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	return func() { delete(r.observers, id) }
}

func (r *Reader) notify(c Change) {
	if c == 0 {
		return
	}
	// observers registered first run first; audio sync is always id 0
	for id := 0; id < r.nextObs; id++ {
		if fn, ok := r.observers[id]; ok {
			fn(c)
		}
	}
}

// Pager computes the current layout.
func (r *Reader) Pager() Pager {
	return NewPager(r.labels, r.state.CurrentPageLabel, r.state.ViewMode, r.state.SpreadOffset)
}

// Resolver binds the loaded TOC to the page order.
func (r *Reader) Resolver() Resolver {
	var toc []*book.TocNode
	if r.meta != nil {
		toc = r.meta.TOC
	}
	return NewResolver(r.labels, toc)
}

// LeftPage is the label in the left slot; empty when blank.
func (r *Reader) LeftPage() string { return r.Pager().Left }

// RightPage is the label in the right slot; always empty in single mode.
func (r *Reader) RightPage() string { return r.Pager().Right }

// VisibleLabels returns the labels on screen, left to right.
func (r *Reader) VisibleLabels() []string { return r.Pager().Visible() }

// CanGoBack reports whether GoBack would move.
func (r *Reader) CanGoBack() bool { return r.Pager().CanGoBack() }

// CanGoForward reports whether GoForward would move.
func (r *Reader) CanGoForward() bool { return r.Pager().CanGoForward() }

// UnitTitle returns the title of the most specific TOC node for the current
// page, falling back to the book title.
func (r *Reader) UnitTitle() string {
	if t, ok := r.Resolver().UnitTitle(r.state.CurrentPageLabel); ok {
		return t
	}
	if r.meta != nil {
		return r.meta.Title
	}
	return ""
}

// Breadcrumb returns the containing TOC nodes for the current page.
func (r *Reader) Breadcrumb() []*book.TocNode {
	return r.Resolver().Path(r.state.CurrentPageLabel)
}

// ActiveAudio returns the audio playlist for the visible pages.
func (r *Reader) ActiveAudio() []book.AudioRef {
	return r.Resolver().AudioFiles(r.VisibleLabels()...)
}

// VisiblePages returns page details for the visible labels.
func (r *Reader) VisiblePages() []*book.PageIndex {
	var out []*book.PageIndex
	for _, l := range r.VisibleLabels() {
		if p := r.meta.Page(l); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// PageLinks returns the link targets of the visible pages, left slot first,
// without duplicates.
func (r *Reader) PageLinks() []string {
	var out []string
	for _, p := range r.VisiblePages() {
		for _, l := range p.PageLinks() {
			if !slices.Contains(out, l) {
				out = append(out, l)
			}
		}
	}
	return out
}

// PageAudio returns the audio overlays of the visible pages that are not
// already part of ActiveAudio.
func (r *Reader) PageAudio() []book.AudioRef {
	active := r.ActiveAudio()
	var out []book.AudioRef
	for _, p := range r.VisiblePages() {
		for _, a := range p.AudioOverlays() {
			if !containsPath(active, a.Path) && !containsPath(out, a.Path) {
				out = append(out, a)
			}
		}
	}
	return out
}

// Playable returns ActiveAudio followed by PageAudio. A current clip outside
// this list is paused on navigation.
func (r *Reader) Playable() []book.AudioRef {
	return append(r.ActiveAudio(), r.PageAudio()...)
}

// GoBack moves one display step back. It does nothing at the start.
func (r *Reader) GoBack() bool {
	label, ok := r.Pager().Back()
	if !ok {
		return false
	}
	return r.setPage(label)
}

// GoForward moves one display step forward. It does nothing at the end.
func (r *Reader) GoForward() bool {
	label, ok := r.Pager().Forward()
	if !ok {
		return false
	}
	return r.setPage(label)
}

// GoFirst jumps to the first page.
func (r *Reader) GoFirst() bool {
	return r.setPage(r.labels.At(0))
}

// GoLast jumps to the last page.
func (r *Reader) GoLast() bool {
	return r.setPage(r.labels.At(r.labels.Len() - 1))
}

// JumpTo makes label current. Labels outside the book are accepted and leave
// the display empty until the next valid jump.
func (r *Reader) JumpTo(label string) bool {
	return r.setPage(label)
}

func (r *Reader) setPage(label string) bool {
	if label == "" || label == r.state.CurrentPageLabel {
		return false
	}
	r.state.CurrentPageLabel = label
	r.notify(ChangePage)
	return true
}

// SetViewMode switches between single and spread display.
func (r *Reader) SetViewMode(mode book.ViewMode) bool {
	if mode != book.Spread {
		mode = book.Single
	}
	if mode == r.state.ViewMode {
		return false
	}
	r.state.ViewMode = mode
	r.notify(ChangeViewMode)
	return true
}

// ToggleViewMode flips between single and spread display.
func (r *Reader) ToggleViewMode() {
	if r.state.ViewMode == book.Spread {
		r.SetViewMode(book.Single)
		return
	}
	r.SetViewMode(book.Spread)
}

// SelectNode handles a click on a TOC node. Only leaves with a start page
// navigate. In spread mode the spread offset is flipped when the target would
// otherwise land in the right slot.
func (r *Reader) SelectNode(n *book.TocNode) bool {
	if n == nil || !n.IsLeaf() || n.StartPage == "" {
		return false
	}

	var c Change
	if r.state.ViewMode == book.Spread {
		if idx := r.labels.Index(n.StartPage); idx >= 0 && (idx-r.state.SpreadOffset)%2 != 0 {
			r.state.SpreadOffset = 1 - r.state.SpreadOffset
			c |= ChangeSpreadOffset
		}
	}
	if n.StartPage != r.state.CurrentPageLabel {
		r.state.CurrentPageLabel = n.StartPage
		c |= ChangePage
	}
	r.notify(c)
	return true
}

// ZoomIn increases zoom by ZoomStep.
func (r *Reader) ZoomIn() bool {
	return r.SetZoomLevel(roundZoom(r.state.ZoomLevel + r.zoomStep()))
}

// ZoomOut decreases zoom by ZoomStep.
func (r *Reader) ZoomOut() bool {
	return r.SetZoomLevel(roundZoom(r.state.ZoomLevel - r.zoomStep()))
}

// ResetZoom restores the default zoom.
func (r *Reader) ResetZoom() bool {
	return r.SetZoomLevel(DefaultZoom)
}

// SetZoomLevel sets the zoom clamped to [MinZoom, MaxZoom].
func (r *Reader) SetZoomLevel(z float64) bool {
	z = clampZoom(z)
	if z == r.state.ZoomLevel {
		return false
	}
	r.state.ZoomLevel = z
	r.notify(ChangeZoom)
	return true
}

func (r *Reader) zoomStep() float64 {
	if r.ZoomStep <= 0 {
		return DefaultZoomStep
	}
	return r.ZoomStep
}

func clampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return DefaultZoom
	}
	return min(max(z, MinZoom), MaxZoom)
}

// roundZoom drops float noise accumulated by repeated steps.
func roundZoom(z float64) float64 {
	return math.Round(z*1e4) / 1e4
}

// ToggleAudio plays, pauses or loads path. See Audio.Toggle.
func (r *Reader) ToggleAudio(path string) (LoadRequest, bool) {
	return r.Audio.Toggle(path)
}

// CloseAudio unloads the current clip.
func (r *Reader) CloseAudio() {
	r.Audio.Close()
}

// Snapshot is a read-only view of everything the presentation layer needs.
type Snapshot struct {
	NavigationState
	Left, Right  string
	CanGoBack    bool
	CanGoForward bool
	UnitTitle    string
	Breadcrumb   []string
	ActiveAudio  []book.AudioRef
	Audio        AudioState
	Position     int
	Total        int
}

// Snapshot captures the current derived values.
func (r *Reader) Snapshot() Snapshot {
	p := r.Pager()
	var crumbs []string
	for _, n := range r.Breadcrumb() {
		crumbs = append(crumbs, n.Title)
	}
	return Snapshot{
		NavigationState: r.state,
		Left:            p.Left,
		Right:           p.Right,
		CanGoBack:       p.CanGoBack(),
		CanGoForward:    p.CanGoForward(),
		UnitTitle:       r.UnitTitle(),
		Breadcrumb:      crumbs,
		ActiveAudio:     r.Resolver().AudioFiles(p.Visible()...),
		Audio:           r.Audio.State(),
		Position:        p.CurrentIndex + 1,
		Total:           r.labels.Len(),
	}
}
