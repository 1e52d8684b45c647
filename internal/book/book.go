// Package book holds the data model of an image book: ordered page labels,
// per-page overlays and exercises, and the hierarchical table of contents.
package book

import (
	"fmt"

	"go.uber.org/multierr"
)

// ViewMode selects how many pages are shown at once.
type ViewMode string

const (
	Single ViewMode = "single"
	Spread ViewMode = "spread"
)

// ParseViewMode returns Single for anything that is not "spread".
func ParseViewMode(s string) ViewMode {
	if ViewMode(s) == Spread {
		return Spread
	}
	return Single
}

// AudioRef points to an audio clip relative to the book assets.
type AudioRef struct {
	Path  string `json:"path"`
	Title string `json:"title,omitempty"`
}

// PageTarget is the destination of a page link overlay.
type PageTarget struct {
	PageLabel string `json:"pagelabel"`
}

// Overlay types
const (
	OverlayAudio = "audio"
	OverlayPage  = "page"
)

// OverlayItem is a clickable hotspot in page image pixel space.
type OverlayItem struct {
	X     float64     `json:"x"`
	Y     float64     `json:"y"`
	W     float64     `json:"w"`
	H     float64     `json:"h"`
	Type  string      `json:"type"`
	Audio *AudioRef   `json:"audio,omitempty"`
	Page  *PageTarget `json:"page,omitempty"`
}

// Rect is an overlay position expressed in percent of the page size.
type Rect struct {
	Left, Top, Width, Height float64
}

// Percent normalizes overlay coordinates by the page dimensions.
func (o OverlayItem) Percent(pageWidth, pageHeight float64) Rect {
	var r Rect
	if pageWidth > 0 {
		r.Left = o.X / pageWidth * 100
		r.Width = o.W / pageWidth * 100
	}
	if pageHeight > 0 {
		r.Top = o.Y / pageHeight * 100
		r.Height = o.H / pageHeight * 100
	}
	return r
}

// ExerciseInfo links a page to an interactive exercise resource.
type ExerciseInfo struct {
	Name       string `json:"name"`
	ResourceID string `json:"resource_id"`
}

// PageIndex is everything known about a single page.
type PageIndex struct {
	Label      string         `json:"label"`
	ImagePath  string         `json:"image_path"`
	ResourceID string         `json:"resource_id,omitempty"`
	Exercises  []ExerciseInfo `json:"exercises,omitempty"`
	Overlays   []OverlayItem  `json:"overlays,omitempty"`
}

// AudioOverlays returns the audio clips placed on the page.
func (p *PageIndex) AudioOverlays() []AudioRef {
	if p == nil {
		return nil
	}
	var out []AudioRef
	for _, o := range p.Overlays {
		if o.Type == OverlayAudio && o.Audio != nil {
			out = append(out, *o.Audio)
		}
	}
	return out
}

// PageLinks returns the targets of the page links placed on the page.
func (p *PageIndex) PageLinks() []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, o := range p.Overlays {
		if o.Type == OverlayPage && o.Page != nil && o.Page.PageLabel != "" {
			out = append(out, o.Page.PageLabel)
		}
	}
	return out
}

// TocNode is one entry of the table of contents. StartPage and EndPage are
// either both set or both empty.
type TocNode struct {
	Title      string     `json:"title"`
	Key        string     `json:"key"`
	StartPage  string     `json:"startPage,omitempty"`
	EndPage    string     `json:"endPage,omitempty"`
	AudioFiles []AudioRef `json:"audioFiles,omitempty"`
	Children   []*TocNode `json:"children,omitempty"`
}

// HasRange reports whether the node is bound to a page range.
func (n *TocNode) HasRange() bool {
	return n.StartPage != "" && n.EndPage != ""
}

// IsLeaf reports whether the node can be navigated to by clicking it.
func (n *TocNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// Metadata is a fully loaded book. It is replaced wholesale when a
// different book is opened.
type Metadata struct {
	BookID     string                `json:"bookId"`
	Title      string                `json:"title"`
	TOC        []*TocNode            `json:"toc"`
	Pages      map[string]*PageIndex `json:"pages"`
	PageLabels []string              `json:"pageLabels"`
	PageWidth  float64               `json:"pageWidth"`
	PageHeight float64               `json:"pageHeight"`
}

// Labels derives the authoritative page order.
func (m *Metadata) Labels() *Labels {
	if m == nil {
		return NewLabels(nil)
	}
	keys := make([]string, 0, len(m.Pages))
	for k := range m.Pages {
		keys = append(keys, k)
	}
	return NewLabels(SortLabels(m.PageLabels, keys))
}

// Page returns the page index for label or nil.
func (m *Metadata) Page(label string) *PageIndex {
	if m == nil || label == "" {
		return nil
	}
	return m.Pages[label]
}

// Walk visits the TOC depth-first in declaration order. Returning false from
// fn stops descending into that node's children.
func (m *Metadata) Walk(fn func(n *TocNode, depth int) bool) {
	if m == nil {
		return
	}
	var walk func(nodes []*TocNode, depth int)
	walk = func(nodes []*TocNode, depth int) {
		for _, n := range nodes {
			if n == nil {
				continue
			}
			if fn(n, depth) {
				walk(n.Children, depth+1)
			}
		}
	}
	walk(m.TOC, 0)
}

// Validate reports TOC nodes whose page range is inconsistent with the page
// order. Resolution never depends on it: broken nodes simply do not match.
func (m *Metadata) Validate() error {
	labels := m.Labels()
	var err error
	m.Walk(func(n *TocNode, _ int) bool {
		switch {
		case n.StartPage == "" && n.EndPage == "":
		case n.StartPage == "" || n.EndPage == "":
			err = multierr.Append(err, fmt.Errorf("toc node %q: incomplete range [%q, %q]", n.Key, n.StartPage, n.EndPage))
		default:
			s, e := labels.Index(n.StartPage), labels.Index(n.EndPage)
			if s < 0 || e < 0 {
				err = multierr.Append(err, fmt.Errorf("toc node %q: unknown page in range [%q, %q]", n.Key, n.StartPage, n.EndPage))
			} else if e < s {
				err = multierr.Append(err, fmt.Errorf("toc node %q: end page %q precedes start page %q", n.Key, n.EndPage, n.StartPage))
			}
		}
		return true
	})
	return err
}
