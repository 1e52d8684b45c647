package reader

import "github.com/metcalfc/pagebook/internal/book"

// Pager is the layout of the current position. It is a pure function of the
// page order, the current label, the view mode and the spread offset.
type Pager struct {
	labels       *book.Labels
	mode         book.ViewMode
	CurrentIndex int
	DisplayIndex int
	Left         string
	Right        string
}

// NewPager computes the visible pages. An unknown current label or an empty
// page order produce empty slots and disabled navigation.
func NewPager(labels *book.Labels, current string, mode book.ViewMode, spreadOffset int) Pager {
	p := Pager{
		labels:       labels,
		mode:         mode,
		CurrentIndex: labels.Index(current),
		DisplayIndex: -1,
	}
	if p.CurrentIndex < 0 {
		return p
	}

	if mode != book.Spread {
		p.DisplayIndex = p.CurrentIndex
		p.Left = current
		return p
	}

	p.DisplayIndex = spreadIndex(labels, p.CurrentIndex, spreadOffset)
	left := labels.At(p.DisplayIndex)
	if n, ok := book.Numeric(left); ok && n%2 != 0 {
		// odd page without an even predecessor sits alone in the right slot
		p.Right = left
		return p
	}
	p.Left = left
	p.Right = labels.At(p.DisplayIndex + 1)
	return p
}

// spreadIndex returns the index of the left page of the spread containing idx.
func spreadIndex(labels *book.Labels, idx, offset int) int {
	if n, ok := book.Numeric(labels.At(idx)); ok {
		if n%2 == 0 {
			return idx
		}
		if prev, ok := book.Numeric(labels.At(idx - 1)); ok && idx > 0 && prev == n-1 {
			return idx - 1
		}
		return idx
	}

	d := floorDiv(idx-offset, 2)*2 + offset
	if d < 0 {
		d = 0
	}
	return d
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Step is the number of pages one navigation moves.
func (p Pager) Step() int {
	if p.mode == book.Spread {
		return 2
	}
	return 1
}

// CanGoBack reports whether there is a page before the current display.
func (p Pager) CanGoBack() bool {
	return p.DisplayIndex > 0
}

// CanGoForward reports whether there is a page after the current display.
func (p Pager) CanGoForward() bool {
	return p.DisplayIndex >= 0 && p.DisplayIndex+p.Step() < p.labels.Len()
}

// Back returns the label to move to, or false when at the start.
func (p Pager) Back() (string, bool) {
	if !p.CanGoBack() {
		return "", false
	}
	return p.labels.At(p.clamp(p.DisplayIndex - p.Step())), true
}

// Forward returns the label to move to, or false when at the end.
func (p Pager) Forward() (string, bool) {
	if !p.CanGoForward() {
		return "", false
	}
	return p.labels.At(p.clamp(p.DisplayIndex + p.Step())), true
}

// Visible returns the non-empty labels on screen, left to right.
func (p Pager) Visible() []string {
	var out []string
	for _, s := range []string{p.Left, p.Right} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p Pager) clamp(i int) int {
	if i < 0 {
		return 0
	}
	if n := p.labels.Len(); i > n-1 {
		return n - 1
	}
	return i
}
