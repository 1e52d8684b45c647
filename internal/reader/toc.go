package reader

import "github.com/metcalfc/pagebook/internal/book"

// Resolver finds the table of contents nodes that apply to a page. The most
// specific (deepest) containing node wins and siblings are searched in
// declaration order.
type Resolver struct {
	labels *book.Labels
	toc    []*book.TocNode
}

// NewResolver binds a TOC to a page order.
func NewResolver(labels *book.Labels, toc []*book.TocNode) Resolver {
	return Resolver{labels: labels, toc: toc}
}

// contains reports whether node's range covers pageIdx. Nodes without a
// range or with labels missing from the page order never match.
func (r Resolver) contains(n *book.TocNode, pageIdx int) bool {
	if !n.HasRange() {
		return false
	}
	s, e := r.labels.Index(n.StartPage), r.labels.Index(n.EndPage)
	if s < 0 || e < 0 {
		return false
	}
	return s <= pageIdx && pageIdx <= e
}

// UnitTitle returns the title of the most specific node containing label.
func (r Resolver) UnitTitle(label string) (string, bool) {
	n := r.find(r.toc, r.labels.Index(label))
	if n == nil {
		return "", false
	}
	return n.Title, true
}

// Path returns the chain of containing nodes from the root down to the most
// specific one.
func (r Resolver) Path(label string) []*book.TocNode {
	pageIdx := r.labels.Index(label)
	if pageIdx < 0 {
		return nil
	}
	var walk func(nodes []*book.TocNode) []*book.TocNode
	walk = func(nodes []*book.TocNode) []*book.TocNode {
		for _, n := range nodes {
			if n == nil {
				continue
			}
			if r.contains(n, pageIdx) {
				return append([]*book.TocNode{n}, walk(n.Children)...)
			}
			if sub := walk(n.Children); len(sub) > 0 {
				return sub
			}
		}
		return nil
	}
	return walk(r.toc)
}

func (r Resolver) find(nodes []*book.TocNode, pageIdx int) *book.TocNode {
	if pageIdx < 0 {
		return nil
	}
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if r.contains(n, pageIdx) {
			if deeper := r.find(n.Children, pageIdx); deeper != nil {
				return deeper
			}
			return n
		}
		if deeper := r.find(n.Children, pageIdx); deeper != nil {
			return deeper
		}
	}
	return nil
}

// AudioFiles returns the audio list for the visible pages. Labels are checked
// right to left so the page further along wins in spread mode.
func (r Resolver) AudioFiles(labels ...string) []book.AudioRef {
	for i := len(labels) - 1; i >= 0; i-- {
		if labels[i] == "" {
			continue
		}
		if n := r.findAudio(r.toc, r.labels.Index(labels[i])); n != nil {
			return append([]book.AudioRef(nil), n.AudioFiles...)
		}
	}
	return []book.AudioRef{}
}

// findAudio returns the deepest containing node that owns audio, falling back
// to the nearest containing ancestor that does.
func (r Resolver) findAudio(nodes []*book.TocNode, pageIdx int) *book.TocNode {
	if pageIdx < 0 {
		return nil
	}
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if deeper := r.findAudio(n.Children, pageIdx); deeper != nil {
			return deeper
		}
		if r.contains(n, pageIdx) && len(n.AudioFiles) > 0 {
			return n
		}
	}
	return nil
}
