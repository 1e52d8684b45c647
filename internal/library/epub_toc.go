package library

import (
	"encoding/xml"
	"fmt"
	"path"
	"strings"

	"github.com/metcalfc/pagebook/internal/book"
)

// NCX XML structures for parsing toc.ncx
type ncx struct {
	NavMap navMap `xml:"navMap"`
}

type navMap struct {
	NavPoints []navPoint `xml:"navPoint"`
}

type navPoint struct {
	ID        string     `xml:"id,attr"`
	PlayOrder int        `xml:"playOrder,attr"`
	Label     navLabel   `xml:"navLabel"`
	Content   navContent `xml:"content"`
	Children  []navPoint `xml:"navPoint"`
}

type navLabel struct {
	Text string `xml:"text"`
}

type navContent struct {
	Src string `xml:"src,attr"`
}

// parseNCX turns the navMap into TOC nodes. A nav point starts on the page
// of its target and ends on the page before the next nav point outside its
// own subtree; the last one runs to the final page.
func parseNCX(data []byte, spine map[string]string, labels []string) ([]*book.TocNode, error) {
	var toc ncx
	if err := xml.Unmarshal(data, &toc); err != nil {
		return nil, fmt.Errorf("failed to parse NCX: %w", err)
	}

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}

	// flat holds nodes in reading order, after[i] the position following
	// the subtree of flat[i]
	var (
		flat  []*book.TocNode
		after []int
	)
	var build func(points []navPoint) []*book.TocNode
	build = func(points []navPoint) []*book.TocNode {
		var nodes []*book.TocNode
		for _, np := range points {
			n := &book.TocNode{
				Title:     strings.TrimSpace(np.Label.Text),
				Key:       np.ID,
				StartPage: spinePage(spine, np.Content.Src),
			}
			if n.Key == "" {
				n.Key = np.Content.Src
			}
			pos := len(flat)
			flat = append(flat, n)
			after = append(after, 0)
			n.Children = build(np.Children)
			after[pos] = len(flat)
			nodes = append(nodes, n)
		}
		return nodes
	}
	nodes := build(toc.NavMap.NavPoints)

	last := len(labels) - 1
	for i, n := range flat {
		if n.StartPage == "" {
			continue
		}
		start := index[n.StartPage]
		end := last
		for _, next := range flat[after[i]:] {
			if next.StartPage == "" {
				continue
			}
			end = max(start, index[next.StartPage]-1)
			break
		}
		n.EndPage = labels[end]
	}
	return nodes, nil
}

func spinePage(spine map[string]string, src string) string {
	href := src
	if idx := strings.Index(href, "#"); idx != -1 {
		href = href[:idx]
	}
	if l, ok := spine[href]; ok {
		return l
	}
	return spine[path.Base(href)]
}
