package book

import (
	"strings"
	"testing"
)

func TestSortLabels(t *testing.T) {
	tests := []struct {
		name          string
		authoritative []string
		keys          []string
		expected      []string
	}{
		{
			name:          "authoritative wins",
			authoritative: []string{"ii", "i", "1"},
			keys:          []string{"1", "i", "ii"},
			expected:      []string{"ii", "i", "1"},
		},
		{
			name:     "numeric ascending",
			keys:     []string{"10", "2", "1"},
			expected: []string{"1", "2", "10"},
		},
		{
			name:     "lexicographic fallback",
			keys:     []string{"b", "a", "c"},
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "empty",
			keys:     nil,
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SortLabels(tt.authoritative, tt.keys)
			if len(result) != len(tt.expected) {
				t.Fatalf("SortLabels() = %v, want %v", result, tt.expected)
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("SortLabels()[%d] = %q, want %q", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestLabelsIndex(t *testing.T) {
	l := NewLabels([]string{"12", "13", "14", "13"})

	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	for i, s := range []string{"12", "13", "14"} {
		if l.Index(s) != i || l.At(i) != s {
			t.Errorf("Index(%q) = %d, want %d", s, l.Index(s), i)
		}
	}
	if l.Index("99") != -1 {
		t.Errorf("Index(99) = %d, want -1", l.Index("99"))
	}
	if l.At(5) != "" || l.At(-1) != "" {
		t.Error("At() out of range should be empty")
	}

	var empty *Labels
	if empty.Len() != 0 || empty.Index("1") != -1 || empty.At(0) != "" {
		t.Error("nil Labels should behave as empty")
	}
}

func TestOverlayPercent(t *testing.T) {
	o := OverlayItem{X: 50, Y: 100, W: 25, H: 50, Type: OverlayAudio}
	r := o.Percent(200, 400)
	if r.Left != 25 || r.Top != 25 || r.Width != 12.5 || r.Height != 12.5 {
		t.Errorf("Percent() = %+v", r)
	}
	if z := o.Percent(0, 0); z != (Rect{}) {
		t.Errorf("Percent() with zero page size = %+v, want zero", z)
	}
}

func TestValidate(t *testing.T) {
	m := &Metadata{
		PageLabels: []string{"1", "2", "3"},
		TOC: []*TocNode{
			{Title: "ok", Key: "a", StartPage: "1", EndPage: "2"},
			{Title: "reversed", Key: "b", StartPage: "3", EndPage: "1"},
			{Title: "unknown", Key: "c", StartPage: "1", EndPage: "9"},
			{Title: "half", Key: "d", StartPage: "1"},
			{Title: "group", Key: "e", Children: []*TocNode{{Title: "leaf", Key: "f", StartPage: "2", EndPage: "2"}}},
		},
	}

	err := m.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, key := range []string{`"b"`, `"c"`, `"d"`} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q should mention node %s", err, key)
		}
	}
	if strings.Contains(err.Error(), `"a"`) || strings.Contains(err.Error(), `"f"`) {
		t.Errorf("error %q mentions a valid node", err)
	}
}

func TestPageOverlays(t *testing.T) {
	p := &PageIndex{Overlays: []OverlayItem{
		{Type: OverlayAudio, Audio: &AudioRef{Path: "a.mp3"}},
		{Type: OverlayPage, Page: &PageTarget{PageLabel: "5"}},
		{Type: OverlayAudio},
	}}
	got := p.AudioOverlays()
	if len(got) != 1 || got[0].Path != "a.mp3" {
		t.Errorf("AudioOverlays() = %v", got)
	}
	if links := p.PageLinks(); len(links) != 1 || links[0] != "5" {
		t.Errorf("PageLinks() = %v", links)
	}
	var nilPage *PageIndex
	if nilPage.AudioOverlays() != nil || nilPage.PageLinks() != nil {
		t.Error("nil page should have no overlays")
	}
}
