package reader

import (
	"testing"

	"github.com/metcalfc/pagebook/internal/book"
)

func unitTOC() []*book.TocNode {
	return []*book.TocNode{
		{
			Title: "Unit 1", Key: "u1", StartPage: "12", EndPage: "14",
			AudioFiles: []book.AudioRef{{Path: "u1.mp3"}},
			Children: []*book.TocNode{
				{Title: "Sec 1.1", Key: "s11", StartPage: "12", EndPage: "12", AudioFiles: []book.AudioRef{{Path: "s1.mp3"}}},
				{Title: "Sec 1.2", Key: "s12", StartPage: "13", EndPage: "13"},
			},
		},
	}
}

func TestResolverAudioFiles(t *testing.T) {
	r := NewResolver(book.NewLabels([]string{"12", "13", "14"}), unitTOC())

	tests := []struct {
		name     string
		labels   []string
		expected []string
	}{
		{"own audio", []string{"12"}, []string{"s1.mp3"}},
		{"falls back to parent", []string{"13"}, []string{"u1.mp3"}},
		{"parent only", []string{"14"}, []string{"u1.mp3"}},
		{"out of range", []string{"99"}, nil},
		{"right page wins", []string{"12", "13"}, []string{"u1.mp3"}},
		{"right blank uses left", []string{"12", ""}, []string{"s1.mp3"}},
		{"unknown right falls to left", []string{"12", "99"}, []string{"s1.mp3"}},
		{"nothing", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := r.AudioFiles(tt.labels...)
			if result == nil {
				t.Fatal("AudioFiles() must return an empty list, not nil")
			}
			if len(result) != len(tt.expected) {
				t.Fatalf("AudioFiles() = %v, want %v", result, tt.expected)
			}
			for i := range result {
				if result[i].Path != tt.expected[i] {
					t.Errorf("AudioFiles()[%d] = %q, want %q", i, result[i].Path, tt.expected[i])
				}
			}
		})
	}
}

func TestResolverUnitTitle(t *testing.T) {
	toc := append(unitTOC(),
		&book.TocNode{
			Title: "Appendix", Key: "app",
			Children: []*book.TocNode{
				{Title: "Glossary", Key: "gl", StartPage: "15", EndPage: "16"},
			},
		},
		&book.TocNode{Title: "Broken", Key: "br", StartPage: "17", EndPage: "404"},
	)
	r := NewResolver(book.NewLabels([]string{"12", "13", "14", "15", "16", "17"}), toc)

	tests := []struct {
		label string
		title string
		found bool
	}{
		{"12", "Sec 1.1", true},
		{"13", "Sec 1.2", true},
		{"14", "Unit 1", true},
		{"16", "Glossary", true},
		{"17", "", false},
		{"99", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			title, ok := r.UnitTitle(tt.label)
			if title != tt.title || ok != tt.found {
				t.Errorf("UnitTitle(%q) = %q, %v, want %q, %v", tt.label, title, ok, tt.title, tt.found)
			}
		})
	}
}

func TestResolverFirstSiblingWins(t *testing.T) {
	toc := []*book.TocNode{
		{Title: "A", Key: "a", StartPage: "1", EndPage: "3"},
		{Title: "B", Key: "b", StartPage: "2", EndPage: "4", AudioFiles: []book.AudioRef{{Path: "b.mp3"}}},
	}
	r := NewResolver(book.NewLabels([]string{"1", "2", "3", "4"}), toc)

	if title, _ := r.UnitTitle("2"); title != "A" {
		t.Errorf("UnitTitle(2) = %q, want A", title)
	}
	// A owns no audio, so the search continues with B
	if got := r.AudioFiles("2"); len(got) != 1 || got[0].Path != "b.mp3" {
		t.Errorf("AudioFiles(2) = %v, want [b.mp3]", got)
	}
}

func TestResolverPath(t *testing.T) {
	r := NewResolver(book.NewLabels([]string{"12", "13", "14"}), unitTOC())

	path := r.Path("13")
	if len(path) != 2 || path[0].Key != "u1" || path[1].Key != "s12" {
		t.Errorf("Path(13) = %v", path)
	}
	if r.Path("99") != nil {
		t.Error("Path() for unknown page should be nil")
	}
}
