package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/metcalfc/pagebook/internal/book"
	"github.com/metcalfc/pagebook/internal/config"
)

func writeConfig(t *testing.T, root string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pagebook.yaml")
	data := fmt.Sprintf(`version: 1
library:
  root: %q
  cache: %q
progress:
  path: %q
logging:
  level: disabled
  file: ""
`, root, filepath.Join(dir, "cache"), filepath.Join(dir, "progress.json"))
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &out
	err := cmd.Run(context.Background(), append([]string{"pagebook"}, args...))
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	root := t.TempDir()
	for _, id := range []string{"book10", "book2", "book1"} {
		if err := os.MkdirAll(filepath.Join(root, "books", id), 0755); err != nil {
			t.Fatal(err)
		}
	}
	cfg := writeConfig(t, root)

	out, err := runCommand(t, "--config", cfg, "list", "--ids")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if got := strings.Fields(out); strings.Join(got, ",") != "book1,book2,book10" {
		t.Errorf("list = %q", out)
	}
}

func writeCatalogBook(t *testing.T, root, id, meta string) {
	t.Helper()
	dir := filepath.Join(root, "books", id, "meta")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	data := `{"meta": {` + meta + `}, "items": {"default": []}}`
	if err := os.WriteFile(filepath.Join(dir, "definition.json"), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestListCatalog(t *testing.T) {
	root := t.TempDir()
	writeCatalogBook(t, root, "egiu", `"title": "Grammar in Use", "book-group": 2, "sort-num": 1, "author": "R. Murphy"`)
	writeCatalogBook(t, root, "evu", `"title": "Vocabulary in Use", "book-group": 1, "sort-num": 3`)
	writeCatalogBook(t, root, "evu0", `"title": "Basic Vocabulary", "book-group": 1, "sort-num": 1`)
	cfg := writeConfig(t, root)

	tests := []struct {
		args []string
		want string
	}{
		{nil, "Vocabulary\n  evu0\tBasic Vocabulary\n  evu\tVocabulary in Use\nGrammar\n  egiu\tGrammar in Use (R. Murphy)\n"},
		{[]string{"--group", "grammar"}, "Grammar\n  egiu\tGrammar in Use (R. Murphy)\n"},
		{[]string{"-g", "Vocabulary"}, "Vocabulary\n  evu0\tBasic Vocabulary\n  evu\tVocabulary in Use\n"},
	}
	for _, tt := range tests {
		out, err := runCommand(t, append([]string{"--config", cfg, "list"}, tt.args...)...)
		if err != nil {
			t.Fatalf("list %v failed: %v", tt.args, err)
		}
		if out != tt.want {
			t.Errorf("list %v =\n%s\nwant\n%s", tt.args, out, tt.want)
		}
	}
	if _, err := runCommand(t, "--config", cfg, "list", "--group", "comics"); err == nil {
		t.Error("expected error for an unknown group")
	}
}

func TestCoverCommand(t *testing.T) {
	root := t.TempDir()
	writeCatalogBook(t, root, "egiu", `"title": "Grammar in Use", "cover": "cover.jpg"`)
	writeCatalogBook(t, root, "plain", `"title": "No Cover"`)
	cover := filepath.Join(root, "books", "egiu", "assets", "cover.jpg")
	os.MkdirAll(filepath.Dir(cover), 0755)
	os.WriteFile(cover, []byte("jpeg"), 0644)
	cfg := writeConfig(t, root)

	out, err := runCommand(t, "--config", cfg, "cover", "egiu")
	if err != nil {
		t.Fatalf("cover failed: %v", err)
	}
	if strings.TrimSpace(out) != cover {
		t.Errorf("cover = %q, want %q", out, cover)
	}
	if _, err := runCommand(t, "--config", cfg, "cover", "plain"); err == nil {
		t.Error("expected error for a book without cover")
	}
}

func TestTOCCommandUnknownBook(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	if _, err := runCommand(t, "--config", cfg, "toc", "missing"); err == nil {
		t.Error("expected error for a missing book")
	}
	if _, err := runCommand(t, "--config", cfg, "toc"); err == nil {
		t.Error("expected error without a book")
	}
}

func TestDumpConfig(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	out, err := runCommand(t, "--config", cfg, "dumpconfig")
	if err != nil {
		t.Fatalf("dumpconfig failed: %v", err)
	}
	for _, want := range []string{"view_mode: single", "backend: json", "level: disabled"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump misses %q:\n%s", want, out)
		}
	}
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("version: 1\nreader:\n  view_mode: triple\n"), 0644)
	if _, err := runCommand(t, "--config", path, "list"); err == nil {
		t.Error("expected configuration error")
	}
}

func TestWriteTOC(t *testing.T) {
	meta := &book.Metadata{
		Title:      "Demo",
		PageLabels: []string{"1", "2", "3"},
		TOC: []*book.TocNode{
			{Title: "Unit 1", StartPage: "1", EndPage: "3", AudioFiles: []book.AudioRef{{Path: "a.mp3"}},
				Children: []*book.TocNode{{Title: "Lesson", StartPage: "2", EndPage: "2"}}},
			{Title: "Appendix"},
		},
	}
	var buf bytes.Buffer
	writeTOC(&buf, meta)

	want := "Demo (3 pages)\n" +
		"  Unit 1  [1-3]  (1 audio)\n" +
		"    Lesson  [2-2]\n" +
		"  Appendix\n"
	if buf.String() != want {
		t.Errorf("writeTOC =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestSessionOptions(t *testing.T) {
	cfg, err := config.LoadConfiguration(writeConfig(t, t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	e := &env{cfg: cfg}

	opts := e.sessionOptions(false)
	if opts.ViewMode != book.Single || opts.ZoomStep != 0.05 || opts.PreloadDelay != time.Second || opts.AudioRate != 1 {
		t.Errorf("options = %+v", opts)
	}
	if opts := e.sessionOptions(true); opts.ViewMode != book.Spread {
		t.Errorf("--spread ignored: %+v", opts)
	}
}
