package library

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// memSource is an in-memory Source used across the package tests.
type memSource struct {
	files map[string][]byte
	opens map[string]int
}

func newMemSource(files map[string]string) *memSource {
	m := &memSource{files: make(map[string][]byte), opens: make(map[string]int)}
	for k, v := range files {
		m.files[k] = []byte(v)
	}
	return m
}

func (m *memSource) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.opens[key]++
	data, ok := m.files[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memSource) Stat(_ context.Context, key string) bool {
	_, ok := m.files[key]
	return ok
}

func (m *memSource) List(_ context.Context, prefix string) ([]string, error) {
	prefix = strings.Trim(prefix, "/") + "/"
	seen := make(map[string]bool)
	var out []string
	for k := range m.files {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		name, _, _ := strings.Cut(strings.TrimPrefix(k, prefix), "/")
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	sort.Strings(out)
	return out, nil
}

const testDefinition = `{
  "meta": {"title": "English Grammar in Use", "code": "egiu"},
  "items": {"default": [
    {"name": "Units", "item-type": "folder", "items": [
      {"name": "Unit 1", "item-type": "item", "resource": "RE_0001"},
      {"name": "Unit 2", "item-type": "item", "resource": "RE_0002"}
    ]},
    {"name": "Appendix", "item-type": "item", "attribs": {"page-no": "14"}},
    {"name": "Broken", "item-type": "item", "resource": "RE_MISSING"}
  ]},
  "resources": {"generic": {
    "RE_0001": {"sub-type": "imgbook_unit", "imgbook_unit": {"page-no": "12", "start-page-no": "12", "end-page-no": "13"}},
    "RE_0002": {"sub-type": "imgbook_unit", "imgbook_unit": {"page-no": "14", "start-page-no": "14", "end-page-no": "14"}}
  }}
}`

const testBookJSON = `{
  "bookid": "egiu", "pageWidth": 1000, "pageHeight": 1400,
  "paths": {"pagexlLrgImgFolder": "images/xlrg/"},
  "pages": {"page": [
    {"bgimage": "p12.jpg", "pagelabel": "12"},
    {"bgimage": "p13.jpg", "pagelabel": "13"},
    {"bgimage": "p%2014.jpg", "pagelabel": "14"}
  ]}
}`

// sno 12 and 13 line up with page labels, which is what unit audio relies on
const testOverlays = `{
  "pages": {"page": [
    {"sno": 1, "overlays": [{"type": "audio", "x": 100, "y": 140, "w": 50, "h": 70, "audio": {"path": "audio/1.mp3"}}]},
    {"sno": 2, "overlays": [{"type": "page", "x": 0, "y": 0, "w": 10, "h": 10, "page": {"pagelabel": "14"}}]},
    {"sno": 12, "overlays": [{"type": "audio", "x": 0, "y": 0, "w": 1, "h": 1, "audio": {"path": "audio/12.mp3", "title": "Track 12"}}]},
    {"sno": 13, "overlays": [{"type": "audio", "x": 0, "y": 0, "w": 1, "h": 1, "audio": {"path": "audio/13.mp3"}}]}
  ]}
}`

const testContainer = `{
  "meta": {"title": "Exercises"},
  "items": {"default": [
    {"name": "Unit 1", "item-type": "folder", "items": [
      {"name": "EGIU_PP_U001_P013_x01_Aks.zip", "item-type": "item", "resource": "EX_1"},
      {"name": "EGIU_PP_U001_P000_x02", "item-type": "item", "resource": "EX_2"},
      {"name": "Readme", "item-type": "item", "resource": "EX_3"}
    ]}
  ]},
  "resources": {"generic": {
    "EX_1": {"sub-type": "xapi", "ext-cup-xapi": {"url": "ex/u1x1"}},
    "EX_3": {"sub-type": "xapi"}
  }}
}`

func imgbookFiles(id string) map[string]string {
	return map[string]string{
		"books/" + id + "/meta/definition.json":                  testDefinition,
		"books/" + id + "/assets/imgbook-meta/book.json":         testBookJSON,
		"books/" + id + "/assets/imgbook-meta/book-overlays.json": testOverlays,
		"books/" + id + "/assets/images/xlrg/p12.jpg":            "jpeg12",
		"books/" + id + "/assets/images/xlrg/p 14.jpg":           "jpeg14",
		"books/" + id + "/assets/audio/12.mp3":                   "mp3",
		"books/" + id + "/cover.png":                             "png",
		"courses/" + id + "con/meta/definition.json":             testContainer,
		"courses/" + id + "con/assets/ex/u1x1/index.html":        "<html></html>",
	}
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for k, v := range files {
		p := filepath.Join(root, filepath.FromSlash(k))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(v), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestImgBookLoad(t *testing.T) {
	lib := New(newMemSource(imgbookFiles("egiu")), t.TempDir(), zerolog.Nop())

	meta, err := lib.Load(context.Background(), "egiu")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if lib.Format("egiu") != "imgbook" {
		t.Errorf("format = %q", lib.Format("egiu"))
	}
	if meta.Title != "English Grammar in Use" || meta.PageWidth != 1000 || meta.PageHeight != 1400 {
		t.Errorf("meta = %+v", meta)
	}
	if got := strings.Join(meta.PageLabels, ","); got != "12,13,14" {
		t.Errorf("labels = %s", got)
	}

	p12 := meta.Page("12")
	if p12.ImagePath != "images/xlrg/p12.jpg" || p12.ResourceID != "RE_0001" {
		t.Errorf("page 12 = %+v", p12)
	}
	if len(p12.Overlays) != 1 || p12.Overlays[0].Audio.Path != "audio/1.mp3" {
		t.Errorf("page 12 overlays should come from sno 1: %+v", p12.Overlays)
	}
	if p13 := meta.Page("13"); len(p13.Exercises) != 1 || p13.Exercises[0].ResourceID != "EX_1" {
		t.Errorf("page 13 exercises = %+v", p13.Exercises)
	}

	units := meta.TOC[0]
	if units.Title != "Units" || units.HasRange() || len(units.Children) != 2 {
		t.Fatalf("units = %+v", units)
	}
	u1 := units.Children[0]
	if u1.Key != "RE_0001" || u1.StartPage != "12" || u1.EndPage != "13" {
		t.Errorf("unit 1 = %+v", u1)
	}
	if len(u1.AudioFiles) != 2 || u1.AudioFiles[0].Title != "Track 12" || u1.AudioFiles[1].Path != "audio/13.mp3" {
		t.Errorf("unit 1 audio = %+v", u1.AudioFiles)
	}

	appendix := meta.TOC[1]
	if appendix.StartPage != "14" || appendix.EndPage != "14" {
		t.Errorf("attribs page-no should set both ends: %+v", appendix)
	}
	if len(appendix.Key) != 36 {
		t.Errorf("item without resource should get a uuid key, got %q", appendix.Key)
	}
	if broken := meta.TOC[2]; broken.HasRange() {
		t.Errorf("unknown resource should leave node without range: %+v", broken)
	}
}

func TestImgBookOptionalFiles(t *testing.T) {
	files := imgbookFiles("b")
	delete(files, "books/b/assets/imgbook-meta/book-overlays.json")
	files["courses/bcon/meta/definition.json"] = "{broken"

	meta, err := New(newMemSource(files), "", zerolog.Nop()).Load(context.Background(), "b")
	if err != nil {
		t.Fatalf("missing optional files should not fail: %v", err)
	}
	if len(meta.Page("12").Overlays) != 0 || len(meta.Page("13").Exercises) != 0 {
		t.Error("expected no overlays and exercises")
	}

	delete(files, "books/b/assets/imgbook-meta/book.json")
	if _, err := New(newMemSource(files), "", zerolog.Nop()).Load(context.Background(), "b"); err == nil {
		t.Error("missing book.json should fail")
	}
}

func TestLoadUnknownBook(t *testing.T) {
	lib := New(newMemSource(nil), "", zerolog.Nop())
	if _, err := lib.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	var nilLib *Library
	if _, err := nilLib.Load(context.Background(), "x"); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestLoadIsCached(t *testing.T) {
	src := newMemSource(imgbookFiles("egiu"))
	lib := New(src, "", zerolog.Nop())
	for range 3 {
		if _, err := lib.Load(context.Background(), "egiu"); err != nil {
			t.Fatal(err)
		}
	}
	if n := src.opens["books/egiu/meta/definition.json"]; n != 1 {
		t.Errorf("definition read %d times, want 1", n)
	}
}

func TestExercisePageLabel(t *testing.T) {
	tests := []struct {
		name  string
		label string
		ok    bool
	}{
		{"EGIU_PP_U001_P013_x01_Aks.zip", "13", true},
		{"P002", "2", true},
		{"X_P000_y", "0", true},
		{"P12", "", false},
		{"Readme", "", false},
	}
	for _, tt := range tests {
		label, ok := exercisePageLabel(tt.name)
		if label != tt.label || ok != tt.ok {
			t.Errorf("exercisePageLabel(%q) = %q, %v; want %q, %v", tt.name, label, ok, tt.label, tt.ok)
		}
	}
}

func TestResolveDir(t *testing.T) {
	root := writeTree(t, imgbookFiles("egiu"))
	lib := New(Dir{Root: root}, t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	p, err := lib.ResolvePageImage(ctx, "egiu", "14")
	if err != nil {
		t.Fatalf("ResolvePageImage failed: %v", err)
	}
	if want := filepath.Join(root, "books", "egiu", "assets", "images", "xlrg", "p 14.jpg"); p != want {
		t.Errorf("page image = %s, want %s", p, want)
	}
	if _, err := lib.ResolvePageImage(ctx, "egiu", "13"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing image: expected ErrNotFound, got %v", err)
	}
	if _, err := lib.ResolvePageImage(ctx, "egiu", "99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown page: expected ErrNotFound, got %v", err)
	}

	// direct path first, then under assets/
	if p, err := lib.ResolveAsset(ctx, "egiu", "cover.png"); err != nil || !strings.HasSuffix(p, filepath.Join("egiu", "cover.png")) {
		t.Errorf("ResolveAsset(cover.png) = %s, %v", p, err)
	}
	if p, err := lib.ResolveAsset(ctx, "egiu", "audio%2F12.mp3"); err != nil || !strings.HasSuffix(p, filepath.Join("assets", "audio", "12.mp3")) {
		t.Errorf("ResolveAsset(audio/12.mp3) = %s, %v", p, err)
	}
	if _, err := lib.ResolveAsset(ctx, "egiu", "audio/none.mp3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	p, err = lib.ResolveExercise(ctx, "egiu", "EX_1")
	if err != nil || p != filepath.Join(root, "courses", "egiucon", "assets", "ex", "u1x1", "index.html") {
		t.Errorf("ResolveExercise = %s, %v", p, err)
	}
	for _, id := range []string{"EX_3", "EX_9"} {
		if _, err := lib.ResolveExercise(ctx, "egiu", id); !errors.Is(err, ErrNotFound) {
			t.Errorf("ResolveExercise(%s): expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestResolveExtractsFromPlainSource(t *testing.T) {
	src := newMemSource(imgbookFiles("egiu"))
	cache := t.TempDir()
	lib := New(src, cache, zerolog.Nop())

	p, err := lib.ResolvePageImage(context.Background(), "egiu", "12")
	if err != nil {
		t.Fatalf("ResolvePageImage failed: %v", err)
	}
	if data, _ := os.ReadFile(p); string(data) != "jpeg12" {
		t.Errorf("extracted %q", data)
	}
	if !strings.HasPrefix(p, cache) {
		t.Errorf("%s should live in the cache", p)
	}

	// second call is served from the cache
	if _, err := lib.ResolvePageImage(context.Background(), "egiu", "12"); err != nil {
		t.Fatal(err)
	}
	if n := src.opens["books/egiu/assets/images/xlrg/p12.jpg"]; n != 1 {
		t.Errorf("image fetched %d times, want 1", n)
	}
}

func TestListBooks(t *testing.T) {
	files := map[string]string{}
	for _, id := range []string{"book10", "book2", "book1"} {
		for k, v := range imgbookFiles(id) {
			files[k] = v
		}
	}
	ids, err := New(newMemSource(files), "", zerolog.Nop()).ListBooks(context.Background())
	if err != nil {
		t.Fatalf("ListBooks failed: %v", err)
	}
	if got := strings.Join(ids, ","); got != "book1,book2,book10" {
		t.Errorf("ListBooks = %s", got)
	}

	ids, err = New(Dir{Root: t.TempDir()}, "", zerolog.Nop()).ListBooks(context.Background())
	if err != nil || len(ids) != 0 {
		t.Errorf("empty library = %v, %v", ids, err)
	}
}

func TestSupportedFormats(t *testing.T) {
	got := strings.Join(SupportedFormats(), ",")
	if !strings.Contains(got, "imgbook") || !strings.Contains(got, "epub") {
		t.Errorf("SupportedFormats = %s", got)
	}
	if f, ok := Lookup("EPUB"); !ok || f.Name() != "epub" {
		t.Error("Lookup should be case insensitive")
	}
	if _, ok := Lookup("pdf"); ok {
		t.Error("pdf is not registered")
	}
}
