package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/maruel/natural"
	"github.com/rs/zerolog"

	"github.com/metcalfc/pagebook/internal/book"
	"github.com/metcalfc/pagebook/internal/state"
)

// Library loads books from a source and turns their resources into local
// files the front-ends can display.
type Library struct {
	src      Source
	cacheDir string
	log      zerolog.Logger

	mu      sync.Mutex
	books   map[string]*loaded
	entries map[string]Entry
}

type loaded struct {
	meta   *book.Metadata
	format Format
}

// New creates a library over src. Resources that are not on local disk are
// extracted below cacheDir.
func New(src Source, cacheDir string, log zerolog.Logger) *Library {
	return &Library{
		src:      src,
		cacheDir: cacheDir,
		log:      log,
		books:    make(map[string]*loaded),
		entries:  make(map[string]Entry),
	}
}

// OpenFile serves a single EPUB file outside any library folder. The book id
// is derived from the file contents so progress survives renames.
func OpenFile(filename, cacheDir string, log zerolog.Logger) (*Library, string, error) {
	id, err := state.ComputeHash(filename)
	if err != nil {
		return nil, "", err
	}
	return New(fileBook{id: id, path: filename}, cacheDir, log), id, nil
}

// Load returns the metadata of bookID, reading it once per library.
func (l *Library) Load(ctx context.Context, bookID string) (*book.Metadata, error) {
	if l == nil || l.src == nil {
		return nil, ErrNoSource
	}
	if bookID == "" {
		return nil, fmt.Errorf("empty book id: %w", ErrNotFound)
	}

	l.mu.Lock()
	if b, ok := l.books[bookID]; ok {
		l.mu.Unlock()
		return b.meta, nil
	}
	l.mu.Unlock()

	f, err := detect(ctx, l.src, bookID)
	if err != nil {
		return nil, err
	}
	meta, err := f.Load(ctx, l.src, bookID, l.log.With().Str("format", f.Name()).Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", bookID, err)
	}

	l.mu.Lock()
	l.books[bookID] = &loaded{meta: meta, format: f}
	l.mu.Unlock()
	return meta, nil
}

func (l *Library) loaded(ctx context.Context, bookID string) (*loaded, error) {
	if _, err := l.Load(ctx, bookID); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.books[bookID], nil
}

// ResolvePageImage returns a local path of the image shown for label.
func (l *Library) ResolvePageImage(ctx context.Context, bookID, label string) (string, error) {
	b, err := l.loaded(ctx, bookID)
	if err != nil {
		return "", err
	}
	page := b.meta.Page(label)
	if page == nil {
		return "", fmt.Errorf("page %q of %s: %w", label, bookID, ErrNotFound)
	}
	key := b.format.PageKey(bookID, page)
	return l.localize(ctx, key, func() (io.ReadCloser, error) {
		return b.format.OpenPage(ctx, l.src, bookID, page)
	})
}

// ResolveAsset returns a local path of a file referenced by the book, such
// as an overlay audio clip. rel may be URL encoded and is looked up both in
// the book folder and in its assets folder.
func (l *Library) ResolveAsset(ctx context.Context, bookID, rel string) (string, error) {
	if l == nil || l.src == nil {
		return "", ErrNoSource
	}
	if dec, err := url.PathUnescape(rel); err == nil {
		rel = dec
	}
	rel = strings.TrimPrefix(rel, "/")

	keys := []string{bookKey(bookID, rel), bookKey(bookID, "assets", rel)}
	for _, key := range keys {
		if l.cached(key) != "" || l.src.Stat(ctx, key) {
			return l.localize(ctx, key, nil)
		}
	}
	return "", fmt.Errorf("asset %s of %s (tried %s): %w", rel, bookID, strings.Join(keys, ", "), ErrNotFound)
}

// ResolveExercise returns the entry page of an interactive exercise.
func (l *Library) ResolveExercise(ctx context.Context, bookID, resourceID string) (string, error) {
	if l == nil || l.src == nil {
		return "", ErrNoSource
	}
	key, err := exerciseKey(ctx, l.src, bookID, resourceID)
	if err != nil {
		return "", err
	}
	return l.localize(ctx, key, nil)
}

// ListBooks returns the ids of the books in the library in natural order.
func (l *Library) ListBooks(ctx context.Context) ([]string, error) {
	if l == nil || l.src == nil {
		return nil, ErrNoSource
	}
	ids, err := l.src.List(ctx, "books")
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Sort(natural.StringSlice(ids))
	return ids, nil
}

// Format returns the name of the format bookID was loaded with.
func (l *Library) Format(bookID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.books[bookID]; ok {
		return b.format.Name()
	}
	return ""
}

func (l *Library) cached(key string) string {
	if l.cacheDir == "" {
		return ""
	}
	p, err := Dir{Root: l.cacheDir}.Local(context.Background(), key)
	if err != nil {
		return ""
	}
	return p
}

// localize finds key on local disk, asking the source first and falling back
// to copying open's content into the cache.
func (l *Library) localize(ctx context.Context, key string, open func() (io.ReadCloser, error)) (string, error) {
	if p := l.cached(key); p != "" {
		return p, nil
	}
	if lz, ok := l.src.(Localizer); ok {
		p, err := lz.Local(ctx, key)
		if err == nil {
			return p, nil
		}
		if open == nil {
			return "", err
		}
	}
	if open == nil {
		open = func() (io.ReadCloser, error) { return l.src.Open(ctx, key) }
	}
	if l.cacheDir == "" {
		return "", fmt.Errorf("%s: no cache directory to extract into", key)
	}

	rc, err := open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	p, err := Dir{Root: l.cacheDir}.path(key)
	if err != nil {
		return "", err
	}
	if err := writeFile(p, rc); err != nil {
		return "", fmt.Errorf("extract %s: %w", key, err)
	}
	l.log.Debug().Str("key", key).Str("path", p).Msg("Extracted resource")
	return p, nil
}

// fileBook exposes a single EPUB file as a library holding one book.
type fileBook struct {
	id   string
	path string
}

func (f fileBook) key() string { return bookKey(f.id, epubName) }

func (f fileBook) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if key != f.key() {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return os.Open(f.path)
}

func (f fileBook) Stat(_ context.Context, key string) bool {
	return key == f.key()
}

func (f fileBook) List(_ context.Context, prefix string) ([]string, error) {
	switch strings.Trim(prefix, "/") {
	case "books":
		return []string{f.id}, nil
	case "books/" + f.id:
		return []string{epubName}, nil
	}
	return nil, fmt.Errorf("%s: %w", prefix, ErrNotFound)
}
