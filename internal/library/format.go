// Package library finds books in a source, loads their metadata and resolves
// page images, assets and exercises to local files.
package library

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/metcalfc/pagebook/internal/book"
)

// Format knows how to read one kind of book layout.
type Format interface {
	Name() string
	// Detect reports whether the book stored under bookID uses this format.
	Detect(ctx context.Context, src Source, bookID string) bool
	Load(ctx context.Context, src Source, bookID string, log zerolog.Logger) (*book.Metadata, error)
	// PageKey names the page image in the source, or in the local cache
	// when the image has to be extracted with OpenPage.
	PageKey(bookID string, page *book.PageIndex) string
	OpenPage(ctx context.Context, src Source, bookID string, page *book.PageIndex) (io.ReadCloser, error)
}

// Provider loads metadata for a book id.
type Provider interface {
	Load(ctx context.Context, bookID string) (*book.Metadata, error)
}

var registry []Format

// Register adds a book format to the registry.
func Register(f Format) {
	registry = append(registry, f)
}

// Lookup returns the registered format called name.
func Lookup(name string) (Format, bool) {
	for _, f := range registry {
		if strings.EqualFold(f.Name(), name) {
			return f, true
		}
	}
	return nil, false
}

// SupportedFormats returns registered format names.
func SupportedFormats() []string {
	out := make([]string, 0, len(registry))
	for _, f := range registry {
		out = append(out, f.Name())
	}
	return out
}

func detect(ctx context.Context, src Source, bookID string) (Format, error) {
	for _, f := range registry {
		if f.Detect(ctx, src, bookID) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("book %s: %w", bookID, ErrNotFound)
}

func bookKey(bookID string, parts ...string) string {
	return "books/" + bookID + "/" + strings.Join(parts, "/")
}
