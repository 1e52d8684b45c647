package library

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/maruel/natural"
	"golang.org/x/sync/errgroup"
)

// Group is the shelf a book is listed under.
type Group int

const (
	Vocabulary Group = 1
	Grammar    Group = 2
)

// UnmarshalJSON maps unknown group numbers to Vocabulary.
func (g *Group) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("book group: %w", err)
	}
	*g = groupOf(n)
	return nil
}

func groupOf(n int) Group {
	if Group(n) == Grammar {
		return Grammar
	}
	return Vocabulary
}

func (g Group) String() string {
	if g == Grammar {
		return "Grammar"
	}
	return "Vocabulary"
}

// Entry is one book of the catalog. Cover names a file below the book's
// assets folder and may be empty.
type Entry struct {
	ID     string
	Title  string
	Author string
	Group  Group
	Cover  string
	Sort   int
	Format string
}

// Describer is implemented by formats that can fill a catalog entry without
// loading the whole book.
type Describer interface {
	Describe(ctx context.Context, src Source, bookID string) (Entry, error)
}

// describeLimit bounds concurrent catalog reads.
const describeLimit = 8

// Catalog describes every book of the library ordered by group, sort number
// and then id in natural order. Books that cannot be read are listed under
// their id.
func (l *Library) Catalog(ctx context.Context) ([]Entry, error) {
	ids, err := l.ListBooks(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(describeLimit)
	for i, id := range ids {
		g.Go(func() error {
			e, err := l.Describe(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.log.Warn().Err(err).Str("book", id).Msg("Unable to describe book")
				e = Entry{ID: id, Title: id, Group: Vocabulary}
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.Sort != b.Sort {
			return a.Sort < b.Sort
		}
		return natural.Less(a.ID, b.ID)
	})
	return entries, nil
}

// Describe returns the catalog entry of bookID, reading it once per library.
func (l *Library) Describe(ctx context.Context, bookID string) (Entry, error) {
	if l == nil || l.src == nil {
		return Entry{}, ErrNoSource
	}
	l.mu.Lock()
	if e, ok := l.entries[bookID]; ok {
		l.mu.Unlock()
		return e, nil
	}
	l.mu.Unlock()

	f, err := detect(ctx, l.src, bookID)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if d, ok := f.(Describer); ok {
		if e, err = d.Describe(ctx, l.src, bookID); err != nil {
			return Entry{}, fmt.Errorf("failed to describe %s: %w", bookID, err)
		}
	} else {
		meta, err := l.Load(ctx, bookID)
		if err != nil {
			return Entry{}, err
		}
		e = Entry{Title: meta.Title, Group: Vocabulary}
	}
	e.ID, e.Format = bookID, f.Name()
	if e.Title == "" {
		e.Title = bookID
	}

	l.mu.Lock()
	l.entries[bookID] = e
	l.mu.Unlock()
	return e, nil
}

// ResolveCover returns a local path of the cover image of bookID.
func (l *Library) ResolveCover(ctx context.Context, bookID string) (string, error) {
	e, err := l.Describe(ctx, bookID)
	if err != nil {
		return "", err
	}
	if e.Cover == "" {
		return "", fmt.Errorf("cover of %s: %w", bookID, ErrNotFound)
	}
	return l.localize(ctx, bookKey(bookID, "assets", e.Cover), nil)
}
