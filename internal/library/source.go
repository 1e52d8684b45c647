package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a key does not exist in a source.
	ErrNotFound = errors.New("not found")
	// ErrNoSource is returned when the library has nothing to read from.
	ErrNoSource = errors.New("no book source configured")
)

// Source is a read-only tree of slash separated keys such as
// "books/<id>/meta/definition.json".
type Source interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) bool
	// List returns the immediate children of prefix, directories without a
	// trailing slash.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Localizer is implemented by sources able to hand out a file on local disk.
type Localizer interface {
	Local(ctx context.Context, key string) (string, error)
}

func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(key, "\\", "/")), "/")
	if key == "" || key == "." {
		return "", fmt.Errorf("empty key: %w", ErrNotFound)
	}
	return key, nil
}

// Dir serves keys from a directory on local disk.
type Dir struct {
	Root string
}

func (d Dir) path(key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.Root, filepath.FromSlash(key)), nil
}

func (d Dir) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return f, err
}

func (d Dir) Stat(_ context.Context, key string) bool {
	p, err := d.path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

func (d Dir) List(_ context.Context, prefix string) ([]string, error) {
	p, err := d.path(prefix)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", prefix, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (d Dir) Local(_ context.Context, key string) (string, error) {
	p, err := d.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return p, nil
}

// Cached is a read-through cache in front of a remote source. Fetched
// objects are kept under Dir and served from there afterwards.
type Cached struct {
	Remote Source
	Dir    string
	Log    zerolog.Logger

	mu sync.Mutex
}

// NewCached wraps remote with a cache rooted at dir.
func NewCached(remote Source, dir string, log zerolog.Logger) *Cached {
	return &Cached{Remote: remote, Dir: dir, Log: log}
}

func (c *Cached) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := c.Local(ctx, key)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (c *Cached) Stat(ctx context.Context, key string) bool {
	if (Dir{Root: c.Dir}).Stat(ctx, key) {
		return true
	}
	return c.Remote.Stat(ctx, key)
}

func (c *Cached) List(ctx context.Context, prefix string) ([]string, error) {
	return c.Remote.List(ctx, prefix)
}

// Local downloads key into the cache when missing and returns its path.
func (c *Cached) Local(ctx context.Context, key string) (string, error) {
	local := Dir{Root: c.Dir}
	if p, err := local.Local(ctx, key); err == nil {
		return p, nil
	}
	p, err := local.path(key)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}

	rc, err := c.Remote.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	if err := writeFile(p, rc); err != nil {
		return "", fmt.Errorf("cache %s: %w", key, err)
	}
	c.Log.Debug().Str("key", key).Str("path", p).Msg("Cached remote object")
	return p, nil
}

// writeFile streams r into p through a temporary file so readers never see
// a partial object.
func writeFile(p string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".part-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func readAll(ctx context.Context, src Source, key string) ([]byte, error) {
	rc, err := src.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
