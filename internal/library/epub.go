package library

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/taylorskalyo/goreader/epub"
	"golang.org/x/net/html"

	"github.com/metcalfc/pagebook/internal/book"
)

// EPUBFormat reads fixed layout EPUBs where every spine item shows one page
// image. Pages are labelled 1..N in spine order.
type EPUBFormat struct{}

func init() {
	Register(&EPUBFormat{})
}

// epubName is the archive stored in the book folder.
const epubName = "book.epub"

func (f *EPUBFormat) Name() string { return "epub" }

func (f *EPUBFormat) Detect(ctx context.Context, src Source, bookID string) bool {
	return src.Stat(ctx, bookKey(bookID, epubName))
}

type epubArchive struct {
	rootfile *epub.Rootfile
	zr       *zip.Reader
}

func openEPUB(ctx context.Context, src Source, bookID string) (*epubArchive, error) {
	data, err := readAll(ctx, src, bookKey(bookID, epubName))
	if err != nil {
		return nil, err
	}
	ra := bytes.NewReader(data)
	rc, err := epub.NewReader(ra, int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	if len(rc.Rootfiles) == 0 {
		return nil, fmt.Errorf("no rootfiles found in epub")
	}
	zr, err := zip.NewReader(ra, int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	return &epubArchive{rootfile: rc.Rootfiles[0], zr: zr}, nil
}

// fullPath turns a manifest href into an archive entry name.
func (a *epubArchive) fullPath(href string) string {
	return path.Join(path.Dir(a.rootfile.FullPath), href)
}

func (a *epubArchive) entry(name string) *zip.File {
	for _, f := range a.zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (f *EPUBFormat) Load(ctx context.Context, src Source, bookID string, log zerolog.Logger) (*book.Metadata, error) {
	a, err := openEPUB(ctx, src, bookID)
	if err != nil {
		return nil, err
	}
	rf := a.rootfile

	meta := &book.Metadata{
		BookID: bookID,
		Title:  strings.TrimSpace(rf.Metadata.Title),
		Pages:  make(map[string]*book.PageIndex),
	}
	if meta.Title == "" {
		meta.Title = bookID
	}

	// href of every spine item -> page label
	spine := make(map[string]string)
	for _, ref := range rf.Spine.Itemrefs {
		if ref.Item == nil {
			continue
		}
		r, err := ref.Item.Open()
		if err != nil {
			log.Warn().Err(err).Str("href", ref.Item.HREF).Msg("Skipping unreadable spine item")
			continue
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			log.Warn().Err(err).Str("href", ref.Item.HREF).Msg("Skipping unreadable spine item")
			continue
		}

		label := strconv.Itoa(len(meta.PageLabels) + 1)
		page := &book.PageIndex{Label: label}
		if img := firstImage(data); img != "" {
			page.ImagePath = path.Join(path.Dir(a.fullPath(ref.Item.HREF)), img)
		}
		meta.Pages[label] = page
		meta.PageLabels = append(meta.PageLabels, label)
		spine[ref.Item.HREF] = label
		spine[path.Base(ref.Item.HREF)] = label
	}
	if len(meta.PageLabels) == 0 {
		return nil, fmt.Errorf("epub %s has no pages", bookID)
	}

	ncxData, err := a.readNCX()
	if err != nil {
		log.Warn().Err(err).Str("book", bookID).Msg("EPUB has no table of contents")
	} else if meta.TOC, err = parseNCX(ncxData, spine, meta.PageLabels); err != nil {
		log.Warn().Err(err).Str("book", bookID).Msg("Ignoring table of contents")
	}

	log.Info().Str("book", bookID).Str("title", meta.Title).Int("pages", len(meta.PageLabels)).Msg("Loaded epub")
	return meta, nil
}

// firstImage returns the src of the first <img> or SVG <image> in a page.
func firstImage(data []byte) string {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return ""
	}

	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && (n.Data == "img" || n.Data == "image") {
			for _, a := range n.Attr {
				switch a.Key {
				case "src", "href", "xlink:href":
					found = a.Val
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

func (a *epubArchive) readNCX() ([]byte, error) {
	var ncxPath string
	for _, item := range a.rootfile.Manifest.Items {
		if item.MediaType == "application/x-dtbncx+xml" {
			ncxPath = a.fullPath(item.HREF)
			break
		}
	}
	if ncxPath == "" {
		for _, f := range a.zr.File {
			if strings.HasSuffix(strings.ToLower(f.Name), ".ncx") {
				ncxPath = f.Name
				break
			}
		}
	}
	if ncxPath == "" {
		return nil, fmt.Errorf("no NCX file found in EPUB")
	}

	f := a.entry(ncxPath)
	if f == nil {
		return nil, fmt.Errorf("NCX file %s not found in archive", ncxPath)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (f *EPUBFormat) PageKey(bookID string, page *book.PageIndex) string {
	return bookKey(bookID, "pages", page.ImagePath)
}

func (f *EPUBFormat) OpenPage(ctx context.Context, src Source, bookID string, page *book.PageIndex) (io.ReadCloser, error) {
	if page.ImagePath == "" {
		return nil, fmt.Errorf("page %s has no image: %w", page.Label, ErrNotFound)
	}
	a, err := openEPUB(ctx, src, bookID)
	if err != nil {
		return nil, err
	}
	e := a.entry(page.ImagePath)
	if e == nil {
		return nil, fmt.Errorf("%s: %w", page.ImagePath, ErrNotFound)
	}
	return e.Open()
}
