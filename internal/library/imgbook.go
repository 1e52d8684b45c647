package library

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/metcalfc/pagebook/internal/book"
)

// ImgBookFormat reads books published as a folder of page images with JSON
// metadata: meta/definition.json, assets/imgbook-meta/book.json and an
// optional assets/imgbook-meta/book-overlays.json.
type ImgBookFormat struct{}

func init() {
	Register(&ImgBookFormat{})
}

func (f *ImgBookFormat) Name() string { return "imgbook" }

func (f *ImgBookFormat) Detect(ctx context.Context, src Source, bookID string) bool {
	return src.Stat(ctx, definitionKey(bookID))
}

func definitionKey(bookID string) string { return bookKey(bookID, "meta", "definition.json") }
func bookJSONKey(bookID string) string {
	return bookKey(bookID, "assets", "imgbook-meta", "book.json")
}
func overlaysKey(bookID string) string {
	return bookKey(bookID, "assets", "imgbook-meta", "book-overlays.json")
}

// containerKey is the definition of the exercise container shipped next to
// the book under courses/.
func containerKey(bookID string) string {
	return "courses/" + bookID + "con/meta/definition.json"
}

type definition struct {
	Meta struct {
		Title   string `json:"title"`
		Code    string `json:"code"`
		Author  string `json:"author"`
		Group   Group  `json:"book-group"`
		Cover   string `json:"cover"`
		SortNum int    `json:"sort-num"`
	} `json:"meta"`
	Items struct {
		Default []tocItem `json:"default"`
	} `json:"items"`
	Resources struct {
		Generic map[string]genericResource `json:"generic"`
	} `json:"resources"`
}

type tocItem struct {
	Name     string       `json:"name"`
	ItemType string       `json:"item-type"`
	Resource string       `json:"resource"`
	Items    []tocItem    `json:"items"`
	Attribs  *itemAttribs `json:"attribs"`
}

type itemAttribs struct {
	PageNo      string `json:"page-no"`
	StartPageNo string `json:"start-page-no"`
	EndPageNo   string `json:"end-page-no"`
}

type genericResource struct {
	SubType string       `json:"sub-type"`
	Unit    *imgbookUnit `json:"imgbook_unit"`
	XAPI    *struct {
		URL string `json:"url"`
	} `json:"ext-cup-xapi"`
}

type imgbookUnit struct {
	PageNo      string `json:"page-no"`
	StartPageNo string `json:"start-page-no"`
	EndPageNo   string `json:"end-page-no"`
}

type bookJSON struct {
	BookID     string  `json:"bookid"`
	PageWidth  float64 `json:"pageWidth"`
	PageHeight float64 `json:"pageHeight"`
	Paths      struct {
		LargeImageFolder string `json:"pagexlLrgImgFolder"`
	} `json:"paths"`
	Pages struct {
		Page []struct {
			BgImage   string `json:"bgimage"`
			PageLabel string `json:"pagelabel"`
		} `json:"page"`
	} `json:"pages"`
}

type overlayConfig struct {
	Pages struct {
		Page []struct {
			Sno      int                `json:"sno"`
			Overlays []book.OverlayItem `json:"overlays"`
		} `json:"page"`
	} `json:"pages"`
}

func decodeJSON(ctx context.Context, src Source, key string, v any) error {
	data, err := readAll(ctx, src, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	return nil
}

// Describe reads the catalog entry from the meta section of the definition.
func (f *ImgBookFormat) Describe(ctx context.Context, src Source, bookID string) (Entry, error) {
	var def definition
	if err := decodeJSON(ctx, src, definitionKey(bookID), &def); err != nil {
		return Entry{}, err
	}
	m := def.Meta
	return Entry{
		Title:  strings.TrimSpace(m.Title),
		Author: strings.TrimSpace(m.Author),
		Group:  groupOf(int(m.Group)),
		Cover:  strings.TrimPrefix(m.Cover, "/"),
		Sort:   m.SortNum,
	}, nil
}

func (f *ImgBookFormat) Load(ctx context.Context, src Source, bookID string, log zerolog.Logger) (*book.Metadata, error) {
	var def definition
	if err := decodeJSON(ctx, src, definitionKey(bookID), &def); err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	var bj bookJSON
	if err := decodeJSON(ctx, src, bookJSONKey(bookID), &bj); err != nil {
		return nil, fmt.Errorf("failed to read book.json: %w", err)
	}

	var overlays *overlayConfig
	if src.Stat(ctx, overlaysKey(bookID)) {
		overlays = &overlayConfig{}
		if err := decodeJSON(ctx, src, overlaysKey(bookID), overlays); err != nil {
			log.Warn().Err(err).Str("book", bookID).Msg("Ignoring overlays")
			overlays = nil
		}
	}

	var exercises map[string][]book.ExerciseInfo
	if src.Stat(ctx, containerKey(bookID)) {
		var con definition
		if err := decodeJSON(ctx, src, containerKey(bookID), &con); err != nil {
			log.Warn().Err(err).Str("book", bookID).Msg("Ignoring exercise container")
		} else {
			exercises = exerciseMapping(con.Items.Default)
		}
	}

	meta := &book.Metadata{
		BookID:     bookID,
		Title:      def.Meta.Title,
		PageWidth:  bj.PageWidth,
		PageHeight: bj.PageHeight,
	}
	meta.Pages, meta.PageLabels = pageIndex(&def, &bj, exercises, overlays, log)
	meta.TOC = parseTOC(def.Items.Default, &def, audioBySno(overlays))

	if err := meta.Validate(); err != nil {
		log.Warn().Err(err).Str("book", bookID).Msg("Table of contents has broken ranges")
	}
	log.Info().Str("book", bookID).Str("title", meta.Title).Int("pages", len(meta.PageLabels)).Msg("Loaded imgbook")
	return meta, nil
}

func pageIndex(def *definition, bj *bookJSON, exercises map[string][]book.ExerciseInfo, overlays *overlayConfig, log zerolog.Logger) (map[string]*book.PageIndex, []string) {
	pageToResource := make(map[string]string)
	for id, res := range def.Resources.Generic {
		if res.Unit != nil {
			pageToResource[res.Unit.PageNo] = id
		}
	}

	snoToOverlays := make(map[int][]book.OverlayItem)
	if overlays != nil {
		for _, p := range overlays.Pages.Page {
			snoToOverlays[p.Sno] = p.Overlays
		}
	}

	pages := make(map[string]*book.PageIndex, len(bj.Pages.Page))
	labels := make([]string, 0, len(bj.Pages.Page))
	matched, total := 0, 0
	for i, p := range bj.Pages.Page {
		ovs := snoToOverlays[i+1]
		if len(ovs) > 0 {
			matched++
			total += len(ovs)
		}
		pages[p.PageLabel] = &book.PageIndex{
			Label:      p.PageLabel,
			ImagePath:  bj.Paths.LargeImageFolder + p.BgImage,
			ResourceID: pageToResource[p.PageLabel],
			Exercises:  exercises[p.PageLabel],
			Overlays:   ovs,
		}
		labels = append(labels, p.PageLabel)
	}
	log.Debug().Int("pages", matched).Int("overlays", total).Msg("Matched overlays to pages")
	return pages, labels
}

func audioBySno(overlays *overlayConfig) map[int][]book.AudioRef {
	out := make(map[int][]book.AudioRef)
	if overlays == nil {
		return out
	}
	for _, p := range overlays.Pages.Page {
		for _, o := range p.Overlays {
			if o.Audio != nil {
				out[p.Sno] = append(out[p.Sno], *o.Audio)
			}
		}
	}
	return out
}

func parseTOC(items []tocItem, def *definition, audio map[int][]book.AudioRef) []*book.TocNode {
	nodes := make([]*book.TocNode, 0, len(items))
	for _, item := range items {
		node := &book.TocNode{Title: item.Name, Key: item.Resource}
		if node.Key == "" {
			node.Key = uuid.NewString()
		}

		switch {
		case item.Resource != "":
			if res, ok := def.Resources.Generic[item.Resource]; ok && res.Unit != nil {
				node.StartPage = res.Unit.StartPageNo
				node.EndPage = res.Unit.EndPageNo
			}
		case item.Attribs != nil:
			node.StartPage = firstNonEmpty(item.Attribs.StartPageNo, item.Attribs.PageNo)
			node.EndPage = firstNonEmpty(item.Attribs.EndPageNo, item.Attribs.PageNo)
		}

		// audio is gathered by sequence number, which these books keep
		// equal to the numeric page label
		if start, err := strconv.Atoi(node.StartPage); err == nil {
			if end, err := strconv.Atoi(node.EndPage); err == nil {
				for sno := start; sno <= end; sno++ {
					node.AudioFiles = append(node.AudioFiles, audio[sno]...)
				}
			}
		}

		if len(item.Items) > 0 {
			node.Children = parseTOC(item.Items, def, audio)
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var exercisePage = regexp.MustCompile(`P(\d{3})`)

// exercisePageLabel maps an item name like EGIU_PP_U001_P013_x01 to "13".
func exercisePageLabel(name string) (string, bool) {
	m := exercisePage.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	label := strings.TrimLeft(m[1], "0")
	if label == "" {
		label = "0"
	}
	return label, true
}

func exerciseMapping(items []tocItem) map[string][]book.ExerciseInfo {
	out := make(map[string][]book.ExerciseInfo)
	var walk func([]tocItem)
	walk = func(items []tocItem) {
		for _, item := range items {
			if item.Resource != "" {
				if label, ok := exercisePageLabel(item.Name); ok {
					out[label] = append(out[label], book.ExerciseInfo{Name: item.Name, ResourceID: item.Resource})
				}
			}
			walk(item.Items)
		}
	}
	walk(items)
	return out
}

func (f *ImgBookFormat) PageKey(bookID string, page *book.PageIndex) string {
	p := page.ImagePath
	if dec, err := url.PathUnescape(p); err == nil {
		p = dec
	}
	return bookKey(bookID, "assets", p)
}

func (f *ImgBookFormat) OpenPage(ctx context.Context, src Source, bookID string, page *book.PageIndex) (io.ReadCloser, error) {
	return src.Open(ctx, f.PageKey(bookID, page))
}

// exerciseKey returns the entry point of an exercise in the container.
func exerciseKey(ctx context.Context, src Source, bookID, resourceID string) (string, error) {
	var con definition
	if err := decodeJSON(ctx, src, containerKey(bookID), &con); err != nil {
		return "", fmt.Errorf("failed to read exercise container: %w", err)
	}
	res, ok := con.Resources.Generic[resourceID]
	if !ok {
		return "", fmt.Errorf("exercise %s: %w", resourceID, ErrNotFound)
	}
	if res.XAPI == nil || res.XAPI.URL == "" {
		return "", fmt.Errorf("exercise %s has no entry url: %w", resourceID, ErrNotFound)
	}
	return "courses/" + bookID + "con/assets/" + strings.Trim(res.XAPI.URL, "/") + "/index.html", nil
}
