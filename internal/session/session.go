// Package session drives one open book: it loads metadata into a reader,
// restores and saves progress, and resolves page images and audio without
// letting late answers overwrite newer ones.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/metcalfc/pagebook/internal/book"
	"github.com/metcalfc/pagebook/internal/reader"
	"github.com/metcalfc/pagebook/internal/state"
)

const (
	SlotLeft  = "left"
	SlotRight = "right"

	// DefaultPreloadDelay is how long navigation has to settle before
	// neighbours are fetched and progress is written.
	DefaultPreloadDelay = time.Second

	preloadWorkers = 4
)

// Library is what a session needs from a book library.
type Library interface {
	Load(ctx context.Context, bookID string) (*book.Metadata, error)
	ResolvePageImage(ctx context.Context, bookID, label string) (string, error)
	ResolveAsset(ctx context.Context, bookID, rel string) (string, error)
	ResolveExercise(ctx context.Context, bookID, resourceID string) (string, error)
}

// CoverResolver is implemented by libraries that know book covers.
type CoverResolver interface {
	ResolveCover(ctx context.Context, bookID string) (string, error)
}

// ErrNoCover is returned when the library cannot provide a cover.
var ErrNoCover = errors.New("no cover")

// Options tune a session.
type Options struct {
	ViewMode     book.ViewMode
	ZoomStep     float64
	PreloadDelay time.Duration
	AudioRate    float64

	// OnPreload, when set, is called from the preload goroutine after every
	// run with the labels it warmed.
	OnPreload func(labels []string)
}

// ImageRequest asks for the image of the page shown in Slot.
type ImageRequest struct {
	Ticket reader.Ticket
	BookID string
	Slot   string
	Label  string
}

// ImageResult answers an ImageRequest.
type ImageResult struct {
	ImageRequest
	Path string
	Err  error
}

// Image is what a slot currently shows.
type Image struct {
	Label string
	Path  string
	Err   error
}

// AudioResult answers an audio load request.
type AudioResult struct {
	Request reader.LoadRequest
	URL     string
	Err     error
}

// Session is driven from a single goroutine (the UI loop). Resolve* methods
// and the preload run elsewhere and only touch the library and the store.
type Session struct {
	Reader *reader.Reader

	lib     Library
	store   state.Store
	tickets *reader.Tickets
	opts    Options
	log     zerolog.Logger

	bookID  string
	loadErr error
	images  map[string]Image
	unsub   func()

	mu      sync.Mutex
	timer   *time.Timer
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New creates a session with no book open. store may be nil.
func New(lib Library, store state.Store, player reader.Player, opts Options, log zerolog.Logger) *Session {
	if opts.PreloadDelay <= 0 {
		opts.PreloadDelay = DefaultPreloadDelay
	}
	if player == nil {
		player = &NullPlayer{}
	}
	tickets := &reader.Tickets{}
	r := reader.NewReader(player, tickets, log)
	if opts.ZoomStep > 0 {
		r.ZoomStep = opts.ZoomStep
	}
	if opts.AudioRate > 0 {
		r.Audio.SetRate(opts.AudioRate)
	}
	return &Session{
		Reader:  r,
		lib:     lib,
		store:   store,
		tickets: tickets,
		opts:    opts,
		log:     log,
		images:  make(map[string]Image),
	}
}

// Open loads bookID and restores its saved position. When the book cannot be
// loaded the reader is left empty and the error is returned and kept.
func (s *Session) Open(ctx context.Context, bookID string) error {
	s.stopPreload()
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.bookID = bookID
	s.images = make(map[string]Image)
	s.tickets.Revoke(SlotLeft)
	s.tickets.Revoke(SlotRight)

	meta, err := s.lib.Load(ctx, bookID)
	if err != nil {
		s.loadErr = fmt.Errorf("failed to open %s: %w", bookID, err)
		s.log.Error().Err(err).Str("book", bookID).Msg("Unable to load book")
		s.Reader.Load(nil, reader.NavigationState{})
		return s.loadErr
	}
	s.loadErr = nil

	start := reader.NavigationState{ViewMode: s.opts.ViewMode, ZoomLevel: reader.DefaultZoom}
	if p := s.restore(ctx, bookID); p != nil {
		start.CurrentPageLabel = p.PageLabel
		if p.Zoom > 0 {
			start.ZoomLevel = p.Zoom
		}
		if p.ViewMode != "" {
			start.ViewMode = book.ParseViewMode(p.ViewMode)
		}
	}
	s.Reader.Load(meta, start)
	s.unsub = s.Reader.Subscribe(func(c reader.Change) {
		if c.Has(reader.ChangePage | reader.ChangeViewMode | reader.ChangeZoom | reader.ChangeSpreadOffset) {
			s.SchedulePreload()
		}
	})

	s.SchedulePreload()

	s.log.Info().Str("book", bookID).Str("page", s.Reader.State().CurrentPageLabel).Msg("Opened book")
	return nil
}

func (s *Session) restore(ctx context.Context, bookID string) *state.Progress {
	if s.store == nil {
		return nil
	}
	p, err := s.store.Get(ctx, bookID)
	if err != nil {
		s.log.Warn().Err(err).Str("book", bookID).Msg("Unable to read progress")
		return nil
	}
	return p
}

// BookID returns the id of the open book.
func (s *Session) BookID() string { return s.bookID }

// Err returns the error of the last Open, if it failed.
func (s *Session) Err() error { return s.loadErr }

// RequestImages issues requests for the pages currently visible. A slot
// that shows nothing is cleared and any outstanding request for it dropped.
func (s *Session) RequestImages() []ImageRequest {
	p := s.Reader.Pager()
	slots := []struct{ slot, label string }{{SlotLeft, p.Left}, {SlotRight, p.Right}}

	var reqs []ImageRequest
	for _, sl := range slots {
		if sl.label == "" {
			s.tickets.Revoke(sl.slot)
			delete(s.images, sl.slot)
			continue
		}
		if img, ok := s.images[sl.slot]; ok && img.Label == sl.label && img.Err == nil {
			continue
		}
		reqs = append(reqs, ImageRequest{
			Ticket: s.tickets.Issue(sl.slot),
			BookID: s.bookID,
			Slot:   sl.slot,
			Label:  sl.label,
		})
	}
	return reqs
}

// ResolveImage performs a request. It is safe to call from any goroutine.
func (s *Session) ResolveImage(ctx context.Context, req ImageRequest) ImageResult {
	path, err := s.lib.ResolvePageImage(ctx, req.BookID, req.Label)
	return ImageResult{ImageRequest: req, Path: path, Err: err}
}

// ApplyImage stores a result when it answers the latest request for its
// slot and reports whether it did.
func (s *Session) ApplyImage(res ImageResult) bool {
	if !s.tickets.Current(res.Ticket) {
		s.log.Debug().Str("slot", res.Slot).Str("page", res.Label).Msg("Dropping stale image")
		return false
	}
	s.tickets.Revoke(res.Slot)
	if res.Err != nil {
		s.log.Warn().Err(res.Err).Str("page", res.Label).Msg("Unable to resolve page image")
		s.images[res.Slot] = Image{Label: res.Label, Err: res.Err}
		return true
	}
	s.images[res.Slot] = Image{Label: res.Label, Path: res.Path}
	return true
}

// Image returns what slot shows, if it shows anything.
func (s *Session) Image(slot string) (Image, bool) {
	img, ok := s.images[slot]
	return img, ok
}

// ToggleAudio plays or pauses path, returning a load request when the clip
// still has to be resolved.
func (s *Session) ToggleAudio(path string) (reader.LoadRequest, bool) {
	return s.Reader.ToggleAudio(path)
}

// ResolveAudio looks up the clip of req. It is safe to call from any goroutine.
func (s *Session) ResolveAudio(ctx context.Context, bookID string, req reader.LoadRequest) AudioResult {
	url, err := s.lib.ResolveAsset(ctx, bookID, req.Path)
	return AudioResult{Request: req, URL: url, Err: err}
}

// ApplyAudio completes a load request; stale answers are ignored.
func (s *Session) ApplyAudio(res AudioResult) bool {
	return s.Reader.Audio.Loaded(res.Request, res.URL, res.Err)
}

// OpenExercise resolves the entry page of an exercise of the open book.
func (s *Session) OpenExercise(ctx context.Context, resourceID string) (string, error) {
	if s.loadErr != nil || s.Reader.Metadata() == nil {
		return "", fmt.Errorf("no book open")
	}
	return s.ResolveExercise(ctx, s.bookID, resourceID)
}

// ResolveExercise looks up an exercise of bookID. It is safe to call from
// any goroutine.
func (s *Session) ResolveExercise(ctx context.Context, bookID, resourceID string) (string, error) {
	return s.lib.ResolveExercise(ctx, bookID, resourceID)
}

// ResolveCover looks up the cover image of bookID. It is safe to call from
// any goroutine.
func (s *Session) ResolveCover(ctx context.Context, bookID string) (string, error) {
	c, ok := s.lib.(CoverResolver)
	if !ok || bookID == "" {
		return "", ErrNoCover
	}
	return c.ResolveCover(ctx, bookID)
}

func (s *Session) progress() state.Progress {
	st := s.Reader.State()
	return state.Progress{
		PageLabel: st.CurrentPageLabel,
		Zoom:      st.ZoomLevel,
		ViewMode:  string(st.ViewMode),
	}
}

// SaveProgress writes the current position. Failures are logged and
// returned but never change the session.
func (s *Session) SaveProgress(ctx context.Context) error {
	if s.store == nil || s.Reader.Metadata() == nil {
		return nil
	}
	return s.save(ctx, s.bookID, s.progress())
}

func (s *Session) save(ctx context.Context, bookID string, p state.Progress) error {
	if err := s.store.Save(ctx, bookID, p); err != nil {
		s.log.Warn().Err(err).Str("book", bookID).Msg("Unable to save progress")
		return err
	}
	return nil
}

type preloadJob struct {
	bookID   string
	labels   []string
	audio    []string
	progress *state.Progress
}

// neighbours returns the labels visible one step back and one step forward.
func (s *Session) neighbours() []string {
	p := s.Reader.Pager()
	st := s.Reader.State()
	var out []string
	for _, step := range []func() (string, bool){p.Back, p.Forward} {
		if label, ok := step(); ok {
			n := reader.NewPager(s.Reader.Labels(), label, st.ViewMode, st.SpreadOffset)
			out = append(out, n.Visible()...)
		}
	}
	return out
}

// SchedulePreload (re)arms the debounce timer. When navigation has been
// quiet for the preload delay the neighbouring pages and the audio of the
// visible pages are resolved in the background and progress is saved.
func (s *Session) SchedulePreload() {
	if s.Reader.Metadata() == nil {
		return
	}
	job := preloadJob{bookID: s.bookID, labels: s.neighbours()}
	for _, a := range s.Reader.ActiveAudio() {
		job.audio = append(job.audio, a.Path)
	}
	if s.store != nil {
		p := s.progress()
		job.progress = &p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running.Add(1)
	s.timer = time.AfterFunc(s.opts.PreloadDelay, func() {
		defer s.running.Done()
		s.preload(ctx, job)
	})
}

func (s *Session) stopLocked() {
	// a timer that never fired still holds its slot in running
	if s.timer != nil && s.timer.Stop() {
		s.running.Done()
	}
	s.timer = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// stopPreload cancels pending and running preloads and waits for them.
func (s *Session) stopPreload() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
	s.running.Wait()
}

func (s *Session) preload(ctx context.Context, job preloadJob) {
	log := s.log.With().Str("book", job.bookID).Logger()
	if job.progress != nil {
		s.save(ctx, job.bookID, *job.progress)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadWorkers)
	for _, label := range job.labels {
		g.Go(guard(log, func() error {
			if _, err := s.lib.ResolvePageImage(ctx, job.bookID, label); err != nil {
				log.Debug().Err(err).Str("page", label).Msg("Preload of page failed")
			}
			return nil
		}))
	}
	for _, path := range job.audio {
		g.Go(guard(log, func() error {
			if _, err := s.lib.ResolveAsset(ctx, job.bookID, path); err != nil {
				log.Debug().Err(err).Str("audio", path).Msg("Preload of audio failed")
			}
			return nil
		}))
	}
	g.Wait()

	if s.opts.OnPreload != nil {
		s.opts.OnPreload(job.labels)
	}
}

// guard turns a panic in fn into a logged no-op.
func guard(log zerolog.Logger, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Preload task panicked")
			}
		}()
		return fn()
	}
}

// Close stops background work, saves progress and unloads audio.
func (s *Session) Close() error {
	s.stopPreload()
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	err := s.SaveProgress(context.Background())
	s.Reader.CloseAudio()
	return err
}
