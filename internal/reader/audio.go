package reader

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/metcalfc/pagebook/internal/book"
)

const (
	audioSlot = "audio"

	DefaultRate = 1.0
	MinRate     = 0.5
	MaxRate     = 2.0
)

// Player is the single playable resource handle owned by Audio.
type Player interface {
	Load(url string) error
	Play(rate float64) error
	Pause()
	Seek(pos time.Duration)
	Stop()
}

// Positioner is implemented by players that can report how far the loaded
// clip has played.
type Positioner interface {
	Position() (pos, duration time.Duration)
}

// AudioState is what the presentation layer shows for the player.
type AudioState struct {
	CurrentPath string
	Playing     bool
	CurrentTime time.Duration
	Duration    time.Duration
	Rate        float64
}

// LoadRequest asks the host to resolve Path to a playable URL and report
// back through Audio.Loaded.
type LoadRequest struct {
	Ticket Ticket
	Path   string
}

// Audio keeps playback consistent with navigation.
type Audio struct {
	state   AudioState
	loaded  bool
	pending *LoadRequest
	player  Player
	tickets *Tickets
	log     zerolog.Logger
}

// NewAudio wraps player. Tickets may be shared with other asynchronous
// requests of the same session.
func NewAudio(player Player, tickets *Tickets, log zerolog.Logger) *Audio {
	if tickets == nil {
		tickets = &Tickets{}
	}
	return &Audio{
		state:   AudioState{Rate: DefaultRate},
		player:  player,
		tickets: tickets,
		log:     log,
	}
}

// State returns a copy of the player state.
func (a *Audio) State() AudioState {
	return a.state
}

// Toggle plays or pauses path when it is already loaded. Otherwise it makes
// path current and returns a request the host has to resolve.
func (a *Audio) Toggle(path string) (LoadRequest, bool) {
	if path == "" {
		return LoadRequest{}, false
	}

	if path == a.state.CurrentPath {
		switch {
		case a.loaded && a.state.Playing:
			a.player.Pause()
			a.state.Playing = false
			return LoadRequest{}, false
		case a.loaded:
			if err := a.player.Play(a.state.Rate); err != nil {
				a.log.Warn().Err(err).Str("path", path).Msg("Unable to resume audio")
				return LoadRequest{}, false
			}
			a.state.Playing = true
			return LoadRequest{}, false
		case a.pending != nil:
			return LoadRequest{}, false
		}
	}

	if a.state.Playing {
		a.player.Pause()
	}
	a.state.CurrentPath = path
	a.state.Playing = false
	a.state.CurrentTime = 0
	a.state.Duration = 0
	a.loaded = false

	req := LoadRequest{Ticket: a.tickets.Issue(audioSlot), Path: path}
	a.pending = &req
	return req, true
}

// Loaded completes a request issued by Toggle. Stale completions are ignored.
// It returns true when playback started.
func (a *Audio) Loaded(req LoadRequest, url string, err error) bool {
	if !a.tickets.Current(req.Ticket) || req.Path != a.state.CurrentPath {
		a.log.Debug().Str("path", req.Path).Msg("Dropping stale audio resolution")
		return false
	}
	a.pending = nil
	a.tickets.Revoke(audioSlot)

	if err != nil {
		a.log.Warn().Err(err).Str("path", req.Path).Msg("Unable to resolve audio")
		return false
	}
	if err := a.player.Load(url); err != nil {
		a.log.Warn().Err(err).Str("path", req.Path).Str("url", url).Msg("Unable to load audio")
		return false
	}
	a.loaded = true
	a.player.Seek(0)
	a.state.CurrentTime = 0
	if err := a.player.Play(a.state.Rate); err != nil {
		a.log.Warn().Err(err).Str("path", req.Path).Msg("Unable to start audio")
		return false
	}
	a.state.Playing = true
	return true
}

// Sync pauses playback when the current clip is not part of active. The
// clip stays current so a stale player remains visible.
func (a *Audio) Sync(active []book.AudioRef) {
	if a.state.CurrentPath == "" || containsPath(active, a.state.CurrentPath) {
		return
	}
	if a.pending != nil {
		// do not start a clip that no longer belongs to the page
		a.tickets.Revoke(audioSlot)
		a.pending = nil
	}
	if a.state.Playing {
		a.player.Pause()
		a.state.Playing = false
	}
}

// Close unloads the clip and resets the player state. The rate is kept.
func (a *Audio) Close() {
	if a.state.CurrentPath != "" {
		a.player.Stop()
	}
	a.tickets.Revoke(audioSlot)
	a.pending = nil
	a.loaded = false
	a.state = AudioState{Rate: a.state.Rate}
}

// SetRate changes the playback rate, applying it immediately when playing.
func (a *Audio) SetRate(rate float64) {
	a.state.Rate = min(max(rate, MinRate), MaxRate)
	if a.state.Playing {
		if err := a.player.Play(a.state.Rate); err != nil {
			a.log.Warn().Err(err).Msg("Unable to change audio rate")
		}
	}
}

// Tick records player progress. Reaching the end stops playback.
func (a *Audio) Tick(pos, duration time.Duration) {
	if a.state.CurrentPath == "" {
		return
	}
	a.state.CurrentTime = pos
	a.state.Duration = duration
	if duration > 0 && pos >= duration {
		a.state.Playing = false
	}
}

// Poll reads the player position through Tick when the player is a
// Positioner. It is a no-op while nothing is loaded.
func (a *Audio) Poll() {
	p, ok := a.player.(Positioner)
	if !ok || !a.loaded {
		return
	}
	a.Tick(p.Position())
}

func containsPath(refs []book.AudioRef, path string) bool {
	for _, r := range refs {
		if r.Path == path {
			return true
		}
	}
	return false
}
