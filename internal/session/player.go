package session

import (
	"sync"
	"time"
)

// NullPlayer keeps track of what would be playing without producing sound.
// Front-ends without an audio backend use it so the playback state shown to
// the user stays meaningful. Position advances with the wall clock while
// playing and stops at Length when that is known.
type NullPlayer struct {
	mu      sync.Mutex
	URL     string
	Playing bool
	Rate    float64
	Pos     time.Duration
	Length  time.Duration

	since time.Time
}

func (p *NullPlayer) Load(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.URL = url
	p.Playing = false
	p.Pos = 0
	return nil
}

func (p *NullPlayer) Play(rate float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Pos = p.position()
	p.Playing = true
	p.Rate = rate
	p.since = time.Now()
	return nil
}

func (p *NullPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Pos = p.position()
	p.Playing = false
}

func (p *NullPlayer) Seek(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Pos = pos
	p.since = time.Now()
}

func (p *NullPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.URL = ""
	p.Playing = false
	p.Pos = 0
}

// State returns the loaded url and whether it is playing.
func (p *NullPlayer) State() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.URL, p.Playing
}

// Position reports the simulated playback position and Length.
func (p *NullPlayer) Position() (time.Duration, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position(), p.Length
}

func (p *NullPlayer) position() time.Duration {
	pos := p.Pos
	if p.Playing {
		rate := p.Rate
		if rate <= 0 {
			rate = 1
		}
		pos += time.Duration(float64(time.Since(p.since)) * rate)
	}
	if p.Length > 0 && pos > p.Length {
		pos = p.Length
	}
	return pos
}
