package reader

import "sync"

// Ticket tags an asynchronous request so a late completion can be recognized.
type Ticket struct {
	Slot string
	Seq  uint64
}

// Tickets hands out one live ticket per slot. Issuing a new ticket for a slot
// invalidates the previous one.
type Tickets struct {
	mu   sync.Mutex
	seq  uint64
	live map[string]uint64
}

// Issue returns a fresh ticket for slot.
func (t *Tickets) Issue(slot string) Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live == nil {
		t.live = make(map[string]uint64)
	}
	t.seq++
	t.live[slot] = t.seq
	return Ticket{Slot: slot, Seq: t.seq}
}

// Current reports whether tk is still the live ticket for its slot.
func (t *Tickets) Current(tk Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return tk.Seq != 0 && t.live[tk.Slot] == tk.Seq
}

// Revoke invalidates whatever ticket is live for slot.
func (t *Tickets) Revoke(slot string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.live, slot)
}
