package client

import (
	"sync"

	"github.com/dchirkin/lessonlive/internal/domain"
	"github.com/dchirkin/lessonlive/internal/relay"
)

// Entry mirrors one remote connection handle as reported by the relay.
type Entry struct {
	ConnectionID  relay.ConnID
	DisplayName   string
	ParticipantID domain.ParticipantID
}

// Presence is the local cache of room occupants, rebuilt purely from
// relay events. The self entry is set once at join and never removed.
type Presence struct {
	mu      sync.Mutex
	self    Entry
	hasSelf bool
	order   []relay.ConnID
	entries map[relay.ConnID]Entry
}

func NewPresence() *Presence {
	return &Presence{entries: make(map[relay.ConnID]Entry)}
}

func (p *Presence) SetSelf(e Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.self = e
	p.hasSelf = true
}

func (p *Presence) Add(e Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[e.ConnectionID]; !ok {
		p.order = append(p.order, e.ConnectionID)
	}
	p.entries[e.ConnectionID] = e
}

func (p *Presence) Remove(id relay.ConnID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[id]; !ok {
		return
	}
	delete(p.entries, id)
	for i, o := range p.order {
		if o == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Snapshot lists the self entry first, then remotes in arrival order.
func (p *Presence) Snapshot() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, 0, len(p.order)+1)
	if p.hasSelf {
		out = append(out, p.self)
	}
	for _, id := range p.order {
		out = append(out, p.entries[id])
	}
	return out
}
