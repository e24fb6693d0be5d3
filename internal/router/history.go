package router

import (
	"sort"
	"sync"

	"github.com/rickgao/marketfeed/internal/buffer"
)

// History retains the most recent ticks for each security.
type History struct {
	size int

	mu     sync.RWMutex
	series map[string]*buffer.Window[TickMsg]
}

// NewHistory creates a history keeping size ticks per security.
func NewHistory(size int) *History {
	return &History{
		size:   size,
		series: make(map[string]*buffer.Window[TickMsg]),
	}
}

// Add records a tick.
func (h *History) Add(msg TickMsg) {
	h.mu.RLock()
	w, ok := h.series[msg.Security]
	h.mu.RUnlock()

	if !ok {
		h.mu.Lock()
		if w, ok = h.series[msg.Security]; !ok {
			w = buffer.NewWindow[TickMsg](h.size)
			h.series[msg.Security] = w
		}
		h.mu.Unlock()
	}
	w.Add(msg)
}

// Latest returns the newest tick for security.
func (h *History) Latest(security string) (TickMsg, bool) {
	h.mu.RLock()
	w, ok := h.series[security]
	h.mu.RUnlock()
	if !ok {
		return TickMsg{}, false
	}
	return w.Latest()
}

// Snapshot returns the retained ticks for security, oldest first.
func (h *History) Snapshot(security string) []TickMsg {
	h.mu.RLock()
	w, ok := h.series[security]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return w.Snapshot()
}

// Securities returns every security seen so far, sorted.
func (h *History) Securities() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.series))
	for s := range h.series {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
