package telemetry

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultHighlightWindow   = 100 * time.Millisecond
	DefaultHighlightCapacity = 4096

	highlightTimestampLayout = "15:04:05"
)

type Highlight struct {
	Active    bool   `json:"active"`
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
}

type highlightEntry struct {
	state Highlight
	timer *time.Timer
	gen   uint64
}

// Highlighter flags a key as just updated and clears the flag once the window
// passes without another update for that key. Keys beyond the capacity are
// evicted least recently touched first, and their timers stopped.
type Highlighter struct {
	mu       sync.Mutex
	window   time.Duration
	entries  *lru.Cache[string, *highlightEntry]
	now      func() time.Time
	onChange func(key string, h Highlight)
	closed   bool
}

type HighlighterOption func(*Highlighter)

func WithClock(now func() time.Time) HighlighterOption {
	return func(h *Highlighter) {
		h.now = now
	}
}

// WithChangeHandler registers fn to receive every transition. fn runs after the
// highlighter is unlocked on the goroutine that caused the transition, so calls
// for different keys may overlap and a slow fn never holds up other touches.
func WithChangeHandler(fn func(key string, h Highlight)) HighlighterOption {
	return func(h *Highlighter) {
		h.onChange = fn
	}
}

func NewHighlighter(window time.Duration, capacity int, opts ...HighlighterOption) (*Highlighter, error) {
	if window <= 0 {
		window = DefaultHighlightWindow
	}
	if capacity <= 0 {
		capacity = DefaultHighlightCapacity
	}

	h := &Highlighter{
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	cache, err := lru.NewWithEvict[string, *highlightEntry](capacity, func(_ string, e *highlightEntry) {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("creating highlight cache: %w", err)
	}
	h.entries = cache

	return h, nil
}

// Touch marks key active and restarts its clear timer. A pending clear from an
// earlier touch is cancelled, so only the latest touch decides when the flag
// drops.
func (h *Highlighter) Touch(key, kind string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}

	e, ok := h.entries.Get(key)
	if !ok {
		e = &highlightEntry{}
		h.entries.Add(key, e)
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.state = Highlight{
		Active:    true,
		Timestamp: h.now().Format(highlightTimestampLayout),
		Kind:      kind,
	}
	e.timer = time.AfterFunc(h.window, func() {
		h.expire(key, e, gen)
	})
	state := e.state
	h.mu.Unlock()

	h.notify(key, state)
}

// expire clears the flag unless the entry was touched again, evicted or
// replaced since the timer was armed.
func (h *Highlighter) expire(key string, e *highlightEntry, gen uint64) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}

	current, ok := h.entries.Peek(key)
	if !ok || current != e || e.gen != gen {
		h.mu.Unlock()
		return
	}

	e.state.Active = false
	e.timer = nil
	state := e.state
	h.mu.Unlock()

	h.notify(key, state)
}

// notify must be called without h.mu held.
func (h *Highlighter) notify(key string, state Highlight) {
	if h.onChange != nil {
		h.onChange(key, state)
	}
}

func (h *Highlighter) Get(key string) (Highlight, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries.Peek(key)
	if !ok {
		return Highlight{}, false
	}
	return e.state, true
}

func (h *Highlighter) Snapshot() map[string]Highlight {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := make(map[string]Highlight, h.entries.Len())
	for _, k := range h.entries.Keys() {
		if e, ok := h.entries.Peek(k); ok {
			snapshot[k] = e.state
		}
	}
	return snapshot
}

func (h *Highlighter) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries.Len()
}

// Close stops every pending timer. Later touches are ignored.
func (h *Highlighter) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.entries.Purge()
}
