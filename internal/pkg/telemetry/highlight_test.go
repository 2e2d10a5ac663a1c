package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transitions struct {
	mu   sync.Mutex
	seen []bool
}

func (tr *transitions) record(_ string, h Highlight) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.seen = append(tr.seen, h.Active)
}

func (tr *transitions) values() []bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]bool(nil), tr.seen...)
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 14, 5, 9, 0, time.UTC)
}

func TestHighlighter_TouchThenExpire(t *testing.T) {
	h, err := NewHighlighter(30*time.Millisecond, 10, WithClock(fixedClock))
	require.NoError(t, err)
	defer h.Close()

	h.Touch("R1/D1", "mqtt")

	state, ok := h.Get("R1/D1")
	require.True(t, ok)
	assert.True(t, state.Active)
	assert.Equal(t, "14:05:09", state.Timestamp)
	assert.Equal(t, "mqtt", state.Kind)

	require.Eventually(t, func() bool {
		s, _ := h.Get("R1/D1")
		return !s.Active
	}, time.Second, 5*time.Millisecond)

	state, ok = h.Get("R1/D1")
	require.True(t, ok)
	assert.Equal(t, "14:05:09", state.Timestamp)
	assert.Equal(t, "mqtt", state.Kind)
}

func TestHighlighter_RetouchResetsWindow(t *testing.T) {
	tr := &transitions{}
	h, err := NewHighlighter(time.Second, 10, WithChangeHandler(tr.record))
	require.NoError(t, err)
	defer h.Close()

	// the check lands past the first touch's window and well inside the second's
	h.Touch("R1/D1", "mqtt")
	time.Sleep(400 * time.Millisecond)
	h.Touch("R1/D1", "mqtt")
	time.Sleep(700 * time.Millisecond)

	state, _ := h.Get("R1/D1")
	assert.True(t, state.Active, "second touch should extend the window")

	require.Eventually(t, func() bool {
		s, _ := h.Get("R1/D1")
		return !s.Active
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, []bool{true, true, false}, tr.values())
}

func TestHighlighter_SlowHandlerDoesNotBlockOtherKeys(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h, err := NewHighlighter(10*time.Millisecond, 10, WithChangeHandler(func(key string, hl Highlight) {
		if key == "a" && !hl.Active {
			once.Do(func() { close(blocked) })
			<-release
		}
	}))
	require.NoError(t, err)
	defer h.Close()
	defer close(release)

	h.Touch("a", "mqtt")
	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("handler for a never ran")
	}

	done := make(chan struct{})
	go func() {
		h.Touch("b", "mqtt")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("touching b waited on the handler for a")
	}

	state, ok := h.Get("b")
	require.True(t, ok)
	assert.True(t, state.Active)
	state, ok = h.Get("a")
	require.True(t, ok)
	assert.False(t, state.Active)
}

func TestHighlighter_KeysAreIndependent(t *testing.T) {
	h, err := NewHighlighter(30*time.Millisecond, 10)
	require.NoError(t, err)
	defer h.Close()

	h.Touch("R1/D1", "mqtt")
	h.Touch("R1/D2", "mqtt")

	snapshot := h.Snapshot()
	assert.Len(t, snapshot, 2)
	assert.True(t, snapshot["R1/D1"].Active)
	assert.True(t, snapshot["R1/D2"].Active)

	require.Eventually(t, func() bool {
		s := h.Snapshot()
		return !s["R1/D1"].Active && !s["R1/D2"].Active
	}, time.Second, 5*time.Millisecond)
}

func TestHighlighter_EvictsLeastRecentlyTouched(t *testing.T) {
	h, err := NewHighlighter(time.Hour, 2)
	require.NoError(t, err)
	defer h.Close()

	h.Touch("a", "mqtt")
	h.Touch("b", "mqtt")
	h.Touch("a", "mqtt")
	h.Touch("c", "mqtt")

	assert.Equal(t, 2, h.Len())
	_, ok := h.Get("b")
	assert.False(t, ok)
	_, ok = h.Get("a")
	assert.True(t, ok)
	_, ok = h.Get("c")
	assert.True(t, ok)
}

func TestHighlighter_CloseStopsTimers(t *testing.T) {
	tr := &transitions{}
	h, err := NewHighlighter(20*time.Millisecond, 10, WithChangeHandler(tr.record))
	require.NoError(t, err)

	h.Touch("R1/D1", "mqtt")
	h.Close()
	h.Touch("R1/D2", "mqtt")
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, []bool{true}, tr.values())
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Snapshot())

	h.Close()
}

func TestHighlighter_Defaults(t *testing.T) {
	h, err := NewHighlighter(0, 0)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, DefaultHighlightWindow, h.window)
	_, ok := h.Get("missing")
	assert.False(t, ok)
}
