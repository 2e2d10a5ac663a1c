package dashboard

import (
	"testing"
	"time"

	"github.com/andrewmarklloyd/device-monitor/internal/pkg/feed"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := zap.NewNop().Sugar()
	h, err := telemetry.NewHighlighter(time.Hour, 100)
	require.NoError(t, err)

	s := NewService(feed.New(100), telemetry.NewClassifier(logger, time.UTC), h, logger)
	t.Cleanup(s.Close)
	return s
}

func ingest(t *testing.T, s *Service, topic, payload string) {
	t.Helper()
	r, err := telemetry.Decode(topic, []byte(payload), time.Now())
	require.NoError(t, err)
	s.Ingest(r)
}

func seedDevices(t *testing.T, s *Service) {
	ingest(t, s, "gwB/sensor2", `{"heart":70,"uid":"RADAR-S2"}`)
	ingest(t, s, "gwA/b1", `{"address":"BTN-Lobby","elementType":"2"}`)
	ingest(t, s, "gwB/room7", `{"heart":65,"uid":"RADAR-R7"}`)
	ingest(t, s, "gwA/d1", `{"address":"DOOR-Front","elementType":"3"}`)
	ingest(t, s, "gwA/ALIVE", `{"address":"DOOR-Front","elementType":"3"}`)
	ingest(t, s, "tt1/n1", `{"sensor_node5":{},"timetbl":"2024-01-01T00:00:00Z"}`)
	ingest(t, s, "tt1/n2", `{"sensor_node5":{},"timetbl":"2024-02-01T00:00:00Z"}`)
}

func keys(devices []telemetry.Device) []string {
	out := []string{}
	for _, d := range devices {
		out = append(out, d.Key())
	}
	return out
}

func TestService_DevicesOrder(t *testing.T) {
	s := newTestService(t)
	seedDevices(t, s)

	view := s.Devices(Query{})

	assert.Equal(t, []string{"gwA/d1", "gwA/b1", "gwB/room7", "gwB/sensor2"}, keys(view.Devices))
	assert.Equal(t, 4, view.Total)
	assert.False(t, view.NotFound)
}

func TestService_DevicesSearch(t *testing.T) {
	s := newTestService(t)
	seedDevices(t, s)

	view := s.Devices(Query{Search: "radar-r"})
	assert.Equal(t, []string{"gwB/room7"}, keys(view.Devices))
	assert.False(t, view.NotFound)

	view = s.Devices(Query{Search: "missing"})
	assert.True(t, view.NotFound)
	assert.Equal(t, 4, view.Total)
}

func TestService_DevicesFilter(t *testing.T) {
	s := newTestService(t)
	seedDevices(t, s)

	view := s.Devices(Query{Filter: telemetry.Filter{RouterID: "gwA"}})
	assert.Equal(t, []string{"gwA/d1", "gwA/b1"}, keys(view.Devices))

	view = s.Devices(Query{Filter: telemetry.Filter{Class: telemetry.ClassRadar}, Search: "sensor"})
	assert.True(t, view.NotFound)
	assert.Equal(t, []string{"gwB/room7", "gwB/sensor2"}, keys(view.Devices))
}

func TestService_Trailers(t *testing.T) {
	s := newTestService(t)
	seedDevices(t, s)

	trailers := s.Trailers()
	require.Len(t, trailers, 1)
	assert.Equal(t, "tt1/n2", trailers[0].TopicID)
}

func TestService_IngestHighlights(t *testing.T) {
	s := newTestService(t)
	seedDevices(t, s)

	highlights := s.Highlights()
	assert.Len(t, highlights, 6)
	assert.True(t, highlights["gwB/room7"].Active)
	assert.Equal(t, "mqtt", highlights["gwB/room7"].Kind)
	assert.NotContains(t, highlights, "gwA/ALIVE")

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, "tt1/n2", latest.TopicID)
}

func TestService_HighlightsKeyedLikeDevices(t *testing.T) {
	s := newTestService(t)
	ingest(t, s, "gwC/dev9/extra", `{"address":"DOOR-Back","elementType":"3"}`)
	ingest(t, s, "broken", `{"address":"DOOR-Side","elementType":"3"}`)
	ingest(t, s, "gwC/JOINCNF", `{"heart":1}`)

	view := s.Devices(Query{})
	require.Len(t, view.Devices, 1)

	highlights := s.Highlights()
	assert.Len(t, highlights, 1)
	h, ok := highlights[view.Devices[0].Key()]
	require.True(t, ok)
	assert.Equal(t, "gwC/dev9", view.Devices[0].Key())
	assert.True(t, h.Active)

	assert.Len(t, s.feed.Records(), 3)
}

func TestService_Summary(t *testing.T) {
	s := newTestService(t)
	seedDevices(t, s)

	summary := s.Summary()
	assert.Equal(t, 1, summary.Doors)
	assert.Equal(t, 1, summary.Buttons)
	assert.Equal(t, 2, summary.Radar)
	assert.Equal(t, 2, summary.TubeTrailers)
	assert.Equal(t, 1, summary.Control)
}
