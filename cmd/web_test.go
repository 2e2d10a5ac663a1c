package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gosocketio "github.com/ambelovsky/gosf-socketio"
	"github.com/ambelovsky/gosf-socketio/transport"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/config"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/dashboard"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/feed"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/telemetry"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestWebServer(t *testing.T) *WebServer {
	t.Helper()
	logger = zap.NewNop().Sugar()

	h, err := telemetry.NewHighlighter(time.Hour, 100)
	require.NoError(t, err)
	service := dashboard.NewService(feed.New(100), telemetry.NewClassifier(logger, time.UTC), h, logger)
	t.Cleanup(service.Close)

	for topic, payload := range map[string]string{
		"gwA/d1":    `{"address":"DOOR-Front","elementType":"3"}`,
		"gwA/b1":    `{"address":"BTN-Lobby","elementType":"2"}`,
		"gwB/room7": `{"heart":65,"uid":"RADAR-R7"}`,
		"tt1/n1":    `{"sensor_node5":{},"timetbl":"2024-01-01T00:00:00Z"}`,
	} {
		r, err := telemetry.Decode(topic, []byte(payload), time.Now())
		require.NoError(t, err)
		service.Ingest(r)
	}

	return &WebServer{
		socketServer: gosocketio.NewServer(transport.GetDefaultWebsocketTransport()),
		service:      service,
		hub:          newWsHub(),
	}
}

func Test_DevicesHandler(t *testing.T) {
	s := newTestWebServer(t)

	rec := httptest.NewRecorder()
	s.devicesHandler(rec, httptest.NewRequest(http.MethodGet, "/api/devices?router=gwA", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var view struct {
		Devices []struct {
			TopicID string `json:"topic_id"`
			Label   string `json:"label"`
		} `json:"devices"`
		Total    int  `json:"total"`
		NotFound bool `json:"not_found"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Devices, 2)
	assert.Equal(t, "gwA/d1", view.Devices[0].TopicID)
	assert.Equal(t, "door", view.Devices[0].Label)
	assert.Equal(t, "button", view.Devices[1].Label)
	assert.Equal(t, 2, view.Total)
	assert.False(t, view.NotFound)
}

func Test_DevicesHandlerSearchNotFound(t *testing.T) {
	s := newTestWebServer(t)

	rec := httptest.NewRecorder()
	s.devicesHandler(rec, httptest.NewRequest(http.MethodGet, "/api/devices?search=nothing", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"not_found":true`)
	assert.Contains(t, rec.Body.String(), `"total":3`)
}

func Test_DevicesHandlerBadClass(t *testing.T) {
	s := newTestWebServer(t)

	rec := httptest.NewRecorder()
	s.devicesHandler(rec, httptest.NewRequest(http.MethodGet, "/api/devices?class=toaster", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_ParseDeviceQuery(t *testing.T) {
	q, err := parseDeviceQuery(httptest.NewRequest(http.MethodGet, "/api/devices?search=%20DOOR%20&class=radar&router=gw1", nil))
	require.NoError(t, err)
	assert.Equal(t, "DOOR", q.Search)
	assert.Equal(t, telemetry.ClassRadar, q.Filter.Class)
	assert.Equal(t, "gw1", q.Filter.RouterID)

	_, err = parseDeviceQuery(httptest.NewRequest(http.MethodGet, "/api/devices?class=tube_trailer", nil))
	assert.Error(t, err)
}

func Test_TrailersAndStatsHandlers(t *testing.T) {
	s := newTestWebServer(t)

	rec := httptest.NewRecorder()
	s.trailersHandler(rec, httptest.NewRequest(http.MethodGet, "/api/devices/trailers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"topic_id":"tt1/n1"`)

	rec = httptest.NewRecorder()
	s.statsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/devices/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary telemetry.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Doors)
	assert.Equal(t, 1, summary.Buttons)
	assert.Equal(t, 1, summary.Radar)
	assert.Equal(t, 1, summary.TubeTrailers)

	rec = httptest.NewRecorder()
	s.highlightsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/devices/highlights", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"gwA/d1":{"active":true`)
}

func Test_ReportHandlerValidation(t *testing.T) {
	s := newTestWebServer(t)

	rec := httptest.NewRecorder()
	s.reportHandler(rec, httptest.NewRequest(http.MethodGet, "/api/report?topic=gwA/d1&page=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.reportHandler(rec, httptest.NewRequest(http.MethodGet, "/api/report?page=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_HealthHandler(t *testing.T) {
	logger = zap.NewNop().Sugar()
	allowedAPIKeys = []string{"abc"}
	defer func() { allowedAPIKeys = nil }()

	rec := httptest.NewRecorder()
	healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("api-key", "abc")
	rec = httptest.NewRecorder()
	healthHandler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"version":"unknown"}`, rec.Body.String())
}

func Test_AuthorizedUser(t *testing.T) {
	users := "ops@example.com, lead@example.com"
	assert.True(t, authorizedUser(users, "lead@example.com"))
	assert.True(t, authorizedUser(users, "OPS@example.com"))
	assert.False(t, authorizedUser(users, "example.com"))
	assert.False(t, authorizedUser(users, ""))
}

func Test_WebsocketReceivesListAndHighlights(t *testing.T) {
	s := newTestWebServer(t)
	srv := httptest.NewServer(http.HandlerFunc(s.serveWs))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg config.WebsocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, config.DeviceListChannel, msg.Channel)
	assert.Contains(t, msg.Message, "DOOR-Front")

	require.Eventually(t, func() bool { return s.hub.len() == 1 }, time.Second, 5*time.Millisecond)

	s.SendHighlight("gwA/d1", telemetry.Highlight{Active: true, Timestamp: "10:00:00", Kind: "mqtt"})
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, config.DeviceHighlightChannel, msg.Channel)

	var h config.HighlightMessage
	require.NoError(t, json.Unmarshal([]byte(msg.Message), &h))
	assert.Equal(t, "gwA/d1", h.Key)
	assert.True(t, h.Active)
	assert.Equal(t, "10:00:00", h.Timestamp)
}

func dialTestWs(t *testing.T, s *WebServer) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(s.serveWs))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var msg config.WebsocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Eventually(t, func() bool { return s.hub.len() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func Test_DeviceListChangesCoalesce(t *testing.T) {
	s := newTestWebServer(t)
	conn := dialTestWs(t, s)

	assert.False(t, s.flushDeviceList(), "nothing changed yet")

	s.MarkDeviceListChanged()
	s.MarkDeviceListChanged()
	s.MarkDeviceListChanged()
	assert.True(t, s.flushDeviceList())
	assert.False(t, s.flushDeviceList())

	var msg config.WebsocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, config.DeviceListChannel, msg.Channel)

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	assert.Error(t, conn.ReadJSON(&msg), "three changes should produce a single push")
}

func Test_BroadcastDeviceListStopsWithContext(t *testing.T) {
	s := newTestWebServer(t)
	conn := dialTestWs(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.broadcastDeviceList(ctx, 10*time.Millisecond)
		close(done)
	}()

	s.MarkDeviceListChanged()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg config.WebsocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, config.DeviceListChannel, msg.Channel)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcaster kept running after cancel")
	}
}

func Test_ReportExportRequiresTopic(t *testing.T) {
	s := newTestWebServer(t)

	rec := httptest.NewRecorder()
	s.reportExportHandler(rec, httptest.NewRequest(http.MethodGet, "/api/report/export", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
