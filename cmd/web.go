package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	gosocketio "github.com/ambelovsky/gosf-socketio"
	"github.com/ambelovsky/gosf-socketio/transport"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/clients"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/config"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/dashboard"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/report"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/telemetry"
	"github.com/dghubble/gologin/v2"
	"github.com/dghubble/gologin/v2/google"
	"github.com/dghubble/sessions"
	gmux "github.com/gorilla/mux"
	"golang.org/x/oauth2"
	googleOAuth2 "golang.org/x/oauth2/google"
)

const (
	sessionName    = "device-monitor"
	sessionUserKey = "5B1E7C2A-3F0D-4C8E-9A61-2D7F4E8B0C93"
	get            = "get"
	unauthPath     = "/unauth"
	staticPath     = "frontend/build"

	deviceListBroadcastInterval = 500 * time.Millisecond
)

var sessionStore *sessions.CookieStore

type WebServer struct {
	httpServer    *http.Server
	socketServer  *gosocketio.Server
	serverClients clients.ServerClients
	service       *dashboard.Service
	hub           *wsHub
	listChanged   atomic.Bool
}

var allowedAPIKeys []string

func newWebServer(serverConfig config.ServerConfig, clients clients.ServerClients, service *dashboard.Service) *WebServer {
	allowedAPIKeys = serverConfig.AllowedAPIKeys
	router := gmux.NewRouter().StrictSlash(true)
	socketServer := gosocketio.NewServer(transport.GetDefaultWebsocketTransport())

	w := &WebServer{
		serverClients: clients,
		socketServer:  socketServer,
		service:       service,
		hub:           newWsHub(),
	}
	socketServer.On(gosocketio.OnConnection, w.newSocketConnection)

	router.Handle("/socket.io/", socketServer)
	router.Handle("/ws", requireLogin(http.HandlerFunc(w.serveWs)))
	oauth2Config := &oauth2.Config{
		ClientID:     serverConfig.GoogleConfig.ClientId,
		ClientSecret: serverConfig.GoogleConfig.ClientSecret,
		RedirectURL:  serverConfig.GoogleConfig.RedirectURL,
		Endpoint:     googleOAuth2.Endpoint,
		Scopes:       []string{"profile", "email"},
	}
	sessionStore = sessions.NewCookieStore([]byte(serverConfig.GoogleConfig.SessionSecret), nil)
	stateConfig := gologin.DebugOnlyCookieConfig
	router.Handle("/health", http.HandlerFunc(healthHandler)).Methods(get)
	router.Handle("/api/devices", requireLogin(http.HandlerFunc(w.devicesHandler))).Methods(get)
	router.Handle("/api/devices/trailers", requireLogin(http.HandlerFunc(w.trailersHandler))).Methods(get)
	router.Handle("/api/devices/highlights", requireLogin(http.HandlerFunc(w.highlightsHandler))).Methods(get)
	router.Handle("/api/devices/stats", requireLogin(http.HandlerFunc(w.statsHandler))).Methods(get)
	router.Handle("/api/report", requireLogin(http.HandlerFunc(w.reportHandler))).Methods(get)
	router.Handle("/api/report/export", requireLogin(http.HandlerFunc(w.reportExportHandler))).Methods(get)
	router.Handle("/google/login", google.StateHandler(stateConfig, google.LoginHandler(oauth2Config, nil)))
	router.Handle("/google/callback", google.StateHandler(stateConfig, google.CallbackHandler(oauth2Config, issueSession(serverConfig), nil)))
	router.HandleFunc("/logout", logoutHandler)
	router.HandleFunc(unauthPath, unauthHandler).Methods(get)
	spa := spaHandler{
		staticPath: staticPath,
		indexPath:  "index.html",
	}
	router.PathPrefix("/").Handler(requireLogin(spa))

	srv := &http.Server{
		Handler:      router,
		Addr:         "0.0.0.0:" + serverConfig.Port,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	w.httpServer = srv
	return w
}

// parseDeviceQuery reads the search term and filters of a device list request.
func parseDeviceQuery(req *http.Request) (dashboard.Query, error) {
	query := req.URL.Query()
	q := dashboard.Query{
		Search: strings.TrimSpace(query.Get("search")),
		Filter: telemetry.Filter{
			RouterID: query.Get("router"),
		},
	}

	class := telemetry.Class(query.Get("class"))
	switch class {
	case "", telemetry.ClassDoor, telemetry.ClassButton, telemetry.ClassRadar:
		q.Filter.Class = class
	default:
		return dashboard.Query{}, fmt.Errorf("unknown device class '%s'", class)
	}

	return q, nil
}

func (s *WebServer) devicesHandler(w http.ResponseWriter, req *http.Request) {
	q, err := parseDeviceQuery(req)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"%s"}`, err), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.service.Devices(q))
}

func (s *WebServer) trailersHandler(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, map[string]interface{}{
		"trailers": s.service.Trailers(),
	})
}

func (s *WebServer) highlightsHandler(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, map[string]interface{}{
		"highlights": s.service.Highlights(),
	})
}

func (s *WebServer) statsHandler(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, s.service.Summary())
}

func (s *WebServer) reportHandler(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	topic := query.Get("topic")
	pageString := query.Get("page")
	page, err := strconv.Atoi(pageString)
	if err != nil || page < 0 {
		http.Error(w, "Page not found", http.StatusBadRequest)
		return
	}
	if topic == "" {
		http.Error(w, "Pass topic in request", http.StatusBadRequest)
		return
	}
	rows, numPages, err := s.serverClients.Postgres.GetRecords(topic, page)
	if err != nil {
		logger.Errorf("Error getting records: %s", err)
		http.Error(w, "Error getting report", http.StatusBadRequest)
		return
	}
	json, _ := json.Marshal(rows)
	fmt.Fprintf(w, `{"records":%s,"numPages":%d}`, string(json), numPages)
}

// reportExportHandler downloads the full history of a topic as a spreadsheet.
func (s *WebServer) reportExportHandler(w http.ResponseWriter, req *http.Request) {
	topic := req.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "Pass topic in request", http.StatusBadRequest)
		return
	}
	rows, err := s.serverClients.Postgres.GetTopicRows(topic)
	if err != nil {
		logger.Errorf("Error getting records for export: %s", err)
		http.Error(w, "Error getting report", http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteHistory(&buf, rows); err != nil {
		logger.Errorf("writing report export: %s", err)
		http.Error(w, "Error writing report", http.StatusInternalServerError)
		return
	}

	filename := strings.ReplaceAll(topic, "/", "_") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("marshalling response: %s", err)
		http.Error(w, `{"error":"marshalling response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

func (s *WebServer) deviceListMessage() (string, error) {
	j, err := json.Marshal(s.service.Devices(dashboard.Query{}))
	if err != nil {
		return "", fmt.Errorf("marshalling device list: %w", err)
	}
	return string(j), nil
}

func (s *WebServer) newSocketConnection(c *gosocketio.Channel) {
	msg, err := s.deviceListMessage()
	if err != nil {
		logger.Errorf("new socket connection error: %s", err)
		return
	}
	if err := c.Emit(config.DeviceListChannel, msg); err != nil {
		logger.Errorf("emitting device list to new socket connection: %s", err)
	}
}

// SendDeviceList pushes the unfiltered device list to every connected client.
func (s *WebServer) SendDeviceList() {
	msg, err := s.deviceListMessage()
	if err != nil {
		logger.Errorf("sending device list: %s", err)
		return
	}
	s.socketServer.BroadcastToAll(config.DeviceListChannel, msg)
	s.hub.broadcast(config.WebsocketMessage{
		Channel: config.DeviceListChannel,
		Message: msg,
	})
}

// MarkDeviceListChanged schedules a device list push for the next broadcast
// tick. Bursts of updates between ticks share one push.
func (s *WebServer) MarkDeviceListChanged() {
	s.listChanged.Store(true)
}

func (s *WebServer) flushDeviceList() bool {
	if !s.listChanged.CompareAndSwap(true, false) {
		return false
	}
	s.SendDeviceList()
	return true
}

// broadcastDeviceList pushes the device list at most once per interval, and
// only when it changed, until ctx is done.
func (s *WebServer) broadcastDeviceList(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushDeviceList()
		}
	}
}

func (s *WebServer) SendHighlight(key string, h telemetry.Highlight) {
	m := config.HighlightMessage{
		Key:       key,
		Active:    h.Active,
		Timestamp: h.Timestamp,
		Kind:      h.Kind,
	}
	s.socketServer.BroadcastToAll(config.DeviceHighlightChannel, m)

	j, _ := json.Marshal(m)
	s.hub.broadcast(config.WebsocketMessage{
		Channel: config.DeviceHighlightChannel,
		Message: string(j),
	})
}

// spaHandler implements the http.Handler interface, so we can use it
// to respond to HTTP requests. The path to the static directory and
// path to the index file within that static directory are used to
// serve the SPA in the given static directory.
type spaHandler struct {
	staticPath string
	indexPath  string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// get the absolute path to prevent directory traversal
	path, err := filepath.Abs(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	path = filepath.Join(h.staticPath, path)

	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		// file does not exist, serve index.html
		http.ServeFile(w, r, filepath.Join(h.staticPath, h.indexPath))
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.FileServer(http.Dir(h.staticPath)).ServeHTTP(w, r)
}

// issueSession issues a cookie session after successful Google login
func issueSession(serverConfig config.ServerConfig) http.Handler {
	fn := func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		googleUser, err := google.UserFromContext(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !authorizedUser(serverConfig.GoogleConfig.AuthorizedUsers, googleUser.Email) {
			logger.Warnf("Unauthorized login attempt from %s", googleUser.Email)
			http.Redirect(w, req, unauthPath, http.StatusFound)
			return
		}
		session := sessionStore.New(sessionName)
		session.Values[sessionUserKey] = googleUser.Id
		session.Values["user-email"] = googleUser.Email
		session.Save(w)
		http.Redirect(w, req, "/", http.StatusFound)
	}
	return http.HandlerFunc(fn)
}

// authorizedUser matches email against the comma separated list exactly.
func authorizedUser(authorizedUsers, email string) bool {
	if email == "" {
		return false
	}
	for _, u := range strings.Split(authorizedUsers, ",") {
		if strings.EqualFold(strings.TrimSpace(u), email) {
			return true
		}
	}
	return false
}

func logoutHandler(w http.ResponseWriter, req *http.Request) {
	sessionStore.Destroy(w, sessionName)
	http.Redirect(w, req, unauthPath, http.StatusFound)
}

func unauthHandler(w http.ResponseWriter, req *http.Request) {
	http.ServeFile(w, req, filepath.Join(staticPath, "unauth.html"))
}

// requireLogin redirects unauthenticated users to the login route.
func requireLogin(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, req *http.Request) {
		if !isAuthenticated(req) {
			http.Redirect(w, req, "/google/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, req)
	}
	return http.HandlerFunc(fn)
}

// isAuthenticated returns true if the user has a signed session cookie.
func isAuthenticated(req *http.Request) bool {
	if _, err := sessionStore.Get(req, sessionName); err == nil {
		return true
	}

	return validAPIKey(req.Header.Get("api-key"))
}

func healthHandler(w http.ResponseWriter, req *http.Request) {
	apiKey := req.Header.Get("api-key")

	if !validAPIKey(apiKey) {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}

	fmt.Fprintf(w, `{"version":"%s"}`, version)
}

func validAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}
	for _, key := range allowedAPIKeys {
		if key == apiKey {
			return true
		}
	}
	return false
}
