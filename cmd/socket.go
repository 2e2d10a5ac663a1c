package cmd

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/andrewmarklloyd/device-monitor/internal/pkg/config"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsHub tracks plain websocket clients of /ws. Clients whose write fails are
// dropped.
type wsHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newWsHub() *wsHub {
	return &wsHub{
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (h *wsHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *wsHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		conn.Close()
	}
}

func (h *wsHub) broadcast(message config.WebsocketMessage) {
	jsonMessage, err := json.Marshal(message)
	if err != nil {
		logger.Errorf("marshalling websocket message: %s", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := writeMessage(conn, jsonMessage); err != nil {
			logger.Warnf("dropping websocket client: %s", err)
			delete(h.conns, conn)
			conn.Close()
		}
	}
}

func (h *wsHub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func writeMessage(conn *websocket.Conn, b []byte) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	writer, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err := writer.Write(b); err != nil {
		return err
	}
	return writer.Close()
}

func (s *WebServer) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("upgrading websocket connection: %s", err)
		return
	}

	msg, err := s.deviceListMessage()
	if err != nil {
		logger.Errorf("new websocket connection error: %s", err)
		conn.Close()
		return
	}

	jsonMessage, _ := json.Marshal(config.WebsocketMessage{
		Message: msg,
		Channel: config.DeviceListChannel,
	})
	if err := writeMessage(conn, jsonMessage); err != nil {
		logger.Errorf("writing websocket message: %s", err)
		conn.Close()
		return
	}

	s.hub.add(conn)

	// clients only listen, reading detects when they go away
	go func() {
		defer s.hub.remove(conn)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}
