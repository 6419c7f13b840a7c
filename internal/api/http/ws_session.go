package apihttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"moviestream/searchservice/internal/metrics"
	"moviestream/searchservice/internal/search"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 4096
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type wsInbound struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

type liveState struct {
	SessionID      string      `json:"sessionId"`
	Query          string      `json:"query"`
	UpcomingLoaded bool        `json:"upcomingLoaded"`
	Movies         []movieView `json:"movies"`
}

// wsClient is one live session connection. Every published session state is
// a full snapshot, so the outbound slot only ever holds the newest one.
type wsClient struct {
	hub     *wsHub
	conn    *websocket.Conn
	session *search.Session
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

type wsHub struct {
	clients    map[*wsClient]struct{}
	count      atomic.Int32
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger
}

func newWSHub(logger *slog.Logger) *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *wsHub) run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				h.drop(client)
			}
			h.logger.Debug("ws hub stopped, all clients disconnected")
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.count.Add(1)
			metrics.WSConnectionsActive.Inc()
			h.logger.Debug("ws client connected", slog.Int("total", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Debug("ws client disconnected", slog.Int("total", len(h.clients)))
			}
		}
	}
}

func (h *wsHub) drop(client *wsClient) {
	delete(h.clients, client)
	h.count.Add(-1)
	metrics.WSConnectionsActive.Dec()
	client.stop()
}

// add registers a client. It reports false once the hub is shutting down.
func (h *wsHub) add(client *wsClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *wsHub) remove(client *wsClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Close signals the hub to stop and disconnect all clients.
func (h *wsHub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

func (h *wsHub) clientCount() int {
	return int(h.count.Load())
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleLiveSession upgrades the request and binds a fresh search session to
// the socket until either side goes away.
func (s *Server) handleLiveSession(w http.ResponseWriter, r *http.Request) {
	if s.movies == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	session := s.movies.NewSession()
	if session == nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(2*time.Second),
		)
		_ = conn.Close()
		return
	}
	annotateRequest(r.Context(), slog.String("sessionId", session.ID()))

	client := &wsClient{
		hub:     s.hub,
		conn:    conn,
		session: session,
		send:    make(chan []byte, 1),
		done:    make(chan struct{}),
		logger:  s.logger.With(slog.String("sessionId", session.ID())),
	}
	if !s.hub.add(client) {
		session.Close()
		_ = conn.Close()
		return
	}

	cancel := session.OnChange(client.pushState)
	go client.writePump()
	go session.LoadUpcoming(context.Background())
	go client.readPump(cancel)
}

func (c *wsClient) pushState(state search.State) {
	payload, err := json.Marshal(wsMessage{
		Type: "state",
		Data: liveState{
			SessionID:      c.session.ID(),
			Query:          state.Query,
			UpcomingLoaded: state.UpcomingLoaded,
			Movies:         toMovieViews(state.EffectiveMovies()),
		},
	})
	if err != nil {
		c.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	for {
		select {
		case <-c.done:
			return
		case c.send <- payload:
			return
		default:
		}
		// Replace the unsent older snapshot.
		select {
		case <-c.send:
		default:
		}
	}
}

func (c *wsClient) stop() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump(cancelListener func()) {
	defer func() {
		cancelListener()
		c.session.Close()
		c.hub.remove(c)
		c.stop()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("ws read failed", slog.String("error", err.Error()))
			}
			return
		}
		var msg wsInbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Debug("ws message ignored", slog.String("error", err.Error()))
			continue
		}
		switch msg.Type {
		case "query":
			c.session.SetQuery(msg.Query)
		default:
			c.logger.Debug("ws message ignored", slog.String("type", msg.Type))
		}
	}
}
