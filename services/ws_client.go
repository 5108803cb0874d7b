package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket connection constants
const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 512
)

// StreamServer bridges WebSocket connections to broadcaster subscribers.
type StreamServer struct {
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	maxClients  int

	mu      sync.Mutex
	clients int
}

// NewStreamServer creates the WebSocket endpoint handler.
func NewStreamServer(broadcaster *Broadcaster, maxClients int) *StreamServer {
	return &StreamServer{
		broadcaster: broadcaster,
		maxClients:  maxClients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// wsClient couples one WebSocket connection with its subscriber.
type wsClient struct {
	conn *websocket.Conn
	sub  *Subscriber
}

// HandleWebSocket upgrades the connection and attaches a subscriber. A new
// connection starts subscribed to all symbols until it sends a filter.
func (s *StreamServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	atCapacity := s.clients >= s.maxClients
	if !atCapacity {
		s.clients++
	}
	s.mu.Unlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		s.release()
		return
	}

	client := &wsClient{
		conn: conn,
		sub:  s.broadcaster.Subscribe(nil),
	}

	go client.writePump()
	go client.readPump(s)
}

func (s *StreamServer) release() {
	s.mu.Lock()
	if s.clients > 0 {
		s.clients--
	}
	s.mu.Unlock()
}

// ClientCount returns the number of connected WebSocket clients.
func (s *StreamServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients
}

// writePump forwards subscriber events to the connection as JSON envelopes.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				// Broadcaster closed the queue (shutdown or forced
				// disconnect after sustained overflow).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("Error marshaling stream event: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles filter commands from the client.
func (c *wsClient) readPump(s *StreamServer) {
	defer func() {
		s.broadcaster.Unsubscribe(c.sub)
		c.conn.Close()
		s.release()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var cmd struct {
			Action  string   `json:"action"`
			Symbols []string `json:"symbols"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.sub.AddSymbols(cmd.Symbols)
		case "unsubscribe":
			c.sub.RemoveSymbols(cmd.Symbols)
		case "subscribe_all":
			c.sub.SetFilter(nil)
		}
	}
}
