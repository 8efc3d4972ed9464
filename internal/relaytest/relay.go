// Package relaytest is an in-process relay for tests. It pairs one sender with
// one receiver by connection id and forwards control messages and binary
// frames between them the way the production relay does.
package relaytest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sheerbytes/relaydrop/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Filter may rewrite a control message from role before it is forwarded.
// Returning false drops the message.
type Filter func(fromRole string, msg protocol.Message) (protocol.Message, bool)

type frame struct {
	messageType int
	data        []byte
}

type client struct {
	id   string
	role string
	conn *websocket.Conn
	send chan frame
	done chan struct{}
	peer string
}

// Server is the relay. The zero value is not usable; call New.
type Server struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
	meta    map[string]protocol.FileMeta // sender id -> announced metadata
	filter  Filter
	seen    []string // control message types in arrival order
}

// New returns a relay with no connections.
func New(logger *slog.Logger) *Server {
	return &Server{
		logger:  logger,
		clients: make(map[string]*client),
		meta:    make(map[string]protocol.FileMeta),
	}
}

// Handler serves /ws and /file-meta.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/file-meta", s.handleFileMeta)
	return mux
}

// SetFilter installs f for every later control message.
func (s *Server) SetFilter(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}

// Seen returns the control message types the relay has received so far.
func (s *Server) Seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Drop cuts every connection of role without a close frame.
func (s *Server) Drop(role string) {
	s.mu.Lock()
	var conns []*websocket.Conn
	for _, c := range s.clients {
		if c.role == role {
			conns = append(conns, c.conn)
		}
	}
	s.mu.Unlock()
	for _, conn := range conns {
		conn.UnderlyingConn().Close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role != protocol.RoleSender && role != protocol.RoleReceiver {
		http.Error(w, "role must be sender or receiver", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		role: role,
		conn: conn,
		send: make(chan frame, 256),
		done: make(chan struct{}),
	}
	go c.writeLoop()

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Debug("client connected", "conn_id", c.id, "role", role)

	s.sendControl(c, protocol.Register{Success: true, ConnectionID: c.id})
	s.readLoop(c)
	s.remove(c)
}

func (s *Server) readLoop(c *client) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			s.forward(c, frame{messageType: websocket.BinaryMessage, data: data})
		case websocket.TextMessage:
			s.handleControl(c, data)
		}
	}
}

func (s *Server) handleControl(c *client, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warn("undecodable control message", "conn_id", c.id, "error", err)
		return
	}

	s.mu.Lock()
	s.seen = append(s.seen, msg.MessageType())
	filter := s.filter
	s.mu.Unlock()

	if filter != nil {
		var keep bool
		if msg, keep = filter(c.role, msg); !keep {
			return
		}
	}

	switch m := msg.(type) {
	case protocol.FileMeta:
		if c.role != protocol.RoleSender {
			return
		}
		s.mu.Lock()
		s.meta[c.id] = m
		s.mu.Unlock()

	case protocol.RecipientReady:
		if c.role != protocol.RoleReceiver {
			return
		}
		s.pair(c, m.SenderID)

	default:
		s.forwardControl(c, msg)
	}
}

// pair links receiver c with the sender it names and tells the sender.
func (s *Server) pair(c *client, senderID string) {
	s.mu.Lock()
	sender, ok := s.clients[senderID]
	if !ok || sender.role != protocol.RoleSender || sender.peer != "" || c.peer != "" {
		s.mu.Unlock()
		s.sendControl(c, protocol.Failure{Type: protocol.TypeRecipientReady, Message: "sender not found"})
		return
	}
	sender.peer = c.id
	c.peer = sender.id
	s.mu.Unlock()

	s.sendControl(sender, protocol.RecipientReady{RecipientID: c.id})
}

func (s *Server) forwardControl(from *client, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Warn("cannot forward control message", "type", msg.MessageType(), "error", err)
		return
	}
	s.forward(from, frame{messageType: websocket.TextMessage, data: data})
}

func (s *Server) forward(from *client, f frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from.peer == "" {
		return
	}
	if peer, ok := s.clients[from.peer]; ok {
		peer.send <- f
	}
}

func (s *Server) sendControl(to *client, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Warn("cannot encode control message", "type", msg.MessageType(), "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[to.id]; ok {
		to.send <- frame{messageType: websocket.TextMessage, data: data}
	}
}

// remove forgets c and tells its peer.
func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	delete(s.meta, c.id)
	close(c.send)
	if peer, ok := s.clients[c.peer]; ok && c.peer != "" {
		data, err := protocol.Encode(protocol.PeerDisconnected{PeerID: c.id})
		if err == nil {
			peer.send <- frame{messageType: websocket.TextMessage, data: data}
		}
		peer.peer = ""
	}
	s.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	c.conn.Close()
	s.logger.Debug("client disconnected", "conn_id", c.id, "role", c.role)
}

func (c *client) writeLoop() {
	defer close(c.done)
	for f := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(f.messageType, f.data); err != nil {
			// Keep draining so senders never block on a dead client.
			for range c.send {
			}
			return
		}
	}
}

func (s *Server) handleFileMeta(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "method not allowed"})
		return
	}

	senderID := r.URL.Query().Get("senderId")
	s.mu.Lock()
	meta, ok := s.meta[senderID]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "sender not found"})
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"name":     meta.Name,
		"size":     meta.Size,
		"mimeType": meta.MimeType,
	})
}
