// Package dashboard provides a real-time WebSocket feed of sync activity.
//
// The dashboard broadcasts chapter transfers, catalog changes, run summaries
// and catalog statistics to connected WebSocket clients, so a long collection
// sync or a watch session can be followed from a browser.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bookreader/chaptersync/internal/catalog/schema"
	"github.com/coder/websocket"
)

// MessageType tags each message so clients can route it.
type MessageType string

// Message types sent to clients.
const (
	MessageTypeChapterUpdate     MessageType = "chapter_update"     // one file pushed, skipped or failed
	MessageTypeSyncComplete      MessageType = "sync_complete"      // a book directory run ended
	MessageTypeReconcileItem     MessageType = "reconcile_item"     // one chapter re-measured
	MessageTypeReconcileComplete MessageType = "reconcile_complete" // a reconcile run ended
	MessageTypeStats             MessageType = "stats"              // catalog totals
)

// Message is the JSON envelope written to every client.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatsFunc reports current catalog statistics.
type StatsFunc func(ctx context.Context) (schema.Stats, error)

// Server fans sync events out to WebSocket clients.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	stats    StatsFunc
	logger   *log.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	outbox chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures a Server.
type Config struct {
	// Port is the TCP port; 0 asks the kernel for a free one.
	Port int

	// Stats feeds the snapshot each new client receives and the /stats
	// endpoint. Optional.
	Stats StatsFunc

	Logger *log.Logger
}

// outboxSize bounds the messages queued ahead of the fan-out loop.
const outboxSize = 100

// writeTimeout bounds a single write to one client.
const writeTimeout = 5 * time.Second

// DefaultConfig listens on port 8080 and logs to the standard logger.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// NewServer returns a Server that is not yet listening. A nil config
// selects DefaultConfig.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    fmt.Sprintf(":%d", config.Port),
		stats:   config.Stats,
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
		outbox:  make(chan Message, outboxSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start binds the listener and serves in the background. The bound address
// is available from Addr once Start returns.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/", s.handleIndex)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.fanOut()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Serve failed: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the HTTP server down, waiting up
// to five seconds for in-flight requests.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "dashboard stopping")
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down dashboard: %w", err)
	}
	s.wg.Wait()

	s.logger.Println("Stopped")
	return nil
}

// Broadcast queues msg for every client. It never blocks: when the queue is
// full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.outbox <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("WARNING: dashboard queue full, dropped %s message", msg.Type)
	}
}

// BroadcastData marshals data and broadcasts it under typ.
func (s *Server) BroadcastData(typ MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	s.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: raw})
}

func (s *Server) fanOut() {
	defer s.wg.Done()

	for {
		var msg Message
		select {
		case <-s.ctx.Done():
			return
		case msg = <-s.outbox:
		}

		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		data, err := json.Marshal(msg)
		if err != nil {
			s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
			continue
		}

		for _, conn := range s.snapshot() {
			if err := s.write(conn, data); err != nil {
				s.logger.Printf("Dropping client: %v", err)
				s.removeClient(conn)
			}
		}
	}
}

// snapshot copies the client set so writes happen without holding mu.
func (s *Server) snapshot() []*websocket.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	return conns
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket accept failed: %v", err)
		return
	}

	// Stats go out before registration so they are always the first message.
	if data, err := json.Marshal(s.statsMessage(r.Context())); err == nil {
		_ = s.write(conn, data)
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Printf("Client connected (%d open)", n)

	go s.drain(conn)
}

func (s *Server) statsMessage(ctx context.Context) Message {
	msg := Message{Type: MessageTypeStats, Timestamp: time.Now()}
	if s.stats == nil {
		return msg
	}
	stats, err := s.stats(ctx)
	if err != nil {
		s.logger.Printf("Failed to compute stats: %v", err)
		return msg
	}
	msg.Data, _ = json.Marshal(stats)
	return msg
}

// drain discards client frames until the connection closes.
func (s *Server) drain(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	n := len(s.clients)
	s.mu.Unlock()

	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (%d open)", n)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}
	stats, err := s.stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>chaptersync</title></head>
<body>
<h1>chaptersync dashboard</h1>
<ul>
<li>events: <code>ws://%s/ws</code></li>
<li>catalog totals: <a href="/stats">/stats</a></li>
<li>liveness: <a href="/health">/health</a></li>
</ul>
</body>
</html>`, r.Host)
}

// Addr returns the bound address after Start, or the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
