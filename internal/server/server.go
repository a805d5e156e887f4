// Package server exposes the engine over a websocket, so a browser page can
// act as the presentation layer.
//
// Each text message a client sends is one command envelope; the reply is
// the encoded response. After every command, all clients receive an
// "always" frame, a response holding only the always tag, so every open
// page shows the current push state.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultAddr is the default listen address.
const DefaultAddr = "127.0.0.1:8765"

// maxMessage bounds one command envelope.
const maxMessage = 1 << 20

// Executor runs commands; *engine.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, body string) *protocol.Response
	Always() (*protocol.Response, error)
	NeedsPush() bool
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default DefaultAddr); port 0 picks a free port
	Addr string

	// AllowedOrigins are host patterns accepted in the Origin header, in
	// addition to the server's own host
	AllowedOrigins []string

	Logger *zap.Logger
}

// Server manages websocket connections to one executor.
type Server struct {
	exec     Executor
	config   Config
	log      *zap.Logger
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan []byte

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a server for exec.
func New(exec Executor, config Config) *Server {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		exec:      exec,
		config:    config,
		log:       config.Logger.Named("server"),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 64),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.broadcastLoop()
	go func() {
		defer s.wg.Done()
		s.log.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", zap.Error(err))
		}
	}()
	return nil
}

// Done is closed when a client's command asks for shutdown.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Stop closes every connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	var err error
	if s.server != nil {
		if err = s.server.Shutdown(ctx); err != nil {
			err = fmt.Errorf("server shutdown error: %w", err)
		}
	}
	s.wg.Wait()
	s.log.Info("server stopped")
	return err
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.config.AllowedOrigins,
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessage)

	s.clientsMu.Lock()
	s.clients[conn] = true
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Info("client connected", zap.Int("clients", n), zap.String("remote", r.RemoteAddr))

	s.readLoop(conn)
}

// readLoop runs the commands a client sends until it disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			s.log.Debug("ignoring binary message")
			continue
		}

		resp := s.exec.Execute(s.ctx, string(data))
		out, err := resp.JSON()
		if err != nil {
			s.log.Error("failed to encode response", zap.Error(err))
			out, _ = protocol.ErrorResponse(err).JSON()
		}
		if err := s.write(conn, out); err != nil {
			s.log.Debug("failed to reply", zap.Error(err))
			return
		}

		if resp.Shutdown {
			s.log.Info("shutdown requested by client")
			s.doneOnce.Do(func() { close(s.done) })
			return
		}
		s.sendAlways()
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// sendAlways queues the always frame for every client.
func (s *Server) sendAlways() {
	resp, err := s.exec.Always()
	if err != nil {
		s.log.Debug("no always frame", zap.Error(err))
		return
	}
	data, err := resp.JSON()
	if err != nil {
		s.log.Error("failed to encode always frame", zap.Error(err))
		return
	}
	select {
	case s.broadcast <- data:
	case <-s.ctx.Done():
	default:
		s.log.Warn("broadcast channel full, dropping frame")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case data := <-s.broadcast:
			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := s.write(conn, data); err != nil {
					s.log.Debug("failed to send to client", zap.Error(err))
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	n := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.log.Info("client disconnected", zap.Int("clients", n))
}

type health struct {
	Status    string `json:"status"`
	NeedsPush bool   `json:"needs_push"`
	Clients   int    `json:"clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := health{Status: "ok", NeedsPush: s.exec.NeedsPush(), Clients: s.ClientCount()}
	select {
	case <-s.done:
		h.Status = "stopping"
	default:
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h)
}
