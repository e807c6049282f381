package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// HandlerFunc processes a request and returns a response data payload or error.
type HandlerFunc func(ctx context.Context, req Message) (any, error)

// writeTimeout bounds a single write to a client. A client that cannot take a
// line within it is dropped so one stuck View cannot stall the daemon.
const writeTimeout = 2 * time.Second

// ErrSocketInUse is returned by Start when another daemon answers on the socket.
var ErrSocketInUse = errors.New("socket in use by a running daemon")

// Server serves reqlog commands on a Unix domain socket and pushes log,
// capture and persistence events to every connected View.
type Server struct {
	socketPath string
	logger     *slog.Logger
	handlers   map[string]HandlerFunc

	mu       sync.RWMutex
	listener net.Listener
	clients  map[*peer]struct{}

	ready     chan struct{}
	readyOnce sync.Once
}

// peer is one connected client. Responses and pushed events share the
// connection, so each line is written under wmu.
type peer struct {
	conn net.Conn
	wmu  sync.Mutex
}

func (p *peer) writeLine(line []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := p.conn.Write(line)
	return err
}

// NewServer creates a server for socketPath. Handlers must be registered
// before Start.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		logger:     logger,
		handlers:   make(map[string]HandlerFunc),
		clients:    make(map[*peer]struct{}),
		ready:      make(chan struct{}),
	}
}

// Handle registers a handler for a method.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.handlers[method] = h
}

// Start listens on the socket and serves until ctx is cancelled. A socket
// file left behind by a dead daemon is replaced; one that still answers is
// reported as ErrSocketInUse.
func (s *Server) Start(ctx context.Context) error {
	if err := s.claimSocket(); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("control socket listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", "err", err)
			continue
		}
		p := &peer{conn: conn}
		s.mu.Lock()
		s.clients[p] = struct{}{}
		s.mu.Unlock()
		s.logger.Debug("view connected", "clients", s.Clients())
		go s.serve(ctx, p)
	}
}

func (s *Server) claimSocket() error {
	if _, err := os.Stat(s.socketPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if conn, err := net.DialTimeout("unix", s.socketPath, 200*time.Millisecond); err == nil {
		conn.Close()
		return fmt.Errorf("%s: %w", s.socketPath, ErrSocketInUse)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

// SocketPath returns the socket the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Ready is closed once the socket accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast sends an event to all connected clients. Clients whose write
// fails are disconnected.
func (s *Server) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("broadcast marshal error", "method", msg.Method, "err", err)
		return
	}
	line := append(data, '\n')

	s.mu.RLock()
	peers := make([]*peer, 0, len(s.clients))
	for p := range s.clients {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	for _, p := range peers {
		if err := p.writeLine(line); err != nil {
			s.logger.Warn("dropping view", "method", msg.Method, "err", err)
			p.conn.Close()
		}
	}
}

// Publish encodes data as an event and broadcasts it.
func (s *Server) Publish(method string, data any) {
	evt, err := NewEvent(method, data)
	if err != nil {
		s.logger.Error("encode event", "method", method, "err", err)
		return
	}
	s.Broadcast(evt)
}

// PublishLogChanged tells every View the log was mutated.
func (s *Server) PublishLogChanged(e LogChangedEvent) {
	s.Publish(EventLogChanged, e)
}

// PublishPersistError tells every View the durable store rejected a write.
func (s *Server) PublishPersistError(e PersistErrorEvent) {
	s.Publish(EventPersistError, e)
}

// PublishCaptureChanged tells every View capture started or stopped.
func (s *Server) PublishCaptureChanged(e CaptureChangedEvent) {
	s.Publish(EventCaptureChanged, e)
}

// Shutdown closes the listener and every client, then removes the socket.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for p := range s.clients {
		p.conn.Close()
	}
	s.mu.Unlock()
	os.Remove(s.socketPath)
}

func (s *Server) serve(ctx context.Context, p *peer) {
	defer func() {
		p.conn.Close()
		s.mu.Lock()
		delete(s.clients, p)
		s.mu.Unlock()
	}()

	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Warn("invalid message", "err", err)
			continue
		}
		if msg.Type != MsgTypeReq {
			continue
		}
		if err := s.reply(p, s.dispatch(ctx, msg)); err != nil {
			s.logger.Warn("write response", "method", msg.Method, "err", err)
			return
		}
	}
}

// dispatch runs the handler for msg and wraps its result as a response.
func (s *Server) dispatch(ctx context.Context, msg Message) Message {
	handler, ok := s.handlers[msg.Method]
	if !ok {
		return NewErrorResponse(msg.ID, msg.Method, fmt.Sprintf("unknown method: %s", msg.Method))
	}
	result, err := handler(ctx, msg)
	if err != nil {
		return NewErrorResponse(msg.ID, msg.Method, err.Error())
	}
	resp, err := NewResponse(msg.ID, msg.Method, result)
	if err != nil {
		return NewErrorResponse(msg.ID, msg.Method, fmt.Sprintf("encode response: %v", err))
	}
	return resp
}

func (s *Server) reply(p *peer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	return p.writeLine(append(data, '\n'))
}
