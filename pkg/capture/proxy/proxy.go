// Package proxy captures outgoing requests by acting as an HTTP forward proxy.
// Clients (browsers, CLIs) configured with this proxy have every request
// reported as a RawEvent; bodies are streamed through and never inspected.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/modoterra/reqlog/pkg/core"
)

// Source is a forward proxy capture source.
type Source struct {
	name   string
	listen string
	logger *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	onEvent  func(core.RawEvent)
	// tunnels holds both ends of every open CONNECT tunnel. http.Server.Close
	// does not reach hijacked connections.
	tunnels map[net.Conn]struct{}

	forward *httputil.ReverseProxy
	now     func() time.Time
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

// New creates a proxy source that will listen on addr once registered.
func New(name, addr string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		name:    name,
		listen:  addr,
		logger:  logger,
		now:     time.Now,
		dial:    (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		tunnels: make(map[net.Conn]struct{}),
	}
	s.forward = &httputil.ReverseProxy{
		// The incoming request already carries the absolute target URL.
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.Host = pr.In.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Debug("proxy forward error", "url", r.URL.String(), "err", err)
			http.Error(w, "proxy error: "+err.Error(), http.StatusBadGateway)
		},
	}
	return s
}

func (s *Source) Name() string { return s.name }

// Addr returns the bound listen address, or the configured one before Register.
func (s *Source) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.listen
}

// Register binds the listen address and starts serving.
func (s *Source) Register(_ context.Context, onEvent func(core.RawEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("%w: proxy listen %s: %v", core.ErrCaptureUnavailable, s.listen, err)
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
	}
	s.server = srv
	s.listener = ln
	s.onEvent = onEvent

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("proxy serve error", "source", s.name, "err", err)
		}
	}()
	s.logger.Info("proxy capture listening", "source", s.name, "addr", ln.Addr().String())
	return nil
}

// Deregister stops accepting requests and closes open tunnels.
func (s *Source) Deregister() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.onEvent = nil
	tunnels := s.tunnels
	s.tunnels = make(map[net.Conn]struct{})
	s.mu.Unlock()

	for c := range tunnels {
		c.Close()
	}
	if srv == nil {
		return nil
	}
	return srv.Close()
}

// track records an open tunnel end. It reports false, and closes c, once
// the source was deregistered.
func (s *Source) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		c.Close()
		return false
	}
	s.tunnels[c] = struct{}{}
	return true
}

func (s *Source) untrack(conns ...net.Conn) {
	s.mu.Lock()
	for _, c := range conns {
		delete(s.tunnels, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// OpenTunnels returns the number of CONNECT tunnels in flight.
func (s *Source) OpenTunnels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tunnels)
}

// ServeHTTP records the request and forwards it.
func (s *Source) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect && !r.URL.IsAbs() {
		http.Error(w, "reqlog proxy: only proxy requests are accepted", http.StatusBadRequest)
		return
	}

	s.emit(s.observe(r))

	if r.Method == http.MethodConnect {
		s.tunnel(w, r)
		return
	}
	s.forward.ServeHTTP(w, r)
}

func (s *Source) emit(raw core.RawEvent) {
	s.mu.Lock()
	fn := s.onEvent
	s.mu.Unlock()
	if fn != nil {
		fn(raw)
	}
}

// observe builds the RawEvent for r.
func (s *Source) observe(r *http.Request) core.RawEvent {
	target := r.URL.String()
	typ := ResourceType(r.Header)
	if r.Method == http.MethodConnect {
		target = connectURL(r.Host)
		typ = "other"
	}
	return core.RawEvent{
		core.RawInitiator: Initiator(r),
		core.RawMethod:    r.Method,
		core.RawTimeStamp: float64(s.now().UnixNano()) / 1e6,
		core.RawType:      typ,
		core.RawURL:       target,
	}
}

func (s *Source) tunnel(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	upstream, err := s.dial(r.Context(), "tcp", r.Host)
	if err != nil {
		http.Error(w, "proxy error: "+err.Error(), http.StatusBadGateway)
		return
	}

	client, buf, err := hj.Hijack()
	if err != nil {
		upstream.Close()
		return
	}
	if !s.track(upstream) || !s.track(client) {
		s.untrack(client, upstream)
		return
	}
	defer s.untrack(client, upstream)

	client.SetDeadline(time.Time{})
	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		// Flush anything the client sent after the CONNECT line.
		if n := buf.Reader.Buffered(); n > 0 {
			pending, _ := buf.Reader.Peek(n)
			upstream.Write(pending)
		}
		io.Copy(upstream, client)
		closeWrite(upstream)
	}()
	go func() {
		defer wg.Done()
		io.Copy(client, upstream)
		closeWrite(client)
	}()
	wg.Wait()
}

func closeWrite(c net.Conn) {
	if tc, ok := c.(interface{ CloseWrite() error }); ok {
		tc.CloseWrite()
	}
}

// Initiator returns the origin that triggered r: the Origin header, the
// Referer's origin, or the client's address.
func Initiator(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" && o != "null" {
		return o
	}
	if ref := r.Header.Get("Referer"); ref != "" {
		if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ResourceType classifies a request the way browsers label resource types.
func ResourceType(h http.Header) string {
	if strings.EqualFold(h.Get("Upgrade"), "websocket") {
		return "websocket"
	}
	switch h.Get("Sec-Fetch-Dest") {
	case "document":
		return "main_frame"
	case "iframe", "frame":
		return "sub_frame"
	case "script", "worker", "sharedworker", "serviceworker":
		return "script"
	case "style":
		return "stylesheet"
	case "image":
		return "image"
	case "font":
		return "font"
	case "audio", "video", "track":
		return "media"
	case "object", "embed":
		return "object"
	case "report":
		return "csp_report"
	case "empty":
		return "xmlhttprequest"
	}
	if h.Get("X-Requested-With") != "" {
		return "xmlhttprequest"
	}
	accept := h.Get("Accept")
	switch {
	case strings.Contains(accept, "text/html"):
		return "main_frame"
	case strings.Contains(accept, "text/css"):
		return "stylesheet"
	case strings.Contains(accept, "javascript"):
		return "script"
	case strings.HasPrefix(accept, "image/"):
		return "image"
	case strings.Contains(accept, "application/json"):
		return "xmlhttprequest"
	}
	return "other"
}

func connectURL(hostport string) string {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil || port == "443" {
		if err != nil {
			host = hostport
		}
		return "https://" + host
	}
	return "https://" + net.JoinHostPort(host, port)
}
