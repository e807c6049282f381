// Package httpapi exposes the daemon's commands over HTTP for scripts and
// browser tooling that cannot reach the control socket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/modoterra/reqlog/pkg/csvexport"
	"github.com/modoterra/reqlog/pkg/transport/uds"
)

// Commands is the subset of the daemon served over HTTP.
type Commands interface {
	Status() uds.StatusResponse
	Snapshot() uds.SnapshotResponse
	StartCapture(ctx context.Context) uds.CommandResponse
	StopCapture(ctx context.Context) uds.CommandResponse
	SetCapacity(ctx context.Context, n int) uds.CommandResponse
	Clear(ctx context.Context) uds.CommandResponse
	ExportCSV() uds.ExportResponse
}

// Server serves the command API on a TCP address.
type Server struct {
	addr   string
	srv    *http.Server
	logger *slog.Logger
	now    func() time.Time
}

// New creates an HTTP server for cmds.
func New(addr string, cmds Commands, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{addr: addr, logger: logger, now: time.Now}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(cmds),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.logger.Info("http api listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router builds the chi router for cmds.
func (s *Server) Router(cmds Commands) *chi.Mux {
	h := &handlers{cmds: cmds, now: s.now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/log", h.snapshot)
		r.Get("/log.csv", h.exportCSV)
		r.Delete("/log", h.clear)
		r.Put("/capacity", h.setCapacity)
		r.Post("/capture/start", h.startCapture)
		r.Post("/capture/stop", h.stopCapture)
	})
	return r
}

type handlers struct {
	cmds Commands
	now  func() time.Time
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cmds.Status())
}

func (h *handlers) snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cmds.Snapshot())
}

// exportCSV answers 204 for an empty log so clients never save an empty file.
func (h *handlers) exportCSV(w http.ResponseWriter, r *http.Request) {
	out := h.cmds.ExportCSV()
	if out.Empty {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, csvexport.FileName(h.now())))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(out.CSV))
}

func (h *handlers) clear(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cmds.Clear(r.Context()))
}

type capacityBody struct {
	Capacity *int `json:"capacity"`
}

func (h *handlers) setCapacity(w http.ResponseWriter, r *http.Request) {
	var body capacityBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "capacity must be an integer: "+err.Error())
		return
	}
	if body.Capacity == nil {
		writeError(w, http.StatusBadRequest, "capacity is required")
		return
	}
	writeJSON(w, http.StatusOK, h.cmds.SetCapacity(r.Context(), *body.Capacity))
}

func (h *handlers) startCapture(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cmds.StartCapture(r.Context()))
}

func (h *handlers) stopCapture(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cmds.StopCapture(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
