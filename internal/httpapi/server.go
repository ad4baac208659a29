// Package httpapi serves the JSON control surface of the portal: scan
// results, module status, credential submission and IP configuration. Page
// rendering is left to an optional handler mounted at the root.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shazow/wifiportal/portal"
)

// DefaultHostname is the name the portal answers to without redirecting.
const DefaultHostname = "wifiportal.local"

const shutdownTimeout = 2 * time.Second

// Options configures a Server.
type Options struct {
	// Hostname is served directly; other non-IP hosts are redirected to the
	// access point address.
	Hostname string
	// Logs returns recent log lines for /log.
	Logs func() []string
	// Pages serves everything that is not an API route, such as the setup
	// page itself. When nil, unknown paths return 404.
	Pages  http.Handler
	Logger *slog.Logger
}

// Server exposes a Portal over HTTP. Handlers never touch portal state
// directly; work is handed to the portal loop with Portal.Do.
type Server struct {
	portal   *portal.Portal
	hostname string
	logs     func() []string
	pages    http.Handler
	logger   *slog.Logger
}

// New returns a Server for p.
func New(p *portal.Portal, opts Options) *Server {
	s := &Server{
		portal:   p,
		hostname: opts.Hostname,
		logs:     opts.Logs,
		pages:    opts.Pages,
		logger:   opts.Logger,
	}
	if s.hostname == "" {
		s.hostname = DefaultHostname
	}
	if s.logs == nil {
		s.logs = func() []string { return nil }
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "http")
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/json_wifi_scan_result", s.handleScan)
	r.Get("/json_module_wifi_info", s.handleInfo)
	r.Post("/wifi_save", s.handleSave)
	r.Post("/exit_portal", s.handleExit)
	r.Get("/ip_status", s.handleIPStatus)
	r.Post("/ip_change", s.handleIPChange)
	r.Post("/factory_reset", s.handleReset)
	r.Get("/log", s.handleLog)

	r.NotFound(s.handleCaptive)
	return r
}

// Serve accepts connections on ln until ctx is done or the portal closes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("serving", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	case <-s.portal.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"host", r.Host,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

// do runs f on the portal loop, answering 503 if the portal is gone.
func (s *Server) do(w http.ResponseWriter, r *http.Request, f func(*portal.Portal)) bool {
	if err := s.portal.Do(r.Context(), f); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return false
	}
	return true
}

// handleCaptive redirects requests for foreign hosts to the portal, which is
// what triggers the sign-in prompt on most clients.
func (s *Server) handleCaptive(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if _, err := netip.ParseAddr(host); err == nil || host == s.hostname || host == "" {
		if s.pages != nil {
			s.pages.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
		return
	}

	target := s.hostname
	var addr netip.Addr
	if err := s.portal.Do(r.Context(), func(p *portal.Portal) {
		addr = p.Status().AccessPointAddr
	}); err == nil && addr.IsValid() {
		target = addr.String()
	}
	http.Redirect(w, r, "http://"+target+"/", http.StatusFound)
}
