// Package server hosts the editor: the host page, one WebSocket session per
// open editor tab, the sandboxed preview documents and the health and
// metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/conneroisu/playpen/internal/auth"
	"github.com/conneroisu/playpen/internal/buffer"
	"github.com/conneroisu/playpen/internal/config"
	"github.com/conneroisu/playpen/internal/editor"
	"github.com/conneroisu/playpen/internal/errors"
	"github.com/conneroisu/playpen/internal/logging"
	"github.com/conneroisu/playpen/internal/metrics"
	"github.com/conneroisu/playpen/internal/persistence"
	"github.com/conneroisu/playpen/internal/preview"
	"github.com/conneroisu/playpen/internal/ratelimit"
	"github.com/conneroisu/playpen/internal/sandbox"
	"github.com/conneroisu/playpen/internal/validation"
	"github.com/conneroisu/playpen/internal/version"
	"github.com/conneroisu/playpen/internal/watcher"
)

const maxProjectIDLen = 200

// Options carries the collaborators of a Server.
type Options struct {
	Store   persistence.Store
	Logger  logging.Logger
	Metrics *metrics.Metrics
	// Limiter throttles HTTP requests and socket messages per client. Nil
	// disables rate limiting.
	Limiter *ratelimit.Limiter
	// Runtime runs console probes. When nil and preview.console_probe is
	// set, a runtime is created from the configuration.
	Runtime *sandbox.Runtime
}

// Server serves editor sessions.
type Server struct {
	config     *config.Config
	store      persistence.Store
	logger     logging.Logger
	metrics    *metrics.Metrics
	limiter    *ratelimit.Limiter
	runtime    *sandbox.Runtime
	policy     *sandbox.Policy
	savePolicy editor.SavePolicy
	previews   *preview.Registry
	watcher    *watcher.FileWatcher

	ctx    context.Context
	cancel context.CancelFunc

	sessionsMutex sync.RWMutex
	sessions      map[string]*Session

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	shutdownOnce sync.Once
}

// New creates a server for cfg.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "server needs a project store")
	}
	savePolicy, err := editor.ParseSavePolicy(cfg.Editor.SavePolicy)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error())
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Runtime == nil && cfg.Preview.ConsoleProbe {
		rc := sandbox.DefaultConfig()
		rc.Timeout = cfg.Preview.ProbeTimeout
		opts.Runtime = sandbox.NewRuntime(rc)
	}

	policy := sandbox.DefaultPolicy()
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:     cfg,
		store:      opts.Store,
		logger:     opts.Logger.WithComponent("server"),
		metrics:    opts.Metrics,
		limiter:    opts.Limiter,
		runtime:    opts.Runtime,
		policy:     policy,
		savePolicy: savePolicy,
		previews: preview.NewRegistry(preview.Options{
			Debounce: cfg.Preview.Debounce,
			MaxDelay: cfg.Preview.MaxDelay,
			Policy:   policy,
		}),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}, nil
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /editor", s.handleOpen)
	mux.HandleFunc("GET /editor/{project}", s.handleEditor)
	mux.HandleFunc("GET /ws/{session}", s.handleWebSocket)
	mux.Handle("/preview/{session}", s.previews)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = s.metrics.Middleware(metrics.PatternRoute)(handler)
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = SecurityMiddleware(SecurityConfigFromAppConfig(s.config))(handler)
	return s.logRequests(handler)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "Request", "method", r.Method, "path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// Start watches the project directory, if any, and serves until the
// server is shut down.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Watch(ctx); err != nil {
		return err
	}

	addr := s.config.Server.Addr()

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Editor listening", "addr", addr, "store", fmt.Sprintf("%T", s.store),
		"save_policy", string(s.savePolicy))

	if s.config.Server.Open {
		go s.openBrowser(fmt.Sprintf("http://%s/", addr))
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.NewInternalError(errors.ErrCodeInternalError, "server error", err)
	}
	return nil
}

// Watch starts reporting external edits of a directory project to its
// sessions. It does nothing for other stores.
func (s *Server) Watch(ctx context.Context) error {
	dir, ok := s.store.(*persistence.DirStore)
	if !ok {
		return nil
	}

	fw, err := watcher.NewFileWatcher(s.config.Preview.Debounce+50*time.Millisecond, s.logger)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(buffer.Kinds))
	for _, k := range buffer.Kinds {
		names = append(names, persistence.FileName(k))
	}
	fw.AddFilter(watcher.NameFilter(names...))
	fw.AddFilter(watcher.NoTempFilter)
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		return s.reloadFromDisk(ctx, dir, events)
	})
	if err := fw.AddPath(dir.Root()); err != nil {
		_ = fw.Stop()
		return err
	}
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return err
	}

	s.serverMutex.Lock()
	s.watcher = fw
	s.serverMutex.Unlock()
	return nil
}

func (s *Server) reloadFromDisk(ctx context.Context, dir *persistence.DirStore, events []watcher.ChangeEvent) error {
	project, err := dir.Load(ctx, "", "")
	if err != nil {
		return err
	}

	for _, sess := range s.activeSessions() {
		changed, err := sess.shell.ApplyExternal(project.Sources)
		if err != nil {
			// Still loading; the load reads the new files anyway.
			continue
		}
		if changed {
			s.logger.Info(ctx, "Applied external edit", "session", sess.id, "files", len(events))
		}
	}
	return nil
}

// Shutdown closes every session and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down editor server")
		s.cancel()

		s.serverMutex.RLock()
		fw, server := s.watcher, s.httpServer
		s.serverMutex.RUnlock()

		if fw != nil {
			_ = fw.Stop()
		}

		for _, sess := range s.activeSessions() {
			sess.close(websocket.StatusGoingAway, "server shutting down")
		}
		s.previews.CloseAll()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}

func (s *Server) activeSessions() []*Session {
	s.sessionsMutex.RLock()
	defer s.sessionsMutex.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// SessionCount returns the number of connected editor sessions.
func (s *Server) SessionCount() int {
	s.sessionsMutex.RLock()
	defer s.sessionsMutex.RUnlock()
	return len(s.sessions)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if dir, ok := s.store.(*persistence.DirStore); ok {
		http.Redirect(w, r, "/editor/"+dirProjectID(dir), http.StatusFound)
		return
	}
	templ.Handler(IndexPage()).ServeHTTP(w, r)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	project := strings.TrimSpace(r.URL.Query().Get("project"))
	if err := validateProjectID(project); err != nil {
		http.Error(w, errors.UserMessage(err), http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, "/editor/"+project, http.StatusFound)
}

func (s *Server) handleEditor(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	if err := validateProjectID(project); err != nil {
		http.Error(w, errors.UserMessage(err), http.StatusBadRequest)
		return
	}

	// A token in the query moves into a cookie so it leaves the address bar.
	if token := r.URL.Query().Get("token"); token != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     auth.CookieName,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteStrictMode,
		})
		http.Redirect(w, r, "/editor/"+project, http.StatusFound)
		return
	}

	page := EditorPage(PageData{
		ProjectID:   project,
		Session:     uuid.NewString(),
		SandboxAttr: s.policy.Attribute(),
	})
	w.Header().Set("Cache-Control", "no-store")
	templ.Handler(page).ServeHTTP(w, r)
}

// handleHealth returns the server health status for health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version.GetShortVersion(),
		"checks": map[string]interface{}{
			"sessions": s.SessionCount(),
			"previews": s.previews.Len(),
			"store":    fmt.Sprintf("%T", s.store),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode health response")
	}
}

func validateProjectID(id string) error {
	if id == "" || len(id) > maxProjectIDLen || strings.ContainsAny(id, "/\\?#") {
		return errors.NewValidationError(errors.ErrCodeInvalidProject, "invalid project id")
	}
	return nil
}

func dirProjectID(dir *persistence.DirStore) string {
	id := strings.TrimSpace(filepath.Base(dir.Root()))
	if validateProjectID(id) != nil || id == "." {
		return "local"
	}
	return id
}

func (s *Server) openBrowser(url string) {
	time.Sleep(100 * time.Millisecond)

	if err := validation.ValidateURL(url); err != nil {
		s.logger.Warn(s.ctx, err, "Browser open refused")
		return
	}

	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}

	if err != nil {
		s.logger.Warn(s.ctx, err, "Failed to open browser")
	}
}
