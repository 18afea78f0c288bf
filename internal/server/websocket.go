package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/conneroisu/playpen/internal/auth"
	"github.com/conneroisu/playpen/internal/editor"
	"github.com/conneroisu/playpen/internal/errors"
	"github.com/conneroisu/playpen/internal/logging"
	"github.com/conneroisu/playpen/internal/persistence"
	"github.com/conneroisu/playpen/internal/preview"
	"github.com/conneroisu/playpen/internal/ratelimit"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer. Edits carry a whole buffer.
	maxMessageSize = 1 << 20
)

// Error codes of the socket protocol.
const (
	ErrCodeBadMessage   = "ERR_BAD_MESSAGE"
	ErrCodeSessionInUse = "ERR_SESSION_IN_USE"
)

var errSessionInUse = errors.NewValidationError(ErrCodeSessionInUse, "session already connected")

// handleWebSocket upgrades /ws/{session}, mounts a shell for the page's
// project and runs the session until either side closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "invalid session", http.StatusBadRequest)
		return
	}
	project := r.URL.Query().Get("project")
	if project == "" {
		if dir, ok := s.store.(*persistence.DirStore); ok {
			project = dirProjectID(dir)
		}
	}
	if err := validateProjectID(project); err != nil {
		http.Error(w, "invalid project", http.StatusBadRequest)
		return
	}

	token := auth.RequestToken(r)
	if token == "" {
		token = s.config.Auth.Token
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.config.Server.AllowedOrigins),
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "origin", r.Header.Get("Origin"))
		return
	}

	sess, err := s.openSession(id, project, token, ratelimit.ClientIP(r), conn)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	go sess.writePump()
	sess.readPump()
	sess.close(websocket.StatusNormalClosure, "")
}

func (s *Server) openSession(id, project, token, clientIP string, conn *websocket.Conn) (*Session, error) {
	ctx, cancel := context.WithCancel(s.ctx)
	sess := &Session{
		id:       id,
		project:  project,
		clientIP: clientIP,
		server:   s,
		conn:     conn,
		logger:   s.logger.With("session", id, "project", project),
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
	}

	s.sessionsMutex.Lock()
	if _, exists := s.sessions[id]; exists || s.ctx.Err() != nil {
		s.sessionsMutex.Unlock()
		cancel()
		return nil, errSessionInUse
	}
	s.sessions[id] = sess
	s.sessionsMutex.Unlock()

	sess.renderer = s.previews.Open(id)
	sess.unsubscribe = sess.renderer.Subscribe(sess.pushFrame)
	// The frame on screen may never change, e.g. for an empty project, so
	// the page is told about it up front.
	current := sess.renderer.Current()
	sess.mu.Lock()
	sess.frame = &current
	sess.mu.Unlock()
	sess.signal()
	if s.runtime != nil {
		sess.prober = preview.NewProber(s.runtime)
	}

	sess.shell = editor.New(editor.Options{
		ProjectID:   project,
		Token:       token,
		Store:       s.store,
		Renderer:    sess.renderer,
		SavePolicy:  s.savePolicy,
		Logger:      s.logger,
		Metrics:     s.metrics,
		OnChange:    sess.pushState,
		OnSaveError: sess.pushError,
	})
	s.metrics.WSConnected(1)

	if _, err := sess.shell.Mount(ctx); err != nil {
		sess.close(websocket.StatusInternalError, "mount failed")
		return nil, err
	}

	sess.logger.Info(ctx, "Editor session opened", "token", logging.TokenHint(token))
	return sess, nil
}

func (s *Server) removeSession(id string) {
	s.sessionsMutex.Lock()
	delete(s.sessions, id)
	s.sessionsMutex.Unlock()
}
