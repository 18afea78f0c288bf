package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/conneroisu/playpen/internal/buffer"
	"github.com/conneroisu/playpen/internal/editor"
	"github.com/conneroisu/playpen/internal/errors"
	"github.com/conneroisu/playpen/internal/logging"
	"github.com/conneroisu/playpen/internal/preview"
)

// Session binds one editor page to its shell and preview renderer.
//
// The shell reports state from under its own lock, so updates are parked
// in a one-slot outbox and written by the write pump. Only the newest
// state, frame and console report are kept; the page never needs the
// intermediate ones.
type Session struct {
	id       string
	project  string
	clientIP string
	server   *Server
	conn     *websocket.Conn
	shell    *editor.Shell
	renderer *preview.Renderer
	prober   *preview.Prober
	logger   logging.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once

	mu         sync.Mutex
	state      *editor.Snapshot
	stateDirty bool
	ack        uint64
	frame      *preview.Frame
	console    *preview.ProbeReport
	errs       []string
	wake       chan struct{}
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) pushState(snap editor.Snapshot) {
	s.mu.Lock()
	s.state = &snap
	s.stateDirty = true
	s.mu.Unlock()
	s.signal()
}

func (s *Session) pushFrame(f preview.Frame) {
	s.server.metrics.ObserveRender()
	s.mu.Lock()
	s.frame = &f
	s.mu.Unlock()
	s.signal()
}

func (s *Session) pushConsole(r preview.ProbeReport) {
	outcome := "ok"
	switch {
	case r.Result.Interrupted:
		outcome = "timeout"
	case r.Result.Error != "":
		outcome = "error"
	}
	s.server.metrics.ObserveProbe(outcome)

	s.mu.Lock()
	s.console = &r
	s.mu.Unlock()
	s.signal()
}

func (s *Session) pushError(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, errors.UserMessage(err))
	s.mu.Unlock()
	s.signal()
}

func (s *Session) acknowledge(seq uint64) {
	s.mu.Lock()
	if seq > s.ack {
		s.ack = seq
	}
	s.stateDirty = true
	s.mu.Unlock()
	s.signal()
}

// drain takes everything queued for the page, oldest concern first.
func (s *Session) drain() (msgs []OutMessage, probe *preview.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, e := range s.errs {
		msgs = append(msgs, OutMessage{Type: MsgError, Error: e, Timestamp: now})
	}
	s.errs = nil

	if s.stateDirty && s.state != nil {
		msgs = append(msgs, OutMessage{Type: MsgState, State: s.state, Ack: s.ack, Timestamp: now})
		s.stateDirty = false
	}
	if s.frame != nil {
		f := *s.frame
		msgs = append(msgs, OutMessage{
			Type: MsgPreview,
			Preview: &PreviewEvent{
				Version: f.Version,
				Hash:    f.Hash,
				URL:     "/preview/" + s.id,
			},
			Timestamp: now,
		})
		probe = &f
		s.frame = nil
	}
	if s.console != nil {
		msgs = append(msgs, OutMessage{Type: MsgConsole, Console: s.console, Timestamp: now})
		s.console = nil
	}
	return msgs, probe
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-s.wake:
			msgs, frame := s.drain()
			for _, msg := range msgs {
				writeCtx, cancel := context.WithTimeout(s.ctx, writeWait)
				err := wsjson.Write(writeCtx, s.conn, msg)
				cancel()
				if err != nil {
					s.logger.Debug(s.ctx, "WebSocket write failed", "error", err.Error())
					s.close(websocket.StatusInternalError, "write failed")
					return
				}
				s.server.metrics.ObserveMessage("out", msg.Type)
			}
			if frame != nil && s.prober != nil {
				s.prober.Probe(s.ctx, frame.Version, frame.Script, s.pushConsole)
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, writeWait)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

// readPump handles page messages until the connection closes.
func (s *Session) readPump() {
	s.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && s.ctx.Err() == nil {
				s.logger.Debug(s.ctx, "WebSocket closed", "error", err.Error())
			}
			return
		}

		if s.server.limiter != nil {
			if err := s.server.limiter.Wait(s.ctx, s.clientIP); err != nil {
				return
			}
		}

		var msg InMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.pushError(errors.NewValidationError(ErrCodeBadMessage, "malformed message"))
			continue
		}
		s.server.metrics.ObserveMessage("in", msg.Type)
		s.handle(msg)
	}
}

func (s *Session) handle(msg InMessage) {
	switch msg.Type {
	case MsgEdit:
		k, err := parseKind(msg.Kind)
		if err == nil {
			err = s.shell.Edit(k, msg.Text)
		}
		if err != nil {
			s.pushError(err)
		}
		// Rejected edits are acknowledged too, so the page takes the
		// server's buffers back.
		s.acknowledge(msg.Seq)

	case MsgSelect:
		k, err := parseKind(msg.Kind)
		if err == nil {
			err = s.shell.Select(k)
		}
		if err != nil {
			s.pushError(err)
		}

	case MsgSave:
		s.shell.TriggerSave()

	case MsgKey:
		if msg.Key != nil {
			s.shell.HandleKey(*msg.Key)
		}

	case MsgToken:
		s.shell.SetToken(msg.Token)

	default:
		s.pushError(errors.NewValidationError(ErrCodeBadMessage, "unknown message type "+msg.Type))
	}
}

func parseKind(k buffer.Kind) (buffer.Kind, error) {
	kind, err := buffer.ParseKind(string(k))
	if err != nil {
		return "", errors.NewValidationError(ErrCodeBadMessage, err.Error())
	}
	return kind, nil
}

// close tears the session down. It is safe to call from either pump and
// from Shutdown.
func (s *Session) close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.shell.Unmount()
		if s.prober != nil {
			s.prober.Stop()
		}
		s.server.previews.Close(s.id)
		s.server.removeSession(s.id)
		s.server.metrics.WSConnected(-1)
		_ = s.conn.Close(code, reason)
		s.logger.Info(context.Background(), "Editor session closed", "reason", reason)
	})
}
