// Package editor implements the editing session of one project: the
// buffers, the Loading/Ready lifecycle, saving and the save shortcut.
//
// A Shell is driven by the WebSocket session in internal/server, but has
// no knowledge of transports. State changes are reported through
// Options.OnChange and composed documents go to Options.Renderer.
package editor

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/playpen/internal/buffer"
	"github.com/conneroisu/playpen/internal/composer"
	"github.com/conneroisu/playpen/internal/errors"
	"github.com/conneroisu/playpen/internal/keymap"
	"github.com/conneroisu/playpen/internal/logging"
	"github.com/conneroisu/playpen/internal/metrics"
	"github.com/conneroisu/playpen/internal/persistence"
)

// Error codes returned by Shell operations.
const (
	ErrCodeNotMounted     = "ERR_NOT_MOUNTED"
	ErrCodeAlreadyMounted = "ERR_ALREADY_MOUNTED"
	ErrCodeNotReady       = "ERR_NOT_READY"
)

// Status lines shown next to the save button.
const (
	StatusLoading = "Loading project..."
	StatusSaving  = "Saving..."
	StatusSaved   = "Saved"
)

// Phase is the lifecycle phase of a shell.
type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
)

// Renderer receives every composed document. *preview.Renderer implements
// it.
type Renderer interface {
	Render(doc composer.Document, script string)
}

// Options configures a Shell.
type Options struct {
	ProjectID string
	Token     string
	Store     persistence.Store

	Renderer   Renderer
	Keys       *keymap.Registry
	SavePolicy SavePolicy
	Clock      func() time.Time
	Logger     logging.Logger
	Metrics    *metrics.Metrics

	// OnChange is called with the new snapshot after every state change.
	// It runs with the shell locked: it must not block and must not call
	// back into the shell.
	OnChange func(Snapshot)

	// OnSaveError is called when a save fails or a trigger cannot start
	// one. Same locking rules as OnChange.
	OnSaveError func(error)
}

// Snapshot is the externally visible state of a shell.
type Snapshot struct {
	ProjectID string         `json:"projectId"`
	Name      string         `json:"name"`
	Phase     Phase          `json:"phase"`
	Saving    bool           `json:"saving"`
	InFlight  int            `json:"inFlight"`
	Queued    bool           `json:"queued"`
	LastSaved *time.Time     `json:"lastSaved,omitempty"`
	Status    string         `json:"status"`
	Active    buffer.Kind    `json:"active"`
	Sources   buffer.Sources `json:"sources"`
	Mounted   bool           `json:"mounted"`
}

// SaveResult is delivered once per save trigger.
type SaveResult struct {
	// Skipped is set when the trigger did not lead to a request, e.g. under
	// SaveIgnore while saving.
	Skipped bool
	Err     error
	At      time.Time
}

// Shell is one editing session.
type Shell struct {
	opts   Options
	logger logging.Logger

	mu         sync.Mutex
	mounted    bool
	unmounted  bool
	phase      Phase
	loaded     bool
	name       string
	status     string
	buffers    *buffer.Set
	persisted  buffer.Sources
	token      string
	inFlight   int
	queued     []chan SaveResult
	queuePend  bool
	lastSaved  time.Time
	loadSeq    uint64
	loadCancel context.CancelFunc
	ctx        context.Context
	cancel     context.CancelFunc
	unbindSave func()
	memo       composer.Memo
}

// New creates an unmounted shell.
func New(opts Options) *Shell {
	if opts.Keys == nil {
		opts.Keys = keymap.NewRegistry()
	}
	if opts.SavePolicy == "" {
		opts.SavePolicy = SaveQueue
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	return &Shell{
		opts:    opts,
		logger:  opts.Logger.WithComponent("editor").With("project", opts.ProjectID),
		phase:   PhaseLoading,
		buffers: buffer.New(),
		token:   opts.Token,
	}
}

// Keys returns the shortcut registry the shell binds into.
func (s *Shell) Keys() *keymap.Registry { return s.opts.Keys }

// Mount binds the save shortcut and starts loading the project. The
// returned channel is closed once that load has been applied or
// superseded. A shell can be mounted once.
func (s *Shell) Mount(ctx context.Context) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mounted || s.unmounted {
		return nil, errors.NewValidationError(ErrCodeAlreadyMounted, "editor session already mounted")
	}

	s.mounted = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.phase = PhaseLoading
	s.status = StatusLoading
	s.unbindSave = s.opts.Keys.Bind(keymap.SaveChord, func() { s.TriggerSave() })
	s.opts.Metrics.SessionMounted(1)
	s.logger.Info(ctx, "Editor mounted", "token", logging.TokenHint(s.token))

	done := s.startLoadLocked()
	s.notifyLocked()
	return done, nil
}

// Unmount releases the save shortcut and cancels a pending load. Saves
// already in flight finish against the server but no longer touch the
// shell. Unmount is idempotent.
func (s *Shell) Unmount() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.mounted {
		return
	}
	s.mounted = false
	s.unmounted = true
	if s.unbindSave != nil {
		s.unbindSave()
		s.unbindSave = nil
	}
	if s.loadCancel != nil {
		s.loadCancel()
		s.loadCancel = nil
	}
	s.cancel()
	s.opts.Metrics.SessionMounted(-1)
	s.logger.Info(context.Background(), "Editor unmounted")
}

// SetToken replaces the bearer token. A changed token reloads the project,
// and the returned channel is closed when that reload has been applied.
func (s *Shell) SetToken(token string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token == s.token || !s.mounted {
		s.token = token
		return closedDone()
	}
	s.token = token
	s.logger.Debug(s.ctx, "Token changed, reloading", "token", logging.TokenHint(token))
	return s.startLoadLocked()
}

func closedDone() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (s *Shell) startLoadLocked() <-chan struct{} {
	if s.loadCancel != nil {
		s.loadCancel()
	}
	s.loadSeq++
	seq := s.loadSeq
	ctx, cancel := context.WithCancel(s.ctx)
	s.loadCancel = cancel
	token := s.token

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		p, err := s.opts.Store.Load(ctx, s.opts.ProjectID, token)
		s.finishLoad(seq, p, err)
	}()
	return done
}

func (s *Shell) finishLoad(seq uint64, p persistence.Project, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.mounted || seq != s.loadSeq {
		return
	}
	s.loadCancel = nil
	s.opts.Metrics.ObserveLoad(err)

	if err != nil {
		s.logger.Warn(s.ctx, err, "Project load failed")
		if !s.loaded {
			// Never leave the user stuck in Loading: fall back to an empty,
			// editable project.
			s.buffers.Replace(buffer.Sources{})
			s.persisted = buffer.Sources{}
			s.name = persistence.DefaultProjectName
		}
		s.phase = PhaseReady
		s.status = "Load failed: " + errors.UserMessage(err)
		s.renderLocked()
		s.notifyLocked()
		return
	}

	s.loaded = true
	s.buffers.Replace(p.Sources)
	s.persisted = p.Sources
	s.name = p.Name
	if s.name == "" {
		s.name = persistence.DefaultProjectName
	}
	s.phase = PhaseReady
	s.status = ""
	s.logger.Info(s.ctx, "Project loaded", "name", s.name)
	s.renderLocked()
	s.notifyLocked()
}

func (s *Shell) readyLocked() error {
	if !s.mounted {
		return errors.NewValidationError(ErrCodeNotMounted, "editor session is not mounted")
	}
	if s.phase != PhaseReady {
		return errors.NewValidationError(ErrCodeNotReady, "project is still loading")
	}
	return nil
}

// Edit replaces the text of buffer k and re-renders the preview.
func (s *Shell) Edit(k buffer.Kind, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return err
	}
	changed, err := s.buffers.Update(k, text)
	if err != nil {
		return errors.NewValidationError(errors.ErrCodeInvalidProject, err.Error())
	}
	if !changed {
		return nil
	}
	s.renderLocked()
	s.notifyLocked()
	return nil
}

// Select changes the active tab.
func (s *Shell) Select(k buffer.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.mounted {
		return errors.NewValidationError(ErrCodeNotMounted, "editor session is not mounted")
	}
	if err := s.buffers.Select(k); err != nil {
		return errors.NewValidationError(errors.ErrCodeInvalidProject, err.Error())
	}
	s.notifyLocked()
	return nil
}

// ApplyExternal merges buffers changed outside the editor, e.g. files of a
// directory project edited on disk. A buffer is only replaced when its
// incoming text differs from what was last loaded or saved, so the echo of
// the shell's own save never clobbers newer edits.
func (s *Shell) ApplyExternal(src buffer.Sources) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return false, err
	}

	var changed bool
	for _, k := range buffer.Kinds {
		text := src.Get(k)
		if text == s.persisted.Get(k) {
			continue
		}
		setSource(&s.persisted, k, text)
		c, _ := s.buffers.Update(k, text)
		changed = changed || c
	}
	if changed {
		s.renderLocked()
		s.notifyLocked()
	}
	return changed, nil
}

func setSource(src *buffer.Sources, k buffer.Kind, text string) {
	switch k {
	case buffer.Markup:
		src.HTML = text
	case buffer.Style:
		src.CSS = text
	case buffer.Script:
		src.JS = text
	}
}

// HandleKey dispatches a browser key event to the bound shortcuts and
// reports whether it was consumed.
func (s *Shell) HandleKey(ev keymap.Event) bool {
	return s.opts.Keys.Dispatch(ev)
}

// TriggerSave starts a save of the current buffers. Saving is visible in
// Snapshot as soon as TriggerSave returns. The channel receives exactly one
// result.
func (s *Shell) TriggerSave() <-chan SaveResult {
	result := make(chan SaveResult, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		s.reportSaveErrorLocked(err)
		result <- SaveResult{Skipped: true, Err: err}
		close(result)
		return result
	}

	if s.inFlight > 0 {
		switch s.opts.SavePolicy {
		case SaveIgnore:
			result <- SaveResult{Skipped: true}
			close(result)
			return result
		case SaveQueue:
			s.queued = append(s.queued, result)
			s.queuePend = true
			s.notifyLocked()
			return result
		}
	}

	s.dispatchLocked([]chan SaveResult{result})
	s.notifyLocked()
	return result
}

func (s *Shell) dispatchLocked(waiters []chan SaveResult) {
	src := s.buffers.Snapshot()
	token := s.token
	started := s.opts.Clock()
	// Saves outlive the session; Unmount only stops them from touching
	// state.
	ctx := context.WithoutCancel(s.ctx)

	s.inFlight++
	s.status = StatusSaving

	go func() {
		err := s.opts.Store.Save(ctx, s.opts.ProjectID, token, src)
		s.finishSave(started, src, err, waiters)
	}()
}

func (s *Shell) finishSave(started time.Time, src buffer.Sources, err error, waiters []chan SaveResult) {
	s.mu.Lock()
	now := s.opts.Clock()
	s.inFlight--
	s.opts.Metrics.ObserveSave(now.Sub(started), err)

	if s.mounted {
		if err != nil {
			s.logger.Warn(s.ctx, err, "Project save failed")
			s.status = "Save failed: " + errors.UserMessage(err)
			s.reportSaveErrorLocked(err)
		} else {
			s.lastSaved = now
			s.persisted = src
			s.status = StatusSaved
		}
		s.notifyLocked()

		if s.queuePend && s.inFlight == 0 {
			next := s.queued
			s.queued = nil
			s.queuePend = false
			s.dispatchLocked(next)
			s.notifyLocked()
		}
	} else if s.queuePend {
		for _, ch := range s.queued {
			ch <- SaveResult{Skipped: true, Err: errors.NewValidationError(ErrCodeNotMounted, "editor session is not mounted")}
			close(ch)
		}
		s.queued = nil
		s.queuePend = false
	}
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- SaveResult{Err: err, At: now}
		close(ch)
	}
}

// Document returns the composition of the current buffers.
func (s *Shell) Document() composer.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memo.Compose(s.buffers.Snapshot())
}

// Snapshot returns the current state.
func (s *Shell) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Shell) snapshotLocked() Snapshot {
	snap := Snapshot{
		ProjectID: s.opts.ProjectID,
		Name:      s.name,
		Phase:     s.phase,
		Saving:    s.inFlight > 0,
		InFlight:  s.inFlight,
		Queued:    s.queuePend,
		Status:    s.status,
		Active:    s.buffers.Active(),
		Sources:   s.buffers.Snapshot(),
		Mounted:   s.mounted,
	}
	if !s.lastSaved.IsZero() {
		t := s.lastSaved
		snap.LastSaved = &t
	}
	return snap
}

func (s *Shell) renderLocked() {
	src := s.buffers.Snapshot()
	doc := s.memo.Compose(src)
	if s.opts.Renderer != nil {
		s.opts.Renderer.Render(doc, src.JS)
	}
}

func (s *Shell) reportSaveErrorLocked(err error) {
	if s.opts.OnSaveError != nil {
		s.opts.OnSaveError(err)
	}
}

func (s *Shell) notifyLocked() {
	if s.opts.OnChange != nil {
		s.opts.OnChange(s.snapshotLocked())
	}
}
