// Package preview owns the rendered side of an editing session: the
// document currently shown in the sandboxed preview frame.
//
// Every change replaces the whole document; there is no DOM patching. The
// renderer bumps a version number on each publish and notifies
// subscribers, and the host page reloads the frame from the preview URL.
// An optional debounce coalesces rapid keystrokes, bounded by MaxDelay so
// the final keystroke is always visible within that interval.
package preview

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/conneroisu/playpen/internal/composer"
	"github.com/conneroisu/playpen/internal/sandbox"
)

// Frame is one published document.
type Frame struct {
	Version  uint64            `json:"version"`
	Hash     string            `json:"hash"`
	Document composer.Document `json:"-"`
	// Script is the script region of Document, run by the console probe.
	Script   string            `json:"-"`
	At       time.Time         `json:"at"`
}

type draft struct {
	doc    composer.Document
	script string
}

// Options configures a Renderer.
type Options struct {
	// Debounce is the quiet period after the last Render before publishing.
	// Zero publishes synchronously on every Render.
	Debounce time.Duration
	// MaxDelay caps how long a pending document may wait for publication.
	MaxDelay time.Duration
	// Policy is the sandbox applied to served documents.
	Policy *sandbox.Policy
}

// Renderer holds the current preview document of one session.
type Renderer struct {
	opts Options

	mu           sync.Mutex
	current      Frame
	pending      *draft
	pendingSince time.Time
	timer        *time.Timer
	closed       bool

	subMu  sync.Mutex
	subs   map[int]func(Frame)
	nextID int

	// notifyMu serializes deliveries so subscribers see versions in order.
	notifyMu sync.Mutex
}

// NewRenderer creates a renderer showing the empty composition.
func NewRenderer(opts Options) *Renderer {
	if opts.Policy == nil {
		opts.Policy = sandbox.DefaultPolicy()
	}
	if opts.Debounce > 0 && (opts.MaxDelay <= 0 || opts.MaxDelay < opts.Debounce) {
		opts.MaxDelay = opts.Debounce
	}

	empty := composer.Compose("", "", "")
	return &Renderer{
		opts: opts,
		current: Frame{
			Document: empty,
			Hash:     empty.Hash(),
			At:       time.Now(),
		},
		subs: make(map[int]func(Frame)),
	}
}

// Render schedules doc, composed with script, for display. Documents
// identical to the one on screen with nothing pending are ignored.
func (r *Renderer) Render(doc composer.Document, script string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.pending == nil && doc == r.current.Document && script == r.current.Script {
		r.mu.Unlock()
		return
	}

	if r.opts.Debounce <= 0 {
		r.publishLocked(draft{doc, script})
		return
	}

	now := time.Now()
	if r.pending == nil {
		r.pendingSince = now
	}
	r.pending = &draft{doc, script}

	delay := r.opts.Debounce
	if remaining := r.opts.MaxDelay - now.Sub(r.pendingSince); remaining < delay {
		delay = remaining
	}
	if delay < 0 {
		delay = 0
	}

	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(delay, r.Flush)
	r.mu.Unlock()
}

// Flush publishes the pending document immediately, if any.
func (r *Renderer) Flush() {
	r.mu.Lock()
	if r.closed || r.pending == nil {
		r.mu.Unlock()
		return
	}
	next := *r.pending
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.publishLocked(next)
}

// publishLocked is called with r.mu held and releases it.
func (r *Renderer) publishLocked(d draft) {
	r.pending = nil
	r.current = Frame{
		Version:  r.current.Version + 1,
		Hash:     d.doc.Hash(),
		Document: d.doc,
		Script:   d.script,
		At:       time.Now(),
	}
	frame := r.current

	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()

	r.subMu.Lock()
	subs := make([]func(Frame), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subMu.Unlock()

	for _, fn := range subs {
		fn(frame)
	}
}

// Current returns the frame on screen.
func (r *Renderer) Current() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Pending reports whether a document is waiting for the debounce timer.
func (r *Renderer) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

// Subscribe registers fn for published frames and returns its
// cancellation. fn runs on the publishing goroutine; it must not block and
// must not call back into the renderer.
func (r *Renderer) Subscribe(fn func(Frame)) func() {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

// Close stops the debounce timer and drops subscribers. Pending documents
// are discarded.
func (r *Renderer) Close() {
	r.mu.Lock()
	r.closed = true
	r.pending = nil
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	r.subMu.Lock()
	r.subs = make(map[int]func(Frame))
	r.subMu.Unlock()
}

// ServeHTTP serves the current document under the sandbox policy.
func (r *Renderer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	frame := r.Current()

	for k, v := range r.opts.Policy.Headers() {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", `"`+frame.Hash+`"`)
	w.Header().Set("X-Preview-Version", strconv.FormatUint(frame.Version, 10))
	w.WriteHeader(http.StatusOK)

	if req.Method == http.MethodGet {
		_, _ = w.Write([]byte(frame.Document))
	}
}
