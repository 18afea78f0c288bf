package preview

import (
	"net/http"
	"sync"
)

// Registry maps editor session ids to their renderers and serves
// /preview/{session}.
type Registry struct {
	mu        sync.RWMutex
	renderers map[string]*Renderer
	opts      Options
}

// NewRegistry creates a registry whose renderers share opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		renderers: make(map[string]*Renderer),
		opts:      opts,
	}
}

// Open returns the renderer of session, creating it on first use.
func (g *Registry) Open(session string) *Renderer {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.renderers[session]; ok {
		return r
	}
	r := NewRenderer(g.opts)
	g.renderers[session] = r
	return r
}

// Get returns the renderer of session.
func (g *Registry) Get(session string) (*Renderer, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.renderers[session]
	return r, ok
}

// Close closes and forgets the renderer of session.
func (g *Registry) Close(session string) {
	g.mu.Lock()
	r, ok := g.renderers[session]
	delete(g.renderers, session)
	g.mu.Unlock()

	if ok {
		r.Close()
	}
}

// Len returns the number of open renderers.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.renderers)
}

// CloseAll closes every renderer.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	renderers := g.renderers
	g.renderers = make(map[string]*Renderer)
	g.mu.Unlock()

	for _, r := range renderers {
		r.Close()
	}
}

// ServeHTTP serves the document of the session named by the {session}
// path value. Unknown sessions are 404.
func (g *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r, ok := g.Get(req.PathValue("session"))
	if !ok {
		http.NotFound(w, req)
		return
	}
	r.ServeHTTP(w, req)
}
