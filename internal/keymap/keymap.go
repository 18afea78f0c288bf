// Package keymap dispatches key events forwarded by the host page to
// scoped shortcut handlers.
package keymap

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upper = cases.Upper(language.Und)

// Event is a keydown reported by the browser.
type Event struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl"`
	Meta  bool   `json:"meta"`
	Shift bool   `json:"shift"`
	Alt   bool   `json:"alt"`
}

// Chord is a key with modifiers. Mod matches either Ctrl or Meta (Cmd on
// macOS).
type Chord struct {
	Key   string
	Mod   bool
	Shift bool
	Alt   bool
}

// SaveChord is Ctrl+S / Cmd+S.
var SaveChord = Chord{Key: "S", Mod: true}

// ParseChord parses strings like "Mod+S", "Ctrl+Shift+P" or "Cmd+Enter".
func ParseChord(s string) (Chord, error) {
	parts := strings.Split(s, "+")
	if len(parts) == 0 || strings.TrimSpace(parts[len(parts)-1]) == "" {
		return Chord{}, fmt.Errorf("invalid chord %q", s)
	}

	var c Chord
	for _, p := range parts[:len(parts)-1] {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "mod", "ctrl", "control", "cmd", "meta":
			c.Mod = true
		case "shift":
			c.Shift = true
		case "alt", "option":
			c.Alt = true
		default:
			return Chord{}, fmt.Errorf("invalid modifier %q in chord %q", p, s)
		}
	}
	c.Key = upper.String(strings.TrimSpace(parts[len(parts)-1]))
	return c, nil
}

// String renders the chord in ParseChord syntax.
func (c Chord) String() string {
	var b strings.Builder
	if c.Mod {
		b.WriteString("Mod+")
	}
	if c.Shift {
		b.WriteString("Shift+")
	}
	if c.Alt {
		b.WriteString("Alt+")
	}
	b.WriteString(c.Key)
	return b.String()
}

// Matches reports whether ev triggers the chord.
func (c Chord) Matches(ev Event) bool {
	return upper.String(ev.Key) == c.Key &&
		(ev.Ctrl || ev.Meta) == c.Mod &&
		ev.Shift == c.Shift &&
		ev.Alt == c.Alt
}

type binding struct {
	id      uint64
	chord   Chord
	handler func()
}

// Registry holds the shortcuts of one editor session. The most recent
// binding of a chord wins; unbinding it uncovers the previous one.
type Registry struct {
	mu       sync.Mutex
	bindings []binding
	nextID   uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Bind registers handler for chord and returns the function that removes
// it again. The returned function is safe to call more than once.
func (r *Registry) Bind(chord Chord, handler func()) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.bindings = append(r.bindings, binding{id: id, chord: chord, handler: handler})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.unbind(id) })
	}
}

func (r *Registry) unbind(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.bindings {
		if b.id == id {
			r.bindings = append(r.bindings[:i], r.bindings[i+1:]...)
			return
		}
	}
}

// Dispatch runs the handler bound to ev, if any, and reports whether one
// ran. A handled event must have its browser default suppressed.
func (r *Registry) Dispatch(ev Event) bool {
	r.mu.Lock()
	var handler func()
	for i := len(r.bindings) - 1; i >= 0; i-- {
		if r.bindings[i].chord.Matches(ev) {
			handler = r.bindings[i].handler
			break
		}
	}
	r.mu.Unlock()

	if handler == nil {
		return false
	}
	handler()
	return true
}

// Len returns the number of active bindings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}
