// Package buffer holds the three independent source buffers of a playground
// project (markup, style and script) and the buffer currently selected for
// editing.
//
// A Set is plain state: it is not safe for concurrent use and relies on its
// owner (the editor shell) for locking.
package buffer

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Kind names one of the three buffers. The string values double as the wire
// names used by the project API ("html", "css", "js").
type Kind string

const (
	Markup Kind = "html"
	Style  Kind = "css"
	Script Kind = "js"
)

// Kinds lists the buffers in tab order.
var Kinds = []Kind{Markup, Style, Script}

var lower = cases.Lower(language.English)

// ParseKind validates a wire name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Markup, Style, Script:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown buffer %q", s)
	}
}

// Label is the tab caption.
func (k Kind) Label() string {
	switch k {
	case Markup:
		return "HTML"
	case Style:
		return "CSS"
	case Script:
		return "JavaScript"
	default:
		return string(k)
	}
}

// Placeholder is the hint shown in an empty buffer.
func (k Kind) Placeholder() string {
	return fmt.Sprintf("Enter your %s code here...", lower.String(k.Label()))
}

// Sources is a value snapshot of the three buffers. It is what gets
// composed and what gets persisted; persistence always sends all three.
type Sources struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
	JS   string `json:"js"`
}

// Get returns the text of buffer k.
func (s Sources) Get(k Kind) string {
	switch k {
	case Markup:
		return s.HTML
	case Style:
		return s.CSS
	case Script:
		return s.JS
	default:
		return ""
	}
}

// Set is the mutable buffer state of one editing session.
type Set struct {
	text     map[Kind]string
	versions map[Kind]uint64
	active   Kind
}

// New creates an empty set with the markup buffer selected.
func New() *Set {
	s := &Set{
		text:     make(map[Kind]string, len(Kinds)),
		versions: make(map[Kind]uint64, len(Kinds)),
		active:   Markup,
	}
	for _, k := range Kinds {
		s.text[k] = ""
	}
	return s
}

// FromSources creates a set populated with src.
func FromSources(src Sources) *Set {
	s := New()
	s.Replace(src)
	return s
}

// Text returns the content of buffer k.
func (s *Set) Text(k Kind) string { return s.text[k] }

// Version returns how many times buffer k has been changed.
func (s *Set) Version(k Kind) uint64 { return s.versions[k] }

// Update replaces the content of buffer k and leaves the other two
// untouched. It reports whether the content actually changed.
func (s *Set) Update(k Kind, text string) (bool, error) {
	if _, err := ParseKind(string(k)); err != nil {
		return false, err
	}
	if s.text[k] == text {
		return false, nil
	}
	s.text[k] = text
	s.versions[k]++
	return true, nil
}

// Replace overwrites all three buffers, e.g. after a project load.
func (s *Set) Replace(src Sources) {
	for _, k := range Kinds {
		_, _ = s.Update(k, src.Get(k))
	}
}

// Snapshot copies the buffers into a Sources value.
func (s *Set) Snapshot() Sources {
	return Sources{
		HTML: s.text[Markup],
		CSS:  s.text[Style],
		JS:   s.text[Script],
	}
}

// Active returns the buffer currently selected for editing.
func (s *Set) Active() Kind { return s.active }

// Select changes the active buffer.
func (s *Set) Select(k Kind) error {
	if _, err := ParseKind(string(k)); err != nil {
		return err
	}
	s.active = k
	return nil
}
