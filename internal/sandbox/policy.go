// Package sandbox describes the isolation applied to previewed documents.
//
// Preview documents run in the browser inside a frame whose capabilities are
// an explicit, minimal grant list. The same list is rendered twice: as the
// frame's sandbox attribute and as a "Content-Security-Policy: sandbox"
// response header on the preview URL, so the document gets an opaque origin
// even when it is opened outside the frame. allow-same-origin is never
// granted: previewed scripts cannot read the host's cookies or storage, and
// cannot reach into the host page.
//
// The package also provides Runtime, a goja isolate used to probe a script
// buffer server-side with a hard interrupt timeout.
package sandbox

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is one sandbox token.
type Capability string

const (
	AllowScripts         Capability = "allow-scripts"
	AllowForms           Capability = "allow-forms"
	AllowPopups          Capability = "allow-popups"
	AllowModals          Capability = "allow-modals"
	AllowPointerLock     Capability = "allow-pointer-lock"
	AllowPresentation    Capability = "allow-presentation"
	AllowOrientationLock Capability = "allow-orientation-lock"

	// AllowSameOrigin is listed so it can be rejected by name.
	AllowSameOrigin Capability = "allow-same-origin"
)

// PreviewCapabilities is the grant list of the preview frame.
var PreviewCapabilities = []Capability{
	AllowScripts,
	AllowForms,
	AllowPopups,
	AllowModals,
	AllowPointerLock,
	AllowPresentation,
	AllowOrientationLock,
}

var known = map[Capability]bool{
	AllowScripts:         true,
	AllowForms:           true,
	AllowPopups:          true,
	AllowModals:          true,
	AllowPointerLock:     true,
	AllowPresentation:    true,
	AllowOrientationLock: true,
}

// Policy is a validated capability grant.
type Policy struct {
	caps []Capability
}

// NewPolicy validates caps. Unknown tokens and allow-same-origin are
// rejected; duplicates are collapsed.
func NewPolicy(caps ...Capability) (*Policy, error) {
	seen := make(map[Capability]bool, len(caps))
	out := make([]Capability, 0, len(caps))
	for _, c := range caps {
		if c == AllowSameOrigin {
			return nil, fmt.Errorf("sandbox: %s would expose the host origin to previews", c)
		}
		if !known[c] {
			return nil, fmt.Errorf("sandbox: unknown capability %q", c)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return &Policy{caps: out}, nil
}

// DefaultPolicy returns the preview grant list.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(PreviewCapabilities...)
	if err != nil {
		panic(err)
	}
	return p
}

// Capabilities returns a copy of the grant list.
func (p *Policy) Capabilities() []Capability {
	return append([]Capability(nil), p.caps...)
}

// Allows reports whether c is granted.
func (p *Policy) Allows(c Capability) bool {
	for _, have := range p.caps {
		if have == c {
			return true
		}
	}
	return false
}

// Attribute renders the value of the frame's sandbox attribute.
func (p *Policy) Attribute() string {
	parts := make([]string, len(p.caps))
	for i, c := range p.caps {
		parts[i] = string(c)
	}
	return strings.Join(parts, " ")
}

// CSP renders the Content-Security-Policy value served with preview
// documents.
func (p *Policy) CSP() string {
	return "sandbox " + p.Attribute()
}

// Headers returns the full header set applied to preview responses.
func (p *Policy) Headers() map[string]string {
	return map[string]string{
		"Content-Security-Policy": p.CSP(),
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
		// The preview may only be framed by the editor itself.
		"X-Frame-Options": "SAMEORIGIN",
	}
}
