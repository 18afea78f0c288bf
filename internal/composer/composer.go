// Package composer turns the three source buffers into one self-contained
// HTML document.
//
// Buffer content is injected verbatim: nothing is escaped or sanitized. The
// author is scripting their own sandboxed page, so the composer must never
// be fed untrusted third-party content. A style buffer containing "</style>"
// or a script buffer containing "</script>" closes its block early; that is
// a known limitation, reported by Breakouts but never rewritten.
package composer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/conneroisu/playpen/internal/buffer"
)

// Document is a composed, renderable HTML document.
type Document string

// String returns the document text.
func (d Document) String() string { return string(d) }

// Hash returns a short content hash, used as the preview ETag.
func (d Document) Hash() string {
	sum := sha256.Sum256([]byte(d))
	return hex.EncodeToString(sum[:8])
}

const (
	prefix      = "<!DOCTYPE html>\n<html>\n<head>\n<style>"
	afterStyle  = "</style>\n</head>\n<body>\n"
	afterMarkup = "\n<script>"
	suffix      = "</script>\n</body>\n</html>\n"
)

// Compose builds the document: a single style block holding style, a body
// holding markup, and a single script block after the markup holding
// script. It is pure and total; empty buffers yield empty regions.
func Compose(markup, style, script string) Document {
	var b strings.Builder
	b.Grow(len(prefix) + len(afterStyle) + len(afterMarkup) + len(suffix) +
		len(markup) + len(style) + len(script))

	b.WriteString(prefix)
	b.WriteString(style)
	b.WriteString(afterStyle)
	b.WriteString(markup)
	b.WriteString(afterMarkup)
	b.WriteString(script)
	b.WriteString(suffix)

	return Document(b.String())
}

// ComposeSources composes a buffer snapshot.
func ComposeSources(src buffer.Sources) Document {
	return Compose(src.HTML, src.CSS, src.JS)
}
