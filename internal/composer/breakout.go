package composer

import (
	"strings"

	"github.com/conneroisu/playpen/internal/buffer"
	"golang.org/x/net/html"
)

// Breakout describes a buffer that terminates its enclosing raw-text block
// before the composer's own closing tag.
type Breakout struct {
	Buffer buffer.Kind
	Tag    string
	Offset int // byte offset of the premature end tag inside the buffer
}

// Breakouts reports premature "</style>" and "</script>" end tags in the
// style and script buffers, using the same raw-text rules a browser
// applies ("</STYLE >" counts, "</styles>" does not).
func Breakouts(src buffer.Sources) []Breakout {
	var found []Breakout
	if off := prematureEnd("style", src.CSS); off >= 0 {
		found = append(found, Breakout{Buffer: buffer.Style, Tag: "style", Offset: off})
	}
	if off := prematureEnd("script", src.JS); off >= 0 {
		found = append(found, Breakout{Buffer: buffer.Script, Tag: "script", Offset: off})
	}
	return found
}

// prematureEnd tokenizes "<tag>"+content and returns the offset within
// content of the first end tag that closes the block, or -1.
func prematureEnd(tag, content string) int {
	if !strings.Contains(strings.ToLower(content), "</"+tag) {
		return -1
	}

	open := "<" + tag + ">"
	z := html.NewTokenizer(strings.NewReader(open + content))
	consumed := 0
	for {
		tt := z.Next()
		raw := len(z.Raw())
		switch tt {
		case html.ErrorToken:
			// io.EOF or a tokenizer error: no closing tag inside content.
			return -1
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == tag {
				return consumed - len(open)
			}
		}
		consumed += raw
	}
}
