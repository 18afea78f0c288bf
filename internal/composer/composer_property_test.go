//go:build property
// +build property

package composer

import (
	"strings"
	"testing"

	"github.com/conneroisu/playpen/internal/buffer"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestComposeProperties checks the composer invariants over arbitrary buffers.
func TestComposeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	text := gen.AnyString()

	// Property: every buffer appears verbatim, style before markup before script
	properties.Property("regions in order", prop.ForAll(
		func(markup, style, script string) bool {
			doc := Compose(markup, style, script).String()

			styleAt := strings.Index(doc, "<style>"+style+"</style>")
			markupAt := strings.Index(doc, "<body>\n"+markup+"\n<script>")
			scriptAt := strings.LastIndex(doc, "<script>"+script+"</script>\n</body>")

			return styleAt >= 0 && markupAt > styleAt && scriptAt > markupAt
		},
		text, text, text,
	))

	// Property: composing is deterministic
	properties.Property("deterministic", prop.ForAll(
		func(markup, style, script string) bool {
			return Compose(markup, style, script) == Compose(markup, style, script)
		},
		text, text, text,
	))

	// Property: changing the script leaves the prefix through the markup intact
	properties.Property("script edit is local", prop.ForAll(
		func(markup, style, a, b string) bool {
			before := Compose(markup, style, a).String()
			after := Compose(markup, style, b).String()
			head := len(prefix) + len(style) + len(afterStyle) + len(markup) + len(afterMarkup)
			return before[:head] == after[:head]
		},
		text, text, text, text,
	))

	// Property: the memo never returns a stale document
	properties.Property("memo matches compose", prop.ForAll(
		func(inputs []string) bool {
			var m Memo
			for i := 0; i+2 < len(inputs); i += 3 {
				src := sources(inputs[i], inputs[i+1], inputs[i+2])
				if m.Compose(src) != ComposeSources(src) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}

func sources(html, css, js string) buffer.Sources {
	return buffer.Sources{HTML: html, CSS: css, JS: js}
}
