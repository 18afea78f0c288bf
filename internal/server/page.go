package server

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/a-h/templ"

	"github.com/conneroisu/playpen/internal/buffer"
)

// PageData is the per-request input of the editor page.
type PageData struct {
	ProjectID   string
	Session     string
	SandboxAttr string
}

// WSPath is the socket endpoint of the session.
func (d PageData) WSPath() string {
	return "/ws/" + d.Session + "?project=" + url.QueryEscape(d.ProjectID)
}

// PreviewPath is the URL the preview frame loads.
func (d PageData) PreviewPath() string { return "/preview/" + d.Session }

// EditorPage renders the host page: tabs over the three buffers, the save
// button, the status line and the sandboxed preview frame. All state lives
// on the server; the page script only forwards input and applies updates.
func EditorPage(d PageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		nonce := templ.EscapeString(nonceFrom(ctx))

		if _, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>%s - playpen</title>
<style nonce="%s">%s</style>
</head>
<body data-project="%s" data-session="%s" data-ws="%s" data-preview="%s">
<header class="toolbar">
<h1 id="project-name">%s</h1>
<span id="status" role="status">Loading project...</span>
<span id="last-saved"></span>
<span id="error" role="alert" title="Dismiss" hidden></span>
<form id="token-form" class="token">
<input id="token" type="password" autocomplete="off" placeholder="API token" aria-label="API token">
<button type="submit">Use token</button>
</form>
<button id="save" type="button" disabled>Save</button>
</header>
<main class="workspace">
<section class="editor">
<nav class="tabs" role="tablist">
`,
			templ.EscapeString(d.ProjectID), nonce, pageStyle,
			templ.EscapeString(d.ProjectID), templ.EscapeString(d.Session),
			templ.EscapeString(d.WSPath()), templ.EscapeString(d.PreviewPath()),
			templ.EscapeString(d.ProjectID)); err != nil {
			return err
		}

		for i, k := range buffer.Kinds {
			selected := "false"
			if i == 0 {
				selected = "true"
			}
			if _, err := fmt.Fprintf(w, `<button type="button" role="tab" class="tab" data-kind="%s" data-placeholder="%s" aria-selected="%s">%s</button>
`,
				templ.EscapeString(string(k)), templ.EscapeString(k.Placeholder()),
				selected, templ.EscapeString(k.Label())); err != nil {
				return err
			}
		}

		_, err := fmt.Fprintf(w, `</nav>
<textarea id="source" spellcheck="false" placeholder="%s" readonly></textarea>
</section>
<section class="preview">
<iframe id="preview" title="Preview" sandbox="%s" src="about:blank"></iframe>
<pre id="console" hidden></pre>
</section>
</main>
<script nonce="%s">%s</script>
</body>
</html>
`,
			templ.EscapeString(buffer.Kinds[0].Placeholder()),
			templ.EscapeString(d.SandboxAttr), nonce, clientScript)
		return err
	})
}

// IndexPage asks for a project id and opens its editor.
func IndexPage() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		nonce := templ.EscapeString(nonceFrom(ctx))
		_, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>playpen</title>
<style nonce="%s">%s</style>
</head>
<body>
<main class="index">
<h1>playpen</h1>
<form method="get" action="/editor">
<label for="project">Project ID</label>
<input id="project" name="project" required>
<button type="submit">Open</button>
</form>
</main>
</body>
</html>
`, nonce, pageStyle)
		return err
	})
}

const pageStyle = `
*{box-sizing:border-box}
body{margin:0;font-family:system-ui,sans-serif;height:100vh;display:flex;flex-direction:column}
.toolbar{display:flex;align-items:center;gap:1rem;padding:.5rem 1rem;border-bottom:1px solid #ddd}
.toolbar h1{font-size:1.1rem;margin:0;flex:1}
#status{color:#555}
#last-saved{color:#888;font-size:.9rem}
#error{color:#b91c1c;cursor:pointer}
.token{display:flex;gap:.25rem}
.token input{width:10rem}
.workspace{flex:1;display:grid;grid-template-columns:1fr 1fr;min-height:0}
.editor{display:flex;flex-direction:column;border-right:1px solid #ddd;min-height:0}
.tabs{display:flex}
.tab{border:0;background:#f4f4f4;padding:.5rem 1rem;cursor:pointer}
.tab[aria-selected=true]{background:#fff;border-bottom:2px solid #2563eb}
#source{flex:1;border:0;padding:1rem;font-family:ui-monospace,monospace;font-size:14px;resize:none}
.preview{display:flex;flex-direction:column;min-height:0}
#preview{flex:1;border:0;width:100%;background:#fff}
#console{max-height:30%;overflow:auto;margin:0;padding:.5rem;background:#111;color:#eee;font-size:12px}
.index{max-width:24rem;margin:4rem auto;display:flex;flex-direction:column;gap:1rem}
`

// clientScript forwards edits, tab switches, saves, the save shortcut and
// token changes to the session socket and applies state, preview and
// console updates. Server buffers replace local text only once every local
// edit has been acknowledged, so a late echo never overwrites newer typing.
// Errors stay on screen until dismissed or the next save.
const clientScript = `(function () {
  "use strict";
  var body = document.body;
  var source = document.getElementById("source");
  var saveButton = document.getElementById("save");
  var statusLine = document.getElementById("status");
  var lastSaved = document.getElementById("last-saved");
  var nameLine = document.getElementById("project-name");
  var frame = document.getElementById("preview");
  var consoleBox = document.getElementById("console");
  var errorLine = document.getElementById("error");
  var tokenForm = document.getElementById("token-form");
  var tokenInput = document.getElementById("token");
  var tabs = Array.prototype.slice.call(document.querySelectorAll(".tab"));

  var buffers = { html: "", css: "", js: "" };
  var active = "html";
  var seq = 0;
  var shown = -1;
  var ready = false;

  var scheme = location.protocol === "https:" ? "wss://" : "ws://";
  var socket = new WebSocket(scheme + location.host + body.dataset.ws);

  function send(msg) {
    if (socket.readyState === WebSocket.OPEN) {
      socket.send(JSON.stringify(msg));
    }
  }

  function showTab(kind) {
    active = kind;
    tabs.forEach(function (t) {
      t.setAttribute("aria-selected", t.dataset.kind === kind ? "true" : "false");
      if (t.dataset.kind === kind) {
        source.placeholder = t.dataset.placeholder;
      }
    });
    source.value = buffers[kind];
  }

  tabs.forEach(function (t) {
    t.addEventListener("click", function () {
      showTab(t.dataset.kind);
      send({ type: "select", kind: t.dataset.kind });
    });
  });

  source.addEventListener("input", function () {
    buffers[active] = source.value;
    seq += 1;
    send({ type: "edit", kind: active, text: source.value, seq: seq });
  });

  function clearError() {
    errorLine.textContent = "";
    errorLine.hidden = true;
  }

  errorLine.addEventListener("click", clearError);

  saveButton.addEventListener("click", function () {
    clearError();
    send({ type: "save" });
  });

  tokenForm.addEventListener("submit", function (e) {
    e.preventDefault();
    if (tokenInput.value !== "") {
      send({ type: "token", token: tokenInput.value });
      tokenInput.value = "";
    }
  });

  document.addEventListener("keydown", function (e) {
    if ((e.ctrlKey || e.metaKey) && e.key.toLowerCase() === "s") {
      e.preventDefault();
      clearError();
      send({ type: "key", key: { key: e.key, ctrl: e.ctrlKey, meta: e.metaKey, shift: e.shiftKey, alt: e.altKey } });
    }
  });

  function applyState(st, ack) {
    ready = st.phase === "ready";
    nameLine.textContent = st.name || body.dataset.project;
    document.title = (st.name || body.dataset.project) + " - playpen";
    statusLine.textContent = st.status || "";
    saveButton.disabled = !ready || st.saving;
    saveButton.textContent = st.saving ? "Saving..." : "Save";
    source.readOnly = !ready;
    lastSaved.textContent = st.lastSaved ? "Last saved " + new Date(st.lastSaved).toLocaleTimeString() : "";
    if (ack >= seq) {
      buffers = { html: st.sources.html, css: st.sources.css, js: st.sources.js };
      if (source.value !== buffers[active]) {
        source.value = buffers[active];
      }
    }
  }

  socket.addEventListener("message", function (ev) {
    var msg = JSON.parse(ev.data);
    switch (msg.type) {
    case "state":
      applyState(msg.state, msg.ack || 0);
      break;
    case "preview":
      if (msg.preview.version > shown) {
        shown = msg.preview.version;
        frame.src = body.dataset.preview + "?v=" + shown;
      }
      break;
    case "console":
      var lines = (msg.console.result.console || []).map(function (e) {
        return "[" + e.level + "] " + e.message;
      });
      if (msg.console.result.error) {
        lines.push("[error] " + msg.console.result.error);
      }
      consoleBox.textContent = lines.join("\n");
      consoleBox.hidden = lines.length === 0;
      break;
    case "error":
      errorLine.textContent = msg.error;
      errorLine.hidden = false;
      break;
    }
  });

  socket.addEventListener("close", function () {
    ready = false;
    source.readOnly = true;
    saveButton.disabled = true;
    statusLine.textContent = "Disconnected";
  });
})();`
