// Package internal contains the implementation packages of playpen.
//
// # Package Organization
//
//   - buffer: the markup, style and script buffers and the active tab
//   - composer: composes the buffers into one HTML document
//   - sandbox: the preview frame's sandbox policy and the goja console probe
//   - preview: per-session preview renderers, the /preview handler and probes
//   - editor: the editor shell state machine (load, edit, save)
//   - keymap: key chords such as Ctrl+S and Cmd+S
//   - persistence: project stores for the HTTP API and local directories
//   - projectstore: the reference project API on SQLite
//   - auth: JWT bearer tokens
//   - server: the editor page, websocket sessions and preview routes
//   - watcher: debounced change reports for directory projects
//   - config, logging, errors, metrics, ratelimit, validation, version:
//     shared infrastructure
package internal
