package server

import (
	"time"

	"github.com/conneroisu/playpen/internal/buffer"
	"github.com/conneroisu/playpen/internal/editor"
	"github.com/conneroisu/playpen/internal/keymap"
	"github.com/conneroisu/playpen/internal/preview"
)

// Message types sent by the page.
const (
	MsgEdit   = "edit"
	MsgSelect = "select"
	MsgSave   = "save"
	MsgKey    = "key"
	MsgToken  = "token"
)

// Message types sent to the page.
const (
	MsgState   = "state"
	MsgPreview = "preview"
	MsgConsole = "console"
	MsgError   = "error"
)

// InMessage is a message from the editor page.
type InMessage struct {
	Type  string        `json:"type"`
	Kind  buffer.Kind   `json:"kind,omitempty"`
	Text  string        `json:"text"`
	Seq   uint64        `json:"seq,omitempty"`
	Key   *keymap.Event `json:"key,omitempty"`
	Token string        `json:"token,omitempty"`
}

// OutMessage is a message to the editor page.
type OutMessage struct {
	Type string `json:"type"`
	// Ack is the sequence number of the last edit reflected in State.
	Ack       uint64               `json:"ack,omitempty"`
	State     *editor.Snapshot     `json:"state,omitempty"`
	Preview   *PreviewEvent        `json:"preview,omitempty"`
	Console   *preview.ProbeReport `json:"console,omitempty"`
	Error     string               `json:"error,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// PreviewEvent announces a new preview version; the page reloads the
// frame from URL.
type PreviewEvent struct {
	Version uint64 `json:"version"`
	Hash    string `json:"hash"`
	URL     string `json:"url"`
}
