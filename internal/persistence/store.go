// Package persistence loads and saves playground projects.
//
// A project is always persisted wholesale: Save sends all three sources
// together, never a subset. Two stores exist, one talking to a remote
// project API over HTTP and one backed by a directory on disk.
package persistence

import (
	"context"

	"github.com/conneroisu/playpen/internal/buffer"
)

// DefaultProjectName is shown when a project could not be loaded.
const DefaultProjectName = "Untitled Project"

// Project is a loaded playground project.
type Project struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Sources buffer.Sources `json:"sources"`
}

// Store is the persistence boundary of the editor. Errors are
// *errors.PlaypenError values wrapped with errors.LoadError or
// errors.SaveError.
type Store interface {
	Load(ctx context.Context, id, token string) (Project, error)
	Save(ctx context.Context, id, token string, src buffer.Sources) error
}
