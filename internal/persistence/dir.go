package persistence

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/conneroisu/playpen/internal/buffer"
	"github.com/conneroisu/playpen/internal/errors"
)

// fileNames maps each buffer to its file inside a directory project.
var fileNames = map[buffer.Kind]string{
	buffer.Markup: "index.html",
	buffer.Style:  "style.css",
	buffer.Script: "script.js",
}

// FileName returns the file that holds buffer k in a directory project.
func FileName(k buffer.Kind) string { return fileNames[k] }

// KindOf returns the buffer stored in the file at path, if any.
func KindOf(path string) (buffer.Kind, bool) {
	base := filepath.Base(path)
	for k, name := range fileNames {
		if name == base {
			return k, true
		}
	}
	return "", false
}

// DirStore keeps a single project in a directory as index.html, style.css
// and script.js. The project id and token are ignored; the directory is
// the project.
type DirStore struct {
	root string
}

// NewDirStore creates a store for the project in root.
func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

// Root returns the project directory.
func (s *DirStore) Root() string { return s.root }

// Load reads the three files. Missing files are empty buffers; a missing
// directory is a missing project.
func (s *DirStore) Load(ctx context.Context, id, _ string) (Project, error) {
	if err := ctx.Err(); err != nil {
		return Project{}, errors.LoadError(id, err)
	}

	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		return Project{}, errors.LoadError(id, errors.ErrProjectNotFound(id).WithContext("dir", s.root))
	}

	var src buffer.Sources
	texts := map[buffer.Kind]*string{
		buffer.Markup: &src.HTML,
		buffer.Style:  &src.CSS,
		buffer.Script: &src.JS,
	}
	for k, dst := range texts {
		data, err := os.ReadFile(filepath.Join(s.root, fileNames[k]))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Project{}, errors.LoadError(id,
				errors.NewStorageError(errors.ErrCodeStorage, "read "+fileNames[k], err))
		}
		*dst = string(data)
	}

	return Project{ID: id, Name: filepath.Base(s.root), Sources: src}, nil
}

// Save writes all three files. Each file is replaced atomically through a
// temporary sibling, so the watcher never sees a half-written buffer.
func (s *DirStore) Save(ctx context.Context, id, _ string, src buffer.Sources) error {
	if err := ctx.Err(); err != nil {
		return errors.SaveError(id, err)
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return errors.SaveError(id, errors.NewStorageError(errors.ErrCodeStorage, "create project dir", err))
	}

	for _, k := range buffer.Kinds {
		if err := writeFileAtomic(filepath.Join(s.root, fileNames[k]), []byte(src.Get(k)), 0o644); err != nil {
			return errors.SaveError(id, errors.NewStorageError(errors.ErrCodeStorage, "write "+fileNames[k], err))
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".playpen-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
