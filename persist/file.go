package persist

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"github.com/teranos/weave/errors"
)

// FileStore keeps one .nq file per snapshot under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create snapshot dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

// path escapes id so urls and DIDs map to flat file names.
func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, url.PathEscape(id)+".nq")
}

// Load implements Persister.
func (f *FileStore) Load(_ context.Context, id string) (string, bool, error) {
	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "read snapshot %s", id)
	}
	return string(data), true, nil
}

// Save implements Persister. Writes go through a temp file and rename.
func (f *FileStore) Save(_ context.Context, id, nquads string) error {
	tmp, err := os.CreateTemp(f.dir, ".snapshot-*")
	if err != nil {
		return errors.Wrapf(err, "save snapshot %s", id)
	}
	if _, err := tmp.WriteString(nquads); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "save snapshot %s", id)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "save snapshot %s", id)
	}
	if err := os.Rename(tmp.Name(), f.path(id)); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "save snapshot %s", id)
	}
	return nil
}
