// Package artifacts stores the files an ingest run leaves behind: the input
// csvs, the results report and the pipeline export.
package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

var ErrNotFound = errors.New("artifact not found")

// Store is a flat key/value blob store. Keys use '/' separators.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// LocalStore keeps artifacts under a directory on disk.
type LocalStore struct {
	Dir string
}

func (s LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if clean == "." || strings.HasPrefix(clean, "..") {
		return "", errors.Newf("invalid artifact key %q", key)
	}
	return filepath.Join(s.Dir, clean), nil
}

func (s LocalStore) Put(_ context.Context, key, _ string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, "create artifact dir for %s", key)
	}
	return errors.Wrapf(os.WriteFile(p, data, 0o644), "write artifact %s", key)
}

func (s LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotFound, "%s", key)
	}
	return data, errors.Wrapf(err, "read artifact %s", key)
}
