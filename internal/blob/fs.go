package blob

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vetlab/bloodwork-analyzer/internal/domain"
)

// FSStore keeps blobs as files under a root directory. Writes go to a temp
// file first and are renamed into place, so readers never see partial data.
type FSStore struct {
	root string
	now  func() time.Time
}

// NewFSStore returns a filesystem store rooted at root, creating it if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		root = "./blobdata"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, domain.StorageError("create blob root", err)
	}
	return &FSStore{root: root, now: time.Now}, nil
}

func (s *FSStore) pathFor(handle string) (string, error) {
	if err := validHandle(handle); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(filepath.Clean(handle))), nil
}

func (s *FSStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := NewHandle(s.now(), contentType)
	path, err := s.pathFor(handle)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", domain.StorageError("create blob directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", domain.StorageError("create temp blob", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", domain.StorageError("write blob", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", domain.StorageError("sync blob", err)
	}
	if err := tmp.Close(); err != nil {
		return "", domain.StorageError("close blob", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", domain.StorageError("move blob into place", err)
	}
	return handle, nil
}

func (s *FSStore) Get(ctx context.Context, handle string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.pathFor(handle)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(handle)
	}
	if err != nil {
		return nil, domain.StorageError("read blob", err)
	}
	return data, nil
}

func (s *FSStore) Delete(_ context.Context, handle string) error {
	path, err := s.pathFor(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.StorageError("delete blob", err)
	}
	return nil
}
