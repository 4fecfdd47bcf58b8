package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
)

// LocalStore keeps blobs under a directory on disk.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (l *LocalStore) path(userID uint, imageID string) string {
	return filepath.Join(l.root, filepath.FromSlash(Key(userID, imageID)))
}

func (l *LocalStore) Put(ctx context.Context, userID uint, imageID string, body io.ReadSeeker, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := l.path(userID, imageID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	// write then rename so readers never see a partial file
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (l *LocalStore) Open(ctx context.Context, userID uint, imageID string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path(userID, imageID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	// disk has no content type metadata, sniff it
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	return &Object{
		Body:          f,
		ContentType:   http.DetectContentType(head[:n]),
		ContentLength: stat.Size(),
	}, nil
}

func (l *LocalStore) Delete(ctx context.Context, userID uint, imageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(l.path(userID, imageID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (l *LocalStore) URI(userID uint, imageID string) string {
	return FileRoute(userID, imageID)
}
