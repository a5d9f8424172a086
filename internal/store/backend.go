package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/thrillee/aegisrouter/internal/config"
)

// Backend stores persisted documents by profile and scope.
type Backend interface {
	Save(ctx context.Context, profile, scope string, data []byte) error
	Load(ctx context.Context, profile, scope string) ([]byte, error)
	Close() error
}

// New opens the backend selected by cfg.
func New(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		return NewFileBackend(cfg.Path)
	case "postgres", "postgresql":
		return NewPostgresBackend(ctx, cfg.DatabaseURL)
	case "sqlite":
		return NewSQLiteBackend(ctx, cfg.DatabaseURL)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func validName(kind, name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}

// FileBackend writes <dir>/<profile>.<scope>.
type FileBackend struct {
	Dir string
}

var _ Backend = (*FileBackend)(nil)

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileBackend{Dir: dir}, nil
}

func (b *FileBackend) path(profile, scope string) (string, error) {
	if err := validName("profile", profile); err != nil {
		return "", err
	}
	if err := validName("scope", scope); err != nil {
		return "", err
	}
	return filepath.Join(b.Dir, profile+"."+scope), nil
}

func (b *FileBackend) Save(_ context.Context, profile, scope string, data []byte) error {
	p, err := b.path(profile, scope)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.Dir, "."+profile+"."+scope+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", p, err)
	}
	return os.Rename(tmp.Name(), p)
}

func (b *FileBackend) Load(_ context.Context, profile, scope string) ([]byte, error) {
	p, err := b.path(profile, scope)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return data, err
}

func (b *FileBackend) Close() error { return nil }
