package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxAllocateAttempts = 5

// Workspace hands out one private directory per execution under a shared root.
type Workspace struct {
	root   string
	fs     FileSystem
	logger *zap.Logger
}

// NewWorkspace resolves root to an absolute path and creates it if absent.
func NewWorkspace(root string, fs FileSystem, logger *zap.Logger) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root %q: %w", root, err)
	}
	if err := fs.MkdirAll(abs, DirPermission); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root %q: %w", abs, err)
	}
	return &Workspace{root: abs, fs: fs, logger: logger}, nil
}

// Root returns the absolute sandbox root.
func (w *Workspace) Root() string {
	return w.root
}

// Allocate creates a fresh, empty directory and returns its id and path.
func (w *Workspace) Allocate() (string, string, error) {
	for range maxAllocateAttempts {
		id := uuid.NewString()
		dir := filepath.Join(w.root, id)

		err := w.fs.Mkdir(dir, DirPermission)
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", fmt.Errorf("failed to create workspace %q: %w", dir, err)
		}
	}
	return "", "", fmt.Errorf("failed to allocate a unique workspace under %q", w.root)
}

// Release removes the directory. Failures are logged and swallowed.
func (w *Workspace) Release(dir string) {
	if dir == "" {
		return
	}
	if err := w.fs.RemoveAll(dir); err != nil {
		w.logger.Warn("failed to remove workspace", zap.String("path", dir), zap.Error(err))
	}
}
