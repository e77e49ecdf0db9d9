package sandbox

import (
	"context"
	"os"
)

// Executor defines the interface for sandbox execution
type Executor interface {
	// ExecuteCode never fails: every error is reported inside the result.
	ExecuteCode(ctx context.Context, req ExecutionRequest) ExecutionResult
	// Active lists the environment IDs of executions still in flight.
	Active() []string
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	Mkdir(path string, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	ReadDir(path string) ([]os.DirEntry, error)
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) Mkdir(path string, perm os.FileMode) error {
	return os.Mkdir(path, perm)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0644
)
