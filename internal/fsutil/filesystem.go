// Package fsutil is the file layer under run directories and rendered plots.
// The engine and the plot renderer write through FileSystem so tests can
// keep a whole run in memory.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileSystem is the subset of file operations a measurement run needs.
type FileSystem interface {
	Create(name string) (io.WriteCloser, error)
	ReadFile(name string) ([]byte, error)

	// Mkdir creates exactly one directory and fails with fs.ErrExist when
	// the path is taken.
	Mkdir(path string, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
}

// OSFileSystem writes to disk.
type OSFileSystem struct{}

func (OSFileSystem) Create(name string) (io.WriteCloser, error)   { return os.Create(name) }
func (OSFileSystem) ReadFile(name string) ([]byte, error)         { return os.ReadFile(name) }
func (OSFileSystem) Mkdir(path string, perm os.FileMode) error    { return os.Mkdir(path, perm) }
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

// MemoryFileSystem keeps files and directories in maps. Paths are cleaned
// before use, so "a/./b" and "a/b" name the same entry.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{files: map[string][]byte{}, dirs: map[string]bool{}}
}

// Create truncates name. What is written shows up when the writer is closed.
func (m *MemoryFileSystem) Create(name string) (io.WriteCloser, error) {
	name = filepath.Clean(name)
	m.mu.Lock()
	m.files[name] = nil
	m.mu.Unlock()
	return &pendingFile{fs: m, name: name}, nil
}

func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	name = filepath.Clean(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryFileSystem) Mkdir(path string, perm os.FileMode) error {
	path = filepath.Clean(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, isFile := m.files[path]; isFile || m.dirs[path] {
		return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrExist}
	}
	m.dirs[path] = true
	return nil
}

func (m *MemoryFileSystem) MkdirAll(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := filepath.Clean(path); p != "." && p != string(filepath.Separator); {
		m.dirs[p] = true
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	return nil
}

// IsDir reports whether path was created as a directory.
func (m *MemoryFileSystem) IsDir(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[filepath.Clean(path)]
}

// Files returns the sorted paths of all files below dir.
func (m *MemoryFileSystem) Files(dir string) []string {
	prefix := filepath.Clean(dir) + string(filepath.Separator)
	m.mu.RLock()
	var out []string
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

type pendingFile struct {
	fs   *MemoryFileSystem
	name string
	buf  []byte
}

func (f *pendingFile) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

func (f *pendingFile) Close() error {
	f.fs.mu.Lock()
	f.fs.files[f.name] = f.buf
	f.fs.mu.Unlock()
	return nil
}

// MaxUniqueAttempts bounds the numeric suffixes tried by UniqueDir.
const MaxUniqueAttempts = 1000

// UniqueDir creates base, or base_2, base_3, ... if base already exists, and
// returns the directory it created. Parent directories are created as needed.
func UniqueDir(fsys FileSystem, base string, perm os.FileMode) (string, error) {
	if err := fsys.MkdirAll(filepath.Dir(base), perm); err != nil {
		return "", fmt.Errorf("failed to create parent of %s: %w", base, err)
	}
	for i := 1; i <= MaxUniqueAttempts; i++ {
		path := base
		if i > 1 {
			path = fmt.Sprintf("%s_%d", base, i)
		}
		err := fsys.Mkdir(path, perm)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to create %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("no free directory name for %s after %d attempts", base, MaxUniqueAttempts)
}
