package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_CreateAndRead(t *testing.T) {
	fsys := OSFileSystem{}
	path := filepath.Join(t.TempDir(), "plot.png")

	w, err := fsys.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("png")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := fsys.ReadFile(path)
	if err != nil || string(data) != "png" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}
}

func TestOSFileSystem_MkdirExisting(t *testing.T) {
	fsys := OSFileSystem{}
	dir := t.TempDir()
	if err := fsys.Mkdir(dir, 0o755); !errors.Is(err, fs.ErrExist) {
		t.Errorf("Mkdir(existing) err = %v, want fs.ErrExist", err)
	}
}

func TestMemoryFileSystem_ReadCopies(t *testing.T) {
	m := NewMemoryFileSystem()
	w, _ := m.Create("/runs/a.txt")
	_, _ = w.Write([]byte("hello"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	data, err := m.ReadFile("/runs/./a.txt")
	if err != nil || string(data) != "hello" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}

	data[0] = 'j'
	again, _ := m.ReadFile("/runs/a.txt")
	if string(again) != "hello" {
		t.Error("ReadFile returned shared buffer")
	}

	if _, err := m.ReadFile("/runs/b.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile(missing) err = %v, want fs.ErrNotExist", err)
	}
}

func TestMemoryFileSystem_CreateVisibleOnClose(t *testing.T) {
	m := NewMemoryFileSystem()
	w, err := m.Create("/out/report.html")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, _ = w.Write([]byte("<html>"))
	if data, _ := m.ReadFile("/out/report.html"); len(data) != 0 {
		t.Errorf("contents visible before Close: %q", data)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if data, _ := m.ReadFile("/out/report.html"); string(data) != "<html>" {
		t.Errorf("ReadFile after Close = %q", data)
	}
	if got := m.Files("/out"); len(got) != 1 || got[0] != "/out/report.html" {
		t.Errorf("Files(/out) = %v", got)
	}
}

func TestMemoryFileSystem_Mkdir(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.MkdirAll("/data/a/b", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, p := range []string{"/data", "/data/a", "/data/a/b"} {
		if !m.IsDir(p) {
			t.Errorf("IsDir(%q) = false", p)
		}
	}
	if err := m.Mkdir("/data/a", 0o755); !errors.Is(err, fs.ErrExist) {
		t.Errorf("Mkdir(existing) err = %v, want fs.ErrExist", err)
	}
	if err := m.Mkdir("/data/c", 0o755); err != nil {
		t.Errorf("Mkdir(new) err = %v", err)
	}
}

func TestUniqueDir(t *testing.T) {
	tests := []struct {
		name string
		fsys func(t *testing.T) (FileSystem, string)
	}{
		{"memory", func(t *testing.T) (FileSystem, string) {
			return NewMemoryFileSystem(), "/data"
		}},
		{"os", func(t *testing.T) (FileSystem, string) {
			return OSFileSystem{}, t.TempDir()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys, root := tt.fsys(t)
			base := filepath.Join(root, "2026-01-02_03-04-05_odmr")

			want := []string{base, base + "_2", base + "_3"}
			for _, w := range want {
				got, err := UniqueDir(fsys, base, 0o755)
				if err != nil {
					t.Fatalf("UniqueDir failed: %v", err)
				}
				if got != w {
					t.Errorf("UniqueDir = %q, want %q", got, w)
				}
				if !isDir(fsys, got) {
					t.Errorf("%q not created", got)
				}
			}
		})
	}
}

func isDir(fsys FileSystem, path string) bool {
	if m, ok := fsys.(*MemoryFileSystem); ok {
		return m.IsDir(path)
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

type failingFS struct{ *MemoryFileSystem }

func (failingFS) Mkdir(string, os.FileMode) error { return fs.ErrPermission }

func TestUniqueDir_PropagatesErrors(t *testing.T) {
	_, err := UniqueDir(failingFS{NewMemoryFileSystem()}, "/data/run", 0o755)
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("err = %v, want fs.ErrPermission", err)
	}
}
