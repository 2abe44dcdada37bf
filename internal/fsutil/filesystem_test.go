package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fsys := OSFileSystem{}

	if !fsys.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}
	if fsys.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_CreateAndOpen(t *testing.T) {
	fsys := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "out", "nested")
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	path := filepath.Join(dir, "scan.csv")
	w, err := fsys.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	io.WriteString(w, "t,quality,angle_deg,dist_mm\n")
	w.Close()

	f, err := fsys.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "t,quality,angle_deg,dist_mm\n" {
		t.Errorf("content = %q", data)
	}

	if _, err := fsys.CreateNew(path); !errors.Is(err, fs.ErrExist) {
		t.Errorf("CreateNew over an existing capture: got %v, want ErrExist", err)
	}
}

func TestOrOS(t *testing.T) {
	if _, ok := OrOS(nil).(OSFileSystem); !ok {
		t.Error("OrOS(nil) should return OSFileSystem")
	}
	mfs := NewMemoryFileSystem()
	if OrOS(mfs) != FileSystem(mfs) {
		t.Error("OrOS should return the given filesystem")
	}
}

func TestMemoryFileSystem_CreateVisibleOnClose(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/docs/filtered_points.csv")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Write([]byte("x_m,"))
	w.Write([]byte("y_m\n"))

	data, _ := mfs.ReadFile("/docs/filtered_points.csv")
	if len(data) != 0 {
		t.Errorf("expected empty file before Close, got %q", data)
	}

	w.Close()
	data, err = mfs.ReadFile("/docs/filtered_points.csv")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "x_m,y_m\n" {
		t.Errorf("content = %q", data)
	}
}

func TestMemoryFileSystem_Open(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.WriteFile("/data/scan_720.csv", []byte("quality,angle,measure_m,ok\n"))

	f, err := mfs.Open("/data/scan_720.csv")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	data, _ := io.ReadAll(f)
	if string(data) != "quality,angle,measure_m,ok\n" {
		t.Errorf("content = %q", data)
	}

	info, err := f.Stat()
	if err != nil || info.Name() != "scan_720.csv" {
		t.Errorf("Stat = %v, %v", info, err)
	}
}

func TestMemoryFileSystem_OpenNonExistent(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_, err := mfs.Open("/missing.csv")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
	if _, err := mfs.ReadFile("/missing.csv"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist from ReadFile, got %v", err)
	}
}

func TestMemoryFileSystem_MkdirAll(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.MkdirAll("/a/b/c", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		if !mfs.Exists(p) {
			t.Errorf("expected %s to exist", p)
		}
	}
	if mfs.Exists("/a/b/c/d") {
		t.Error("unexpected child directory")
	}
}

func TestMemoryFileSystem_FailCreate(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.FailCreate("/docs/report.csv")

	_, err := mfs.Create("/docs/report.csv")
	if !errors.Is(err, ErrInjected) {
		t.Errorf("expected ErrInjected, got %v", err)
	}
	if mfs.Exists("/docs/report.csv") {
		t.Error("failed create must not leave a file behind")
	}
}

func TestMemoryFileSystem_CreateNew(t *testing.T) {
	mfs := NewMemoryFileSystem()
	w, err := mfs.CreateNew("out/scan_20250301_140509.csv")
	if err != nil {
		t.Fatalf("CreateNew failed: %v", err)
	}
	io.WriteString(w, "t,quality,angle_deg,dist_mm\n")
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("second Close: got %v, want ErrClosed", err)
	}
	if _, err := w.Write([]byte("late")); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("Write after Close: got %v, want ErrClosed", err)
	}

	if _, err := mfs.CreateNew("out/scan_20250301_140509.csv"); !errors.Is(err, fs.ErrExist) {
		t.Errorf("expected ErrExist, got %v", err)
	}
	data, _ := mfs.ReadFile("out/scan_20250301_140509.csv")
	if string(data) != "t,quality,angle_deg,dist_mm\n" {
		t.Errorf("existing capture was modified: %q", data)
	}

	// Create truncates.
	w, err = mfs.Create("out/scan_20250301_140509.csv")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Close()
	if data, _ := mfs.ReadFile("out/scan_20250301_140509.csv"); len(data) != 0 {
		t.Errorf("expected truncated file, got %q", data)
	}
}
