// Package recorder writes scan data to CSV: live captures, projected point
// clouds and outlier listings.
package recorder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/rangescan/internal/fsutil"
	"github.com/banshee-data/rangescan/internal/scan"
)

// CaptureHeader is the first row of a live capture file.
var CaptureHeader = []string{"t", "quality", "angle_deg", "dist_mm"}

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("recorder is closed")

// CaptureFileName names a capture started at t so runs never overwrite each
// other.
func CaptureFileName(t time.Time) string {
	return "scan_" + t.Format("20060102_150405") + ".csv"
}

// CaptureWriter writes one row per frame point. All rows of a frame share
// the frame timestamp.
type CaptureWriter struct {
	out io.WriteCloser
	csv *csv.Writer

	mu     sync.Mutex
	rows   int64
	closed bool
}

// NewCaptureWriter writes the header to out.
func NewCaptureWriter(out io.WriteCloser) (*CaptureWriter, error) {
	w := &CaptureWriter{out: out, csv: csv.NewWriter(out)}
	if err := w.csv.Write(CaptureHeader); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return w, nil
}

// CreateCapture creates dir if needed and opens a new timestamped capture in
// it. It returns the writer and the file path. An existing capture with the
// same name is never overwritten.
func CreateCapture(fsys fsutil.FileSystem, dir string, now time.Time) (*CaptureWriter, string, error) {
	fsys = fsutil.OrOS(fsys)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, CaptureFileName(now))
	f, err := fsys.CreateNew(path)
	if err != nil {
		return nil, "", fmt.Errorf("create capture: %w", err)
	}
	w, err := NewCaptureWriter(f)
	if err != nil {
		f.Close()
		return nil, "", err
	}
	return w, path, nil
}

// FormatTimestamp renders t as Unix seconds with four decimals.
func FormatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 4, 64)
}

// WriteFrame writes the points of f and flushes them, so a capture cut short
// keeps every whole frame.
func (w *CaptureWriter) WriteFrame(f *scan.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if f.Len() == 0 {
		return nil
	}

	ts := FormatTimestamp(f.Timestamp)
	for _, p := range f.Points {
		row := []string{
			ts,
			strconv.Itoa(p.Quality),
			strconv.FormatFloat(p.AngleDeg, 'f', 3, 64),
			strconv.FormatFloat(p.DistanceMM, 'f', 1, 64),
		}
		if err := w.csv.Write(row); err != nil {
			return fmt.Errorf("write capture row: %w", err)
		}
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("write capture row: %w", err)
	}
	w.rows += int64(len(f.Points))
	return nil
}

// Rows returns the number of rows written.
func (w *CaptureWriter) Rows() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Close flushes and closes the file. Calls after the first return nil.
func (w *CaptureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.csv.Flush()
	flushErr := w.csv.Error()
	closeErr := w.out.Close()
	return errors.Join(flushErr, closeErr)
}
