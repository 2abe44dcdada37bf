package recorder

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/banshee-data/rangescan/internal/fsutil"
)

// WriteFile creates dir/name on fsys and hands it to write. The file is
// closed even when write fails; both errors are reported.
func WriteFile(fsys fsutil.FileSystem, dir, name string, write func(io.Writer) error) (string, error) {
	fsys = fsutil.OrOS(fsys)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := fsys.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	werr := write(f)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return path, fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}
