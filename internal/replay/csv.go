// Package replay reads recorded scans from CSV and serves them through the
// same source contract as the live sensor.
package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/rangescan/internal/fsutil"
	"github.com/banshee-data/rangescan/internal/scan"
)

// Header is the exact first row every replay file must carry.
var Header = []string{"quality", "angle", "measure_m", "ok"}

// DefaultMinRows is the row count of one reference scan at 0.5° steps.
const DefaultMinRows = 720

// Sample is one CSV row. Distance is in metres.
type Sample struct {
	Q        int     // 0-255
	Angle    float64 // degrees
	MeasureM float64
	Flag     int // 1 means the sensor marked the row valid
}

func (s Sample) Quality() int      { return s.Q }
func (s Sample) AngleDeg() float64 { return s.Angle }
func (s Sample) Distance() float64 { return s.MeasureM }
func (s Sample) OK() bool          { return s.Flag == 1 }

var _ scan.Sample = Sample{}

// Reading converts the sample to a millimetre reading.
func (s Sample) Reading(newSweep bool) scan.Reading {
	return scan.Reading{
		NewSweep:   newSweep,
		Quality:    s.Q,
		AngleDeg:   s.Angle,
		DistanceMM: s.MeasureM * 1000,
		Valid:      s.OK(),
	}
}

// Dataset is a loaded replay file in row order.
type Dataset []Sample

func checkHeader(got []string) error {
	if len(got) != len(Header) {
		return scan.SchemaError("read header", "expected %s, got %s",
			strings.Join(Header, ","), strings.Join(got, ","))
	}
	for i := range Header {
		if got[i] != Header[i] {
			return scan.SchemaError("read header", "expected %s, got %s",
				strings.Join(Header, ","), strings.Join(got, ","))
		}
	}
	return nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return cr
}

func readHeader(cr *csv.Reader) error {
	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return scan.SchemaError("read header", "file is empty")
	}
	if err != nil {
		return scan.SchemaError("read header", "%v", err)
	}
	return checkHeader(head)
}

// ReadCSV validates the header, then parses every row. A header mismatch is
// reported before any row is read.
func ReadCSV(r io.Reader) (Dataset, error) {
	cr := newReader(r)
	if err := readHeader(cr); err != nil {
		return nil, err
	}

	var out Dataset
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, scan.SchemaError("read row", "line %d: %v", line, err)
		}
		s, err := parseRow(rec)
		if err != nil {
			return nil, scan.SchemaError("read row", "line %d: %v", line, err)
		}
		out = append(out, s)
	}
}

func parseRow(rec []string) (Sample, error) {
	if len(rec) != len(Header) {
		return Sample{}, fmt.Errorf("expected %d fields, got %d", len(Header), len(rec))
	}
	q, err := strconv.Atoi(rec[0])
	if err != nil {
		return Sample{}, fmt.Errorf("quality: %w", err)
	}
	angle, err := strconv.ParseFloat(rec[1], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("angle: %w", err)
	}
	m, err := strconv.ParseFloat(rec[2], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("measure_m: %w", err)
	}
	ok, err := strconv.Atoi(rec[3])
	if err != nil {
		return Sample{}, fmt.Errorf("ok: %w", err)
	}
	return Sample{Q: q, Angle: angle, MeasureM: m, Flag: ok}, nil
}

// LoadFile reads a replay file. A missing or unreadable file is
// scan.ErrConnection; a bad header or row is scan.ErrSchema.
func LoadFile(fsys fsutil.FileSystem, path string) (Dataset, error) {
	f, err := fsutil.OrOS(fsys).Open(path)
	if err != nil {
		return nil, scan.ConnectionError("open replay", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// Inspection is what the offline checklist needs to know about a file.
type Inspection struct {
	Path     string
	Exists   bool
	HeaderOK bool
	Rows     int
	MinRows  int
}

// ScanLengthOK reports whether the file holds at least MinRows rows.
func (in Inspection) ScanLengthOK() bool {
	return in.Rows >= in.MinRows
}

// Inspect checks a file without parsing row values. A missing file or bad
// header is reported in the result, not as an error.
func Inspect(fsys fsutil.FileSystem, path string, minRows int) (Inspection, error) {
	in := Inspection{Path: path, MinRows: minRows}
	fsys = fsutil.OrOS(fsys)
	if !fsys.Exists(path) {
		return in, nil
	}
	in.Exists = true

	f, err := fsys.Open(path)
	if err != nil {
		return in, fmt.Errorf("inspect %s: %w", path, err)
	}
	defer f.Close()

	cr := newReader(f)
	if err := readHeader(cr); err != nil {
		return in, nil
	}
	in.HeaderOK = true

	for {
		_, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return in, nil
		}
		if err != nil {
			return in, fmt.Errorf("inspect %s: %w", path, err)
		}
		in.Rows++
	}
}
