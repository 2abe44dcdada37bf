package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rangescan/internal/fsutil"
	"github.com/banshee-data/rangescan/internal/processing"
	"github.com/banshee-data/rangescan/internal/scan"
)

// scan720 builds one full reference scan at 0.5° steps with 70 rows that
// fail analysis validation.
func scan720() string {
	var b strings.Builder
	b.WriteString("quality,angle,measure_m,ok\n")
	rejected := 0
	for i := 0; i < 720; i++ {
		q, d, ok := 20+i%50, 0.25+float64(i%90)*0.1, 1
		if rejected < 70 && i%10 == 3 {
			switch rejected % 3 {
			case 0:
				ok = 0
			case 1:
				q = 19
			case 2:
				d = 0.20
			}
			rejected++
		}
		fmt.Fprintf(&b, "%d,%.1f,%.4f,%d\n", q, float64(i)*0.5, d, ok)
	}
	return b.String()
}

func TestReadCSV(t *testing.T) {
	data, err := ReadCSV(strings.NewReader("quality,angle,measure_m,ok\n47,0.5,1.25,1\n12,359.5,0,0\n"))
	require.NoError(t, err)
	assert.Equal(t, Dataset{
		{Q: 47, Angle: 0.5, MeasureM: 1.25, Flag: 1},
		{Q: 12, Angle: 359.5, MeasureM: 0, Flag: 0},
	}, data)
	assert.True(t, data[0].OK())
	assert.False(t, data[1].OK())
}

func TestReadCSVHeaderOnly(t *testing.T) {
	data, err := ReadCSV(strings.NewReader("quality,angle,measure_m,ok\n"))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestReadCSVRejectsHeader(t *testing.T) {
	tests := map[string]string{
		"reordered":  "angle,quality,measure_m,ok",
		"renamed":    "quality,angle,distance_m,ok",
		"extra":      "quality,angle,measure_m,ok,extra",
		"missing":    "quality,angle,measure_m",
		"upper case": "Quality,angle,measure_m,ok",
		"padded":     "quality, angle,measure_m,ok",
		"empty file": "",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			// The body would fail to parse; the header must be rejected first.
			body := header + "\nnot,a,number,row\n"
			if header == "" {
				body = ""
			}
			_, err := ReadCSV(strings.NewReader(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, scan.ErrSchema))

			var se *scan.Error
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "read header", se.Op)
		})
	}
}

func TestReadCSVRejectsBadRow(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("quality,angle,measure_m,ok\n47,abc,1.0,1\n"))
	assert.ErrorIs(t, err, scan.ErrSchema)
	assert.Contains(t, err.Error(), "line 2")

	_, err = ReadCSV(strings.NewReader("quality,angle,measure_m,ok\n47,1.0,1\n"))
	assert.ErrorIs(t, err, scan.ErrSchema)
}

func TestScan720FiltersTo650(t *testing.T) {
	data, err := ReadCSV(strings.NewReader(scan720()))
	require.NoError(t, err)
	require.Len(t, data, 720)

	got := processing.FilterAndProject(processing.AnalysisThresholds(), data)
	assert.Len(t, got, 650)
	valid, invalid := processing.CountValid(processing.AnalysisThresholds(), data)
	assert.Equal(t, 650, valid)
	assert.Equal(t, 70, invalid)
}

func TestHealth(t *testing.T) {
	data := Dataset{
		{Q: 10, Angle: 0, MeasureM: 1, Flag: 1},
		{Q: 30, Angle: 90, MeasureM: 3, Flag: 0},
		{Q: 50, Angle: 359.5, MeasureM: 2, Flag: 1},
		{Q: 30, Angle: 180, MeasureM: 0.5, Flag: 1},
	}
	h := data.Health()
	assert.Equal(t, Health{
		Count:       4,
		OKRatio:     0.75,
		QualityMin:  10,
		QualityMax:  50,
		QualityMean: 30,
		MeasureMinM: 0.5,
		MeasureMaxM: 3,
		AngleMinDeg: 0,
		AngleMaxDeg: 359.5,
	}, h)

	assert.Equal(t, Health{}, Dataset(nil).Health())
}

func TestHealthLogsAsObject(t *testing.T) {
	var buf strings.Builder
	log := zerolog.New(&buf)
	log.Info().Object("health", Dataset{{Q: 20, Angle: 1, MeasureM: 1, Flag: 1}}.Health()).Msg("dataset")
	assert.Contains(t, buf.String(), `"count":1`)
	assert.Contains(t, buf.String(), `"ok_ratio":1`)

	buf.Reset()
	log.Info().Object("health", Health{}).Msg("dataset")
	assert.NotContains(t, buf.String(), "ok_ratio")
}

func TestInspect(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("data/scan_720.csv", []byte(scan720()))
	fsys.WriteFile("data/short.csv", []byte("quality,angle,measure_m,ok\n1,2,3,1\n"))
	fsys.WriteFile("data/bad.csv", []byte("q,a,m,ok\n1,2,3,1\n"))

	in, err := Inspect(fsys, "data/scan_720.csv", DefaultMinRows)
	require.NoError(t, err)
	assert.True(t, in.Exists)
	assert.True(t, in.HeaderOK)
	assert.Equal(t, 720, in.Rows)
	assert.True(t, in.ScanLengthOK())

	in, err = Inspect(fsys, "data/short.csv", DefaultMinRows)
	require.NoError(t, err)
	assert.True(t, in.HeaderOK)
	assert.False(t, in.ScanLengthOK())

	in, err = Inspect(fsys, "data/bad.csv", DefaultMinRows)
	require.NoError(t, err)
	assert.True(t, in.Exists)
	assert.False(t, in.HeaderOK)
	assert.Zero(t, in.Rows)

	in, err = Inspect(fsys, "data/missing.csv", DefaultMinRows)
	require.NoError(t, err)
	assert.False(t, in.Exists)
}

func TestInspectDirectoryHasNoHeader(t *testing.T) {
	dir := t.TempDir()

	in, err := Inspect(nil, dir, DefaultMinRows)
	require.NoError(t, err)
	assert.True(t, in.Exists)
	assert.False(t, in.HeaderOK)
	assert.Zero(t, in.Rows)
}

func TestLoadFile(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("scan.csv", []byte(scan720()))

	data, err := LoadFile(fsys, "scan.csv")
	require.NoError(t, err)
	assert.Len(t, data, 720)

	_, err = LoadFile(fsys, "nope.csv")
	assert.ErrorIs(t, err, scan.ErrConnection)
}

func TestSourceStreamsSweeps(t *testing.T) {
	ctx := context.Background()
	src := &Source{Path: "twice.csv", Samples: Dataset{
		{Q: 20, Angle: 0, MeasureM: 1, Flag: 1},
		{Q: 20, Angle: 180, MeasureM: 1.5, Flag: 1},
		{Q: 20, Angle: 359, MeasureM: 2, Flag: 0},
		{Q: 20, Angle: 1, MeasureM: 2.5, Flag: 1},
		{Q: 20, Angle: 90, MeasureM: 3, Flag: 1},
	}}

	h, err := src.Open(ctx)
	require.NoError(t, err)
	diag, err := h.Diagnostics(ctx)
	require.NoError(t, err)
	assert.Equal(t, "replay", diag.Model)
	assert.True(t, diag.Healthy())

	stream, err := h.Stream(ctx, 500)
	require.NoError(t, err)

	var got []scan.Reading
	for {
		r, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, r)
	}
	require.Len(t, got, 5)
	assert.Equal(t, []bool{true, false, false, true, false},
		[]bool{got[0].NewSweep, got[1].NewSweep, got[2].NewSweep, got[3].NewSweep, got[4].NewSweep})
	assert.Equal(t, 1500.0, got[1].DistanceMM)
	assert.False(t, got[2].Valid)

	_, err = h.Stream(ctx, 500)
	assert.ErrorIs(t, err, scan.ErrConnection, "a handle streams once")

	assert.NoError(t, h.StopScan())
	assert.NoError(t, h.StopMotor())
	assert.NoError(t, h.Close())
	assert.NoError(t, h.Close())
}

func TestSourceOpenLoadsFile(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("bad.csv", []byte("quality;angle\n"))

	_, err := (&Source{Path: "bad.csv", FS: fsys}).Open(context.Background())
	assert.ErrorIs(t, err, scan.ErrSchema)

	_, err = (&Source{Path: "missing.csv", FS: fsys}).Open(context.Background())
	assert.ErrorIs(t, err, scan.ErrConnection)
}
