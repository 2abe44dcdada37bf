package acquisition

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rangescan/internal/analysis"
	"github.com/banshee-data/rangescan/internal/processing"
	"github.com/banshee-data/rangescan/internal/scan"
	"github.com/banshee-data/rangescan/internal/source"
	"github.com/banshee-data/rangescan/internal/timeutil"
)

type fakeHandle struct {
	stream      source.Stream
	streamErr   error
	maxBuffered int
	calls       int
}

func (h *fakeHandle) Diagnostics(context.Context) (scan.Diagnostics, error) {
	return scan.Diagnostics{Status: scan.HealthGood}, nil
}

func (h *fakeHandle) Stream(_ context.Context, maxBuffered int) (source.Stream, error) {
	h.calls++
	h.maxBuffered = maxBuffered
	if h.streamErr != nil {
		return nil, h.streamErr
	}
	return h.stream, nil
}

func (h *fakeHandle) StopScan() error  { return nil }
func (h *fakeHandle) StopMotor() error { return nil }
func (h *fakeHandle) Close() error     { return nil }

func rd(newSweep bool, q int, angle, dist float64) scan.Reading {
	return scan.Reading{NewSweep: newSweep, Quality: q, AngleDeg: angle, DistanceMM: dist, Valid: true}
}

var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig(filter *processing.Thresholds) (Config, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(testEpoch)
	clock.SetStep(100 * time.Millisecond)
	log := zerolog.Nop()
	return Config{MaxBufMeas: DefaultMaxBufMeas, Filter: filter, Clock: clock, Logger: &log}, clock
}

func collect(t *testing.T, fs *FrameStream) []*scan.Frame {
	t.Helper()
	var frames []*scan.Frame
	for {
		f, err := fs.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func TestFramesSplitOnSweepBoundary(t *testing.T) {
	h := &fakeHandle{stream: source.Slice([]scan.Reading{
		rd(true, 20, 0, 1000),
		rd(false, 20, 120, 1100),
		rd(false, 20, 240, 0), // no return
		rd(true, 20, 1, 1200),
		rd(false, 20, 181, 1300),
		rd(true, 20, 2, 1400),
	})}
	cfg, _ := testConfig(nil)
	fs, err := New(h, cfg)
	require.NoError(t, err)
	assert.Zero(t, h.calls, "stream starts lazily")

	frames := collect(t, fs)
	require.Len(t, frames, 3)
	assert.Equal(t, 500, h.maxBuffered)

	want := [][]scan.Point{
		{{Quality: 20, AngleDeg: 0, DistanceMM: 1000}, {Quality: 20, AngleDeg: 120, DistanceMM: 1100}},
		{{Quality: 20, AngleDeg: 1, DistanceMM: 1200}, {Quality: 20, AngleDeg: 181, DistanceMM: 1300}},
		{{Quality: 20, AngleDeg: 2, DistanceMM: 1400}},
	}
	for i, f := range frames {
		if diff := cmp.Diff(want[i], f.Points); diff != "" {
			t.Errorf("frame %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	assert.Equal(t, testEpoch, frames[0].Timestamp)
	assert.Equal(t, testEpoch.Add(100*time.Millisecond), frames[1].Timestamp)

	st := fs.Stats()
	assert.Equal(t, int64(6), st.Readings)
	assert.Equal(t, int64(1), st.DroppedNoReturn)
	assert.Equal(t, int64(3), st.Frames)
	assert.Equal(t, int64(5), st.Points)

	_, err = fs.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF, "EOF is sticky")
	assert.Equal(t, 1, h.calls)
}

func TestEmptyFramesNeverEmitted(t *testing.T) {
	h := &fakeHandle{stream: source.Slice([]scan.Reading{
		rd(true, 20, 0, 0),
		rd(false, 20, 90, -1),
		rd(true, 20, 0, 0),
		rd(true, 5, 10, 1000), // filtered by quality
		rd(true, 20, 0, 900),
		rd(true, 20, 0, 0),
	})}
	live := processing.LiveThresholds()
	cfg, _ := testConfig(&live)
	fs, err := New(h, cfg)
	require.NoError(t, err)

	frames := collect(t, fs)
	require.Len(t, frames, 1)
	assert.Equal(t, 900.0, frames[0].Points[0].DistanceMM)
	assert.Equal(t, int64(1), fs.Stats().DroppedFiltered)
	assert.Equal(t, int64(4), fs.Stats().DroppedNoReturn)
}

func TestLiveFilterBounds(t *testing.T) {
	h := &fakeHandle{stream: source.Slice([]scan.Reading{
		rd(true, 10, 0, 12000), // both bounds inclusive-ok: q at min, d at max
		rd(false, 10, 1, 150),  // d at min is excluded
		rd(false, 9, 2, 1000),
		rd(false, 30, 3, 12000.25),
		{Quality: 30, AngleDeg: 4, DistanceMM: 1000, Valid: false},
	})}
	live := processing.LiveThresholds()
	cfg, _ := testConfig(&live)
	fs, err := New(h, cfg)
	require.NoError(t, err)

	frames := collect(t, fs)
	require.Len(t, frames, 1)
	assert.Equal(t, []scan.Point{{Quality: 10, AngleDeg: 0, DistanceMM: 12000}}, frames[0].Points)
	assert.Equal(t, int64(4), fs.Stats().DroppedFiltered)
}

func TestRotationWiderThanBacklogIsWhole(t *testing.T) {
	var in []scan.Reading
	for i := 0; i < 720; i++ {
		in = append(in, rd(i == 0, 40, float64(i)*0.5, 1000))
	}
	in = append(in, rd(true, 40, 0, 1000))

	cfg, _ := testConfig(nil)
	h := &fakeHandle{stream: source.Slice(in)}
	fs, err := New(h, cfg)
	require.NoError(t, err)

	f, err := fs.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 720, f.Len())
	assert.Equal(t, 0.0, f.Points[0].AngleDeg)
	assert.Equal(t, 359.5, f.Points[719].AngleDeg)
	assert.Zero(t, fs.Stats().DroppedOverflow)
	assert.Equal(t, DefaultMaxBufMeas, h.maxBuffered, "the backlog bound goes to the source")
}

func TestFrameCeilingDropsOldest(t *testing.T) {
	var in []scan.Reading
	for i := 0; i < 7; i++ {
		in = append(in, rd(i == 0, 20, float64(i), 1000+float64(i)))
	}
	in = append(in, rd(true, 20, 0, 2000))

	cfg, _ := testConfig(nil)
	cfg.MaxFramePoints = 3
	fs, err := New(&fakeHandle{stream: source.Slice(in)}, cfg)
	require.NoError(t, err)

	f, err := fs.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6}, angles(f))
	assert.Equal(t, int64(4), fs.Stats().DroppedOverflow)

	f, err = fs.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())
}

// sheddingStream hands out readings and reports a fixed backlog discard.
type sheddingStream struct {
	source.Stream
	shed int64
}

func (s *sheddingStream) Shed() int64 { return s.shed }

func TestStatsIncludeSourceShedding(t *testing.T) {
	stream := &sheddingStream{Stream: source.Slice([]scan.Reading{rd(true, 20, 0, 1000)}), shed: 250}
	cfg, _ := testConfig(nil)
	fs, err := New(&fakeHandle{stream: stream}, cfg)
	require.NoError(t, err)
	assert.Zero(t, fs.Stats().DroppedLag, "no stream before the first pull")

	frames := collect(t, fs)
	require.Len(t, frames, 1)
	assert.Equal(t, int64(250), fs.Stats().DroppedLag)
}

func angles(f *scan.Frame) []float64 {
	out := make([]float64, len(f.Points))
	for i, p := range f.Points {
		out[i] = p.AngleDeg
	}
	return out
}

func TestMinFramePoints(t *testing.T) {
	h := &fakeHandle{stream: source.Slice([]scan.Reading{
		rd(true, 20, 0, 1000),
		rd(false, 20, 1, 1000),
		rd(true, 20, 0, 1000),
		rd(false, 20, 1, 1000),
		rd(false, 20, 2, 1000),
		rd(true, 20, 0, 1000),
	})}
	cfg, _ := testConfig(nil)
	cfg.MinFramePoints = 2
	fs, err := New(h, cfg)
	require.NoError(t, err)

	frames := collect(t, fs)
	require.Len(t, frames, 1)
	assert.Equal(t, 3, frames[0].Len())
	assert.Equal(t, int64(2), fs.Stats().DroppedShort, "a short trailing frame is dropped too")
}

func TestTrailingFrameFlushedAtEOF(t *testing.T) {
	h := &fakeHandle{stream: source.Slice([]scan.Reading{
		rd(true, 20, 0, 1000),
		rd(false, 20, 1, 1000),
		rd(false, 20, 2, 1000),
	})}
	cfg, _ := testConfig(nil)
	cfg.MinFramePoints = 2
	fs, err := New(h, cfg)
	require.NoError(t, err)

	frames := collect(t, fs)
	require.Len(t, frames, 1)
	assert.Equal(t, 3, frames[0].Len())
}

func TestDecimationCountsRawReadings(t *testing.T) {
	h := &fakeHandle{stream: source.Slice([]scan.Reading{
		rd(true, 20, 0, 1000),
		rd(false, 20, 1, 0), // position 2: retained, then no return
		rd(false, 5, 2, 1000),
		rd(false, 20, 3, 1000),
		rd(true, 20, 4, 1000),
		rd(false, 20, 5, 1000),
		rd(false, 20, 6, 1000),
		rd(false, 20, 7, 1000),
		rd(true, 20, 8, 1000), // position 9: its sweep boundary still cuts
	})}
	dec, err := analysis.NewDecimator(2)
	require.NoError(t, err)
	live := processing.LiveThresholds()
	cfg, _ := testConfig(&live)
	cfg.Decimator = dec
	fs, err := New(h, cfg)
	require.NoError(t, err)

	frames := collect(t, fs)
	require.Len(t, frames, 2)
	assert.Equal(t, []float64{3}, angles(frames[0]))
	assert.Equal(t, []float64{5, 7}, angles(frames[1]))

	st := fs.Stats()
	assert.Equal(t, int64(9), st.Readings)
	assert.Equal(t, int64(5), st.DroppedDecimated)
	assert.Equal(t, int64(1), st.DroppedNoReturn)
	assert.Zero(t, st.DroppedFiltered, "the low-quality reading was never retained")
	assert.Equal(t, int64(3), st.Points)
}

func TestEmittedFramesAreNotReused(t *testing.T) {
	h := &fakeHandle{stream: source.Slice([]scan.Reading{
		rd(true, 20, 0, 1000),
		rd(true, 20, 1, 2000),
		rd(true, 20, 2, 3000),
	})}
	cfg, _ := testConfig(nil)
	fs, err := New(h, cfg)
	require.NoError(t, err)

	first, err := fs.Next(context.Background())
	require.NoError(t, err)
	_ = collect(t, fs)
	assert.Equal(t, []scan.Point{{Quality: 20, AngleDeg: 0, DistanceMM: 1000}}, first.Points)
}

func TestMidStreamErrorIsTerminal(t *testing.T) {
	n := 0
	h := &fakeHandle{stream: source.StreamFunc(func(ctx context.Context) (scan.Reading, error) {
		n++
		if n <= 3 {
			return rd(n == 1, 20, float64(n), 1000), nil
		}
		return scan.Reading{}, errors.New("usb unplugged")
	})}
	cfg, _ := testConfig(nil)
	fs, err := New(h, cfg)
	require.NoError(t, err)

	_, err = fs.Next(context.Background())
	require.ErrorIs(t, err, scan.ErrConnection)
	_, again := fs.Next(context.Background())
	assert.Equal(t, err, again)
	assert.Equal(t, 4, n, "no further reads after a terminal error")
}

func TestConnectionErrorPassesThrough(t *testing.T) {
	cause := scan.ConnectionError("read_scan", io.ErrUnexpectedEOF)
	h := &fakeHandle{stream: source.StreamFunc(func(context.Context) (scan.Reading, error) {
		return scan.Reading{}, cause
	})}
	cfg, _ := testConfig(nil)
	fs, _ := New(h, cfg)
	_, err := fs.Next(context.Background())
	assert.Equal(t, cause, err)
}

func TestStreamStartFailure(t *testing.T) {
	h := &fakeHandle{streamErr: scan.ConnectionError("start_scan", errors.New("bad descriptor"))}
	cfg, _ := testConfig(nil)
	fs, err := New(h, cfg)
	require.NoError(t, err)

	_, err = fs.Next(context.Background())
	assert.ErrorIs(t, err, scan.ErrConnection)
	_, err = fs.Next(context.Background())
	assert.ErrorIs(t, err, scan.ErrConnection)
	assert.Equal(t, 1, h.calls)
}

func TestCancellationIsNotTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &fakeHandle{stream: source.StreamFunc(func(ctx context.Context) (scan.Reading, error) {
		if err := ctx.Err(); err != nil {
			return scan.Reading{}, err
		}
		return rd(false, 20, 0, 1000), nil
	})}
	cfg, _ := testConfig(nil)
	cfg.MaxBufMeas = 4
	fs, err := New(h, cfg)
	require.NoError(t, err)

	cancel()
	_, err = fs.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, scan.ErrConnection)

	_, err = fs.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Equal(t, processing.LiveThresholds(), *DefaultConfig().Filter)

	for _, cfg := range []Config{
		{MaxBufMeas: 0},
		{MaxBufMeas: -5},
		{MaxBufMeas: 10, MinFramePoints: -1},
		{MaxBufMeas: 10, MaxFramePoints: -1},
		{MaxBufMeas: 10, Filter: &processing.Thresholds{DistMin: 5, DistMax: 1}},
	} {
		_, err := New(&fakeHandle{}, cfg)
		assert.ErrorIs(t, err, scan.ErrConfiguration, "%+v", cfg)
	}
}

// Random streams: every emitted frame is non-empty and carries no point
// without a return.
func TestRandomStreamsKeepFrameInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		n := rng.Intn(400)
		in := make([]scan.Reading, n)
		for i := range in {
			d := float64(rng.Intn(3000)) - 500
			in[i] = rd(rng.Intn(20) == 0, rng.Intn(64), rng.Float64()*360, d)
		}
		cfg, _ := testConfig(nil)
		cfg.MaxFramePoints = 1 + rng.Intn(60)
		dec, err := analysis.NewDecimator(1 + rng.Intn(3))
		require.NoError(t, err)
		cfg.Decimator = dec
		fs, err := New(&fakeHandle{stream: source.Slice(in)}, cfg)
		require.NoError(t, err)

		var total int64
		for _, f := range collect(t, fs) {
			require.GreaterOrEqual(t, f.Len(), 1)
			require.LessOrEqual(t, f.Len(), cfg.MaxFramePoints)
			for _, p := range f.Points {
				require.Greater(t, p.DistanceMM, 0.0)
			}
			total += int64(f.Len())
		}
		st := fs.Stats()
		assert.Equal(t, int64(n), st.Readings)
		assert.Equal(t, st.Readings, total+st.DroppedDecimated+st.DroppedNoReturn+st.DroppedFiltered+st.DroppedOverflow)
	}
}
