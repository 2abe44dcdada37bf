// Package acquisition groups the raw reading stream of a source into frames,
// one per sensor rotation.
//
// The stream is pulled, never pushed: each call to FrameStream.Next blocks on
// the source until a frame can be closed. MaxBufMeas bounds the backlog a
// source may hold for a slow consumer; sources shed anything beyond it and
// report it through source.Shedder. The partial frame has its own ceiling,
// MaxFramePoints, which only a source that never marks a sweep can reach.
package acquisition

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/banshee-data/rangescan/internal/analysis"
	"github.com/banshee-data/rangescan/internal/monitoring"
	"github.com/banshee-data/rangescan/internal/processing"
	"github.com/banshee-data/rangescan/internal/scan"
	"github.com/banshee-data/rangescan/internal/source"
	"github.com/banshee-data/rangescan/internal/timeutil"
)

// DefaultMaxBufMeas bounds the source backlog, in measurements.
const DefaultMaxBufMeas = 500

// DefaultMaxFramePoints is well above one rotation of any A-series sensor.
const DefaultMaxFramePoints = 8192

const initialFrameCap = 512

// Config controls framing.
type Config struct {
	MaxBufMeas int

	// MaxFramePoints caps the partial frame. Zero means
	// DefaultMaxFramePoints. Beyond it the oldest points are dropped.
	MaxFramePoints int

	// Filter is applied to every reading with a return. Nil keeps all of
	// them.
	Filter *processing.Thresholds

	// Decimator, when set, sees every reading pulled from the source before
	// any filter. Readings it does not retain never reach a frame, but their
	// sweep boundaries still do.
	Decimator *analysis.Decimator

	// MinFramePoints discards frames with this many points or fewer. It
	// applies to the trailing frame at end of stream too. Zero emits every
	// non-empty frame.
	MinFramePoints int

	Clock  timeutil.Clock
	Logger *zerolog.Logger
}

// DefaultConfig uses the live thresholds.
func DefaultConfig() Config {
	live := processing.LiveThresholds()
	return Config{MaxBufMeas: DefaultMaxBufMeas, MaxFramePoints: DefaultMaxFramePoints, Filter: &live}
}

// Validate rejects settings that cannot frame a stream.
func (c Config) Validate() error {
	if c.MaxBufMeas < 1 {
		return scan.ConfigurationError("acquisition", "max_buf_meas must be >= 1, got %d", c.MaxBufMeas)
	}
	if c.MaxFramePoints < 0 {
		return scan.ConfigurationError("acquisition", "max_frame_points must be >= 0, got %d", c.MaxFramePoints)
	}
	if c.MinFramePoints < 0 {
		return scan.ConfigurationError("acquisition", "min_frame_points must be >= 0, got %d", c.MinFramePoints)
	}
	if c.Filter != nil {
		if err := c.Filter.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Stats counts what happened to every reading pulled so far.
type Stats struct {
	Readings         int64 `json:"readings"`
	DroppedDecimated int64 `json:"dropped_decimated"`
	DroppedNoReturn  int64 `json:"dropped_no_return"`
	DroppedFiltered  int64 `json:"dropped_filtered"`
	DroppedOverflow  int64 `json:"dropped_overflow"`
	DroppedLag       int64 `json:"dropped_lag"`
	DroppedShort     int64 `json:"dropped_short_frames"`
	Frames           int64 `json:"frames"`
	Points           int64 `json:"points"`
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("readings", s.Readings).
		Int64("dropped_decimated", s.DroppedDecimated).
		Int64("dropped_no_return", s.DroppedNoReturn).
		Int64("dropped_filtered", s.DroppedFiltered).
		Int64("dropped_overflow", s.DroppedOverflow).
		Int64("dropped_lag", s.DroppedLag).
		Int64("dropped_short_frames", s.DroppedShort).
		Int64("frames", s.Frames).
		Int64("points", s.Points)
}

// FrameStream is a lazy sequence of frames over one open handle. It is not
// safe for concurrent use.
type FrameStream struct {
	h     source.Handle
	cfg   Config
	clock timeutil.Clock
	log   zerolog.Logger

	stream  source.Stream
	partial []scan.Point
	err     error
	stats   Stats
	warned  bool
}

// New validates cfg. The source stream is started on the first Next.
func New(h source.Handle, cfg Config) (*FrameStream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := monitoring.Logger()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	if cfg.MaxFramePoints == 0 {
		cfg.MaxFramePoints = DefaultMaxFramePoints
	}
	return &FrameStream{
		h:       h,
		cfg:     cfg,
		clock:   timeutil.OrReal(cfg.Clock),
		log:     log,
		partial: make([]scan.Point, 0, initialFrameCap),
	}, nil
}

// Next returns the next non-empty frame. At the end of a finite source the
// trailing partial frame is returned first, unless it is short, then io.EOF. A failed source
// ends the sequence: the same error is returned from then on. Context
// errors are returned as is and do not end the sequence.
func (f *FrameStream) Next(ctx context.Context) (*scan.Frame, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.stream == nil {
		s, err := f.h.Stream(ctx, f.cfg.MaxBufMeas)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			f.err = err
			return nil, err
		}
		f.stream = s
	}

	for {
		r, err := f.stream.Next(ctx)
		if err != nil {
			return f.fail(ctx, err)
		}
		f.stats.Readings++

		var out *scan.Frame
		if r.NewSweep {
			out = f.cut()
		}
		if f.cfg.Decimator == nil || f.cfg.Decimator.Keep() {
			f.add(r)
		} else {
			f.stats.DroppedDecimated++
		}
		if out != nil {
			return out, nil
		}
	}
}

func (f *FrameStream) fail(ctx context.Context, err error) (*scan.Frame, error) {
	if errors.Is(err, io.EOF) {
		f.err = io.EOF
		if out := f.cut(); out != nil {
			return out, nil
		}
		return nil, io.EOF
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil, err
	}
	if !errors.Is(err, scan.ErrConnection) {
		err = scan.ConnectionError("read", err)
	}
	f.err = err
	return nil, err
}

// add runs the per-reading filters and appends to the partial frame.
func (f *FrameStream) add(r scan.Reading) {
	if r.DistanceMM <= 0 {
		f.stats.DroppedNoReturn++
		return
	}
	if f.cfg.Filter != nil && !f.cfg.Filter.IsValid(r.AsSample()) {
		f.stats.DroppedFiltered++
		return
	}
	if len(f.partial) >= f.cfg.MaxFramePoints {
		copy(f.partial, f.partial[1:])
		f.partial = f.partial[:len(f.partial)-1]
		f.stats.DroppedOverflow++
		if !f.warned {
			f.warned = true
			f.log.Warn().Int("max_frame_points", f.cfg.MaxFramePoints).Msg("no sweep boundary, dropping oldest points")
		}
	}
	f.partial = append(f.partial, r.Point())
}

// cut closes the partial frame at a sweep boundary or end of stream. Short
// frames are discarded.
func (f *FrameStream) cut() *scan.Frame {
	if len(f.partial) == 0 {
		return nil
	}
	if len(f.partial) <= f.cfg.MinFramePoints {
		f.stats.DroppedShort++
		f.partial = f.partial[:0]
		return nil
	}
	return f.emit()
}

func (f *FrameStream) emit() *scan.Frame {
	frame := &scan.Frame{Timestamp: f.clock.Now(), Points: f.partial}
	f.partial = make([]scan.Point, 0, max(initialFrameCap, len(frame.Points)))
	f.stats.Frames++
	f.stats.Points += int64(len(frame.Points))
	return frame
}

// Stats returns a snapshot of the counters.
func (f *FrameStream) Stats() Stats {
	st := f.stats
	if s, ok := f.stream.(source.Shedder); ok {
		st.DroppedLag = s.Shed()
	}
	return st
}
