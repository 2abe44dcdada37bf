package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/banshee-data/rangescan/internal/acquisition"
	"github.com/banshee-data/rangescan/internal/monitoring"
	"github.com/banshee-data/rangescan/internal/scan"
	"github.com/banshee-data/rangescan/internal/shutdown"
	"github.com/banshee-data/rangescan/internal/source"
)

// ErrStopScan is returned by a frame consumer to end the run cleanly.
var ErrStopScan = errors.New("stop scan")

// ErrUnhealthy is returned when the sensor reports an Error health status.
var ErrUnhealthy = errors.New("sensor unhealthy")

// Consumer receives each frame. The frame belongs to the consumer.
type Consumer func(frame *scan.Frame) error

// Session runs one live acquisition from checklist to shutdown.
type Session struct {
	Source      source.Source
	Checklist   Checklist
	Acquisition acquisition.Config
	Logger      *zerolog.Logger

	// OnTransition, if set, is called after every state change.
	OnTransition func(from, to State, ev Event)

	// OnReady, if set, runs after diagnostics pass and before the scan
	// starts. An error aborts the run to Error.
	OnReady func(diag scan.Diagnostics) error
}

// Result describes how a run ended.
type Result struct {
	State       State
	History     []State
	Diagnostics scan.Diagnostics
	Frames      int64
	Stats       acquisition.Stats

	// ShutdownErr holds any failed shutdown steps. It is never returned as
	// the run error.
	ShutdownErr error
}

type run struct {
	s   *Session
	log zerolog.Logger
	res *Result
}

func (r *run) fire(ev Event) {
	from := r.res.State
	to := Transition(from, ev)
	if to == from {
		return
	}
	r.res.State = to
	r.res.History = append(r.res.History, to)
	r.log.Info().
		Stringer("from", from).
		Stringer("to", to).
		Str("event", string(ev)).
		Msg("state transition")
	if r.s.OnTransition != nil {
		r.s.OnTransition(from, to, ev)
	}
}

// Run executes the session. Configuration problems, including an incomplete
// checklist, are reported before any I/O with the state left at Init.
//
// Once the source is open the shutdown sequence is guaranteed to run
// exactly once, whatever the exit path: end of a finite source, consume
// returning ErrStopScan, ctx cancellation (all ending in Done), or a
// stream, consume or diagnostics failure (ending in Error). Shutdown
// failures are logged as warnings and reported in Result.ShutdownErr; the
// returned error is always the root cause.
func (s *Session) Run(ctx context.Context, consume Consumer) (res Result, err error) {
	log := monitoring.Logger()
	if s.Logger != nil {
		log = *s.Logger
	}
	res = Result{State: StateInit, History: []State{StateInit}}
	r := &run{s: s, log: log, res: &res}

	if !s.Checklist.Complete() {
		return res, scan.ConfigurationError("checklist", "%s", s.Checklist)
	}
	if err := s.Acquisition.Validate(); err != nil {
		return res, err
	}
	if s.Source == nil || consume == nil {
		return res, scan.ConfigurationError("session", "source and consumer are required")
	}

	h, err := s.Source.Open(ctx)
	if err != nil {
		log.Error().Err(err).Str("source", string(s.Source.Kind())).Msg("open failed")
		r.fire(EventDiagFail)
		return res, err
	}

	seq := shutdown.New(h, &log)
	defer func() {
		// No-op unless a panic skipped the explicit call.
		if serr := seq.Run(); serr != nil && res.ShutdownErr == nil {
			res.ShutdownErr = serr
		}
	}()

	diag, err := h.Diagnostics(ctx)
	if err != nil {
		log.Error().Err(err).Msg("diagnostics failed")
		r.fire(EventDiagFail)
		res.ShutdownErr = seq.Run()
		return res, err
	}
	res.Diagnostics = diag
	if !diag.Healthy() {
		err := fmt.Errorf("%w: status %s, error code %d", ErrUnhealthy, diag.Status, diag.ErrorCode)
		log.Error().Err(err).Msg("refusing to start")
		r.fire(EventDiagFail)
		res.ShutdownErr = seq.Run()
		return res, err
	}
	r.fire(EventDiagOK)

	if s.OnReady != nil {
		if err := s.OnReady(diag); err != nil {
			log.Error().Err(err).Msg("ready hook failed")
			r.fire(EventError)
			res.ShutdownErr = seq.Run()
			return res, err
		}
	}

	frames, err := acquisition.New(h, s.Acquisition)
	if err != nil {
		r.fire(EventError)
		res.ShutdownErr = seq.Run()
		return res, err
	}
	r.fire(EventStart)

	rootErr := r.stream(ctx, frames, consume)
	res.Stats = frames.Stats()
	if rootErr != nil {
		log.Error().Err(rootErr).Msg("scan failed")
		r.fire(EventError)
	} else {
		r.fire(EventStop)
	}

	res.ShutdownErr = seq.Run()
	r.fire(EventDone)
	log.Info().
		Stringer("state", res.State).
		Int64("frames", res.Frames).
		Object("stats", res.Stats).
		Msg("session finished")
	return res, rootErr
}

// stream pulls frames until the source ends, the consumer stops, ctx is
// done, or something fails. Only the last case returns an error.
func (r *run) stream(ctx context.Context, frames *acquisition.FrameStream, consume Consumer) error {
	for {
		frame, err := frames.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			r.log.Info().Msg("source exhausted")
			return nil
		case ctx.Err() != nil:
			r.log.Info().Err(ctx.Err()).Msg("interrupted")
			return nil
		default:
			return err
		}

		r.res.Frames++
		if err := consume(frame); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				r.log.Info().Err(err).Msg("interrupted")
				return nil
			}
			return err
		}
	}
}
