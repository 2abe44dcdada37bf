// Package shutdown brings a sensor to a safe stop: stop scanning, stop the
// motor, close the connection, in that order and only once.
package shutdown

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/banshee-data/rangescan/internal/monitoring"
	"github.com/banshee-data/rangescan/internal/scan"
)

// Stopper is the part of a source handle the sequencer drives.
type Stopper interface {
	StopScan() error
	StopMotor() error
	Close() error
}

// Step names, used as the Op of returned errors.
const (
	StepStopScan  = "stop_scan"
	StepStopMotor = "stop_motor"
	StepClose     = "close"
)

// Sequencer runs the shutdown steps once. A failing step is logged as a
// warning and the remaining steps still run; Close always runs.
type Sequencer struct {
	target Stopper
	log    zerolog.Logger

	mu    sync.Mutex
	ran   bool
	steps []string
}

// New returns a sequencer for target. A nil logger uses the package logger.
func New(target Stopper, logger *zerolog.Logger) *Sequencer {
	log := monitoring.Logger()
	if logger != nil {
		log = *logger
	}
	return &Sequencer{target: target, log: log}
}

// Run executes the sequence. Calls after the first return nil without
// touching the target. The returned error joins every failed step, each
// wrapped as scan.ErrShutdown.
func (s *Sequencer) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ran {
		return nil
	}
	s.ran = true

	var errs []error
	for _, step := range []struct {
		name string
		fn   func() error
	}{
		{StepStopScan, s.target.StopScan},
		{StepStopMotor, s.target.StopMotor},
		{StepClose, s.target.Close},
	} {
		s.steps = append(s.steps, step.name)
		if err := call(step.fn); err != nil {
			err = scan.ShutdownError(step.name, err)
			s.log.Warn().Err(err).Str("step", step.name).Msg("shutdown step failed")
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		s.log.Info().Msg("sensor stopped and connection closed")
	}
	return errors.Join(errs...)
}

// call converts a panicking step into an error so later steps still run.
func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Ran reports whether the sequence has executed.
func (s *Sequencer) Ran() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ran
}

// Steps returns the steps attempted, in order.
func (s *Sequencer) Steps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.steps...)
}
