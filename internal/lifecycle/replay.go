package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/banshee-data/rangescan/internal/monitoring"
	"github.com/banshee-data/rangescan/internal/scan"
)

// ReplayState is an offline pipeline state.
type ReplayState int

const (
	ReplayInit ReplayState = iota
	ReplayLoad
	ReplayProcess
	ReplaySave
	ReplayShutdown
	ReplayError
)

func (s ReplayState) String() string {
	switch s {
	case ReplayInit:
		return "Init"
	case ReplayLoad:
		return "Load"
	case ReplayProcess:
		return "Process"
	case ReplaySave:
		return "Save"
	case ReplayShutdown:
		return "Shutdown"
	case ReplayError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ReplayChecklist holds the preconditions of the Load step, computed from
// the input file.
type ReplayChecklist struct {
	CSVExists    bool
	HeaderOK     bool
	ScanLengthOK bool
}

// Missing lists the failed checks by name.
func (c ReplayChecklist) Missing() []string {
	var out []string
	if !c.CSVExists {
		out = append(out, "csv_exists")
	}
	if !c.HeaderOK {
		out = append(out, "header_ok")
	}
	if !c.ScanLengthOK {
		out = append(out, "scan_length_ok")
	}
	return out
}

// Complete reports whether every check passed.
func (c ReplayChecklist) Complete() bool {
	return len(c.Missing()) == 0
}

// StepError records the state in which the pipeline failed.
type StepError struct {
	State ReplayState
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ReplayPipeline is the offline Init→Load→Process→Save→Shutdown run. Nil
// steps are skipped.
type ReplayPipeline struct {
	Load     func(ctx context.Context) error
	Process  func(ctx context.Context) error
	Save     func(ctx context.Context) error
	Shutdown func() error

	Logger *zerolog.Logger
}

// Run walks the states in order. A failed checklist or step aborts to
// ReplayError with a *StepError naming the state. Shutdown is invoked on
// both paths before returning; its failure is logged, not returned.
func (p *ReplayPipeline) Run(ctx context.Context, check ReplayChecklist) (ReplayState, error) {
	log := monitoring.Logger()
	if p.Logger != nil {
		log = *p.Logger
	}

	st := ReplayLoad
	err := func() error {
		if !check.Complete() {
			return scan.ConfigurationError("replay checklist", "failed %s", strings.Join(check.Missing(), ", "))
		}
		steps := []struct {
			state ReplayState
			fn    func(context.Context) error
		}{
			{ReplayLoad, p.Load},
			{ReplayProcess, p.Process},
			{ReplaySave, p.Save},
		}
		for _, step := range steps {
			st = step.state
			log.Debug().Stringer("state", st).Msg("replay step")
			if err := ctx.Err(); err != nil {
				return err
			}
			if step.fn == nil {
				continue
			}
			if err := step.fn(ctx); err != nil {
				return err
			}
		}
		return nil
	}()

	p.shutdown(log)
	if err != nil {
		log.Error().Err(err).Stringer("state", st).Msg("replay failed")
		return ReplayError, &StepError{State: st, Err: err}
	}
	return ReplayShutdown, nil
}

func (p *ReplayPipeline) shutdown(log zerolog.Logger) {
	if p.Shutdown == nil {
		return
	}
	if err := p.Shutdown(); err != nil {
		log.Warn().Err(scan.ShutdownError("replay shutdown", err)).Msg("shutdown step failed")
		return
	}
	log.Info().Msg("replay resources released")
}
