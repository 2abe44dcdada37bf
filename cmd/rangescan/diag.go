package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/rangescan/internal/lifecycle"
	"github.com/banshee-data/rangescan/internal/monitoring"
	"github.com/banshee-data/rangescan/internal/shutdown"
	"github.com/banshee-data/rangescan/internal/source"
)

func newDiagCmd(a *app) *cobra.Command {
	var link linkFlags
	cmd := &cobra.Command{
		Use:   "diag",
		Short: "Print sensor info and health as JSON, then stop the sensor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			link.apply(cmd.Flags(), a.cfg)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			h, err := a.liveSource(link.simulate).Open(cmd.Context())
			if err != nil {
				if !link.simulate {
					a.reportPorts(cmd.ErrOrStderr())
				}
				return err
			}
			return runDiag(cmd.Context(), cmd.OutOrStdout(), h)
		},
	}
	link.register(cmd.Flags())
	return cmd
}

// reportPorts lists the serial ports the OS can see, so a wrong --port is
// easy to correct.
func (a *app) reportPorts(w io.Writer) {
	ports, err := a.listPorts()
	if err != nil {
		log := monitoring.Logger()
		log.Warn().Err(err).Msg("could not list serial ports")
		return
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return
	}
	fmt.Fprintf(w, "available serial ports: %s\n", strings.Join(ports, ", "))
}

// runDiag reads the diagnostics of an open sensor and always runs the
// shutdown sequence before returning. An Error health status fails the
// command after the report is printed.
func runDiag(ctx context.Context, out io.Writer, h source.Handle) error {
	seq := shutdown.New(h, nil)
	diag, err := h.Diagnostics(ctx)
	if serr := seq.Run(); serr != nil {
		log := monitoring.Logger()
		log.Warn().Err(serr).Msg("sensor did not stop cleanly")
	}
	if err != nil {
		return err
	}

	if err := writeJSON(out, diag); err != nil {
		return err
	}
	if !diag.Healthy() {
		return fmt.Errorf("%w: status %s, error code %d", lifecycle.ErrUnhealthy, diag.Status, diag.ErrorCode)
	}
	return nil
}
