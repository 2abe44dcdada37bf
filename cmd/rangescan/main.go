// Command rangescan acquires 2D lidar scans from an RPLIDAR, records them to
// CSV and replays recorded datasets through the analysis pipeline.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/rangescan/internal/monitoring"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newApp()).ExecuteContext(ctx); err != nil {
		log := monitoring.Logger()
		log.Error().Err(err).Msg("rangescan failed")
		stop()
		os.Exit(1)
	}
}
