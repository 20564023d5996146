package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Kwendataxi/kwenda-sub020/internal/archive"
	"github.com/Kwendataxi/kwenda-sub020/internal/simulator"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Play a complete delivery on the in-memory backend",
	Long: `simulate creates a recipient, a courier and an order, then walks the order
through its lifecycle on a compressed clock while tracking the courier,
mirroring the order and exchanging a few chat messages.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().Float64("speedup", 10, "How much faster than real time the scenario runs")
	simulateCmd.Flags().Int64("seed", 42, "Random seed for generated subjects and orders")
	simulateCmd.Flags().Duration("outage", 0, "Simulated backend outage while the courier is on the road")
	simulateCmd.Flags().Duration("cancel-after", 0, "Cancel the order after this simulated time")
	simulateCmd.Flags().Bool("no-progress", false, "Do not draw the progress bar")

	bindFlags(simulateCmd.Flags(), map[string]string{
		"simulation.speedup": "speedup",
		"simulation.seed":    "seed",
	})
}

func runSimulate(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	outage, _ := flags.GetDuration("outage")
	cancelAfter, _ := flags.GetDuration("cancel-after")
	noProgress, _ := flags.GetBool("no-progress")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver, closeResolver, err := newResolver(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeResolver()

	mirror, closeMirror, err := newMirror(cfg)
	if err != nil {
		return err
	}
	defer closeMirror()

	archiver, err := archive.NewFromConfig(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}

	opts := simulator.Options{
		Mirror:      mirror,
		Resolver:    resolver,
		Archiver:    archiver,
		Outage:      outage,
		CancelAfter: cancelAfter,
		Logger:      logger,
	}
	if !noProgress {
		opts.Progress = os.Stderr
	}

	logger.Info("starting simulation", "speedup", viper.GetFloat64("simulation.speedup"), "seed", cfg.Simulation.Seed)
	started := time.Now()
	res, err := simulator.NewScenario(cfg, opts).Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("delivery simulated",
		"order_id", res.Order.ID,
		"status", res.Order.Status,
		"pickup", res.Pickup.Address,
		"dropoff", res.Dropoff.Address,
		"route_km", res.RouteKm,
		"price_estimate", res.Order.PriceEstimate,
		"courier_updates", res.Courier.Updates,
		"courier_suppressed", res.Courier.Suppressed,
		"courier_network_errors", res.Courier.NetworkErrors,
		"sync_applied", res.Sync.Applied,
		"sync_duplicates", res.Sync.Duplicates,
		"sync_reloads", res.Sync.Reloads,
		"messages", len(res.State.Messages),
		"simulated", res.Simulated.Round(time.Second),
		"wall", time.Since(started).Round(time.Millisecond),
	)
	return nil
}
