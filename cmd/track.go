package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kwendataxi/kwenda-sub020/internal/factories"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/simulator"
	"github.com/Kwendataxi/kwenda-sub020/internal/tracking"
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track a subject with the simulated route sampler until interrupted",
	RunE:  runTrack,
}

func init() {
	trackCmd.Flags().String("subject", "", "ID of the subject to track")
	trackCmd.Flags().String("role", string(models.RoleCourier), "Tracking role (recipient, courier, delivery)")
	trackCmd.Flags().String("from", "", "Starting position as lat,lon (default: a random point in the city)")
	trackCmd.Flags().StringArray("via", nil, "Waypoint as lat,lon, repeatable")
	trackCmd.Flags().Float64("speed", 25, "Travel speed in km/h")
	trackCmd.Flags().Duration("status-every", 30*time.Second, "How often to log the session state")
	_ = trackCmd.MarkFlagRequired("subject")
}

func runTrack(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	subjectID, _ := flags.GetString("subject")
	role, _ := flags.GetString("role")
	from, _ := flags.GetString("from")
	via, _ := flags.GetStringArray("via")
	speed, _ := flags.GetFloat64("speed")
	every, _ := flags.GetDuration("status-every")

	start := factories.NewSubjectFactory(factories.CityFromConfig(cfg.Simulation), cfg.Simulation.Seed).StartingPoint()
	if from != "" {
		loc, err := parseLocation(from)
		if err != nil {
			return err
		}
		start = loc
	}
	waypoints := make([]models.Location, 0, len(via))
	for _, v := range via {
		loc, err := parseLocation(v)
		if err != nil {
			return err
		}
		waypoints = append(waypoints, loc)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	tx, closeTx, err := newTransmitter(cfg, backend)
	if err != nil {
		return err
	}
	defer closeTx()

	resolver, closeResolver, err := newResolver(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeResolver()

	sampler := simulator.NewRouteSampler(start, simulator.RouteConfig{
		SpeedKmh: speed,
		Battery:  1,
		Drain:    0.0005,
		Seed:     cfg.Simulation.Seed,
	})
	sampler.SetRoute(waypoints...)

	coord := tracking.NewCoordinator(tracking.Config{
		Settings:  tracking.SettingsFromConfig(cfg.Tracking),
		Overrides: cfg.Tracking.Profiles,
		Logger:    logger,
	}, func(string, models.Role) (tracking.Sampler, error) {
		return sampler, nil
	}, tx)
	defer coord.StopAll()

	session, err := coord.Start(ctx, subjectID, models.Role(role))
	if err != nil {
		return fmt.Errorf("start tracking %s: %w", subjectID, err)
	}
	serveOps(ctx, cfg.Metrics.Addr, coord.Health)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			st := session.Stats()
			logger.Info("tracking stopped", "subject_id", subjectID, "updates", st.Updates,
				"suppressed", st.Suppressed, "heartbeats", st.Heartbeats, "dropped", st.Dropped)
			return nil
		case <-ticker.C:
			st := session.Stats()
			attrs := []any{"subject_id", subjectID, "health", st.Health, "interval", st.Interval,
				"updates", st.Updates, "buffered", st.Buffered, "network_errors", st.NetworkErrors}
			if st.Current != nil {
				addr := resolver.Resolve(ctx, st.Current.Location.Lat, st.Current.Location.Lon)
				attrs = append(attrs, "address", addr.Address, "address_source", addr.Source)
			}
			logger.Info("tracking", attrs...)
			if sampler.Arrived() && len(waypoints) > 0 {
				logger.Info("route completed", "subject_id", subjectID, "km", sampler.Travelled())
				waypoints = nil
			}
		}
	}
}
