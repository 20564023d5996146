package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Kwendataxi/kwenda-sub020/internal/archive"
	"github.com/Kwendataxi/kwenda-sub020/internal/delivery"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Mirror a delivery order and log every change until it ends",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().String("order", "", "ID of the order to watch")
	_ = watchCmd.MarkFlagRequired("order")
}

func runWatch(cmd *cobra.Command, args []string) error {
	orderID, _ := cmd.Flags().GetString("order")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	archiver, err := archive.NewFromConfig(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}

	sc := delivery.ConfigFrom(cfg)
	sc.Archiver = archiver
	sc.Logger = logger
	sync := delivery.New(orderID, backend, sc)
	if err := sync.Start(ctx); err != nil {
		return err
	}
	defer sync.Stop()

	serveOps(ctx, cfg.Metrics.Addr, func() map[string]any {
		st := sync.Snapshot()
		health := map[string]any{
			"order_id":    orderID,
			"connection":  st.Connection,
			"terminal":    st.Terminal,
			"distance_km": st.DistanceKm,
			"eta_minutes": st.ETAMinutes,
		}
		if st.Order != nil {
			health["status"] = st.Order.Status
		}
		return health
	})

	for st := range sync.Updates() {
		attrs := []any{"order_id", orderID, "connection", st.Connection,
			"distance_km", st.DistanceKm, "eta_minutes", st.ETAMinutes, "messages", len(st.Messages)}
		if st.Order != nil {
			attrs = append(attrs, "status", st.Order.Status, "subject_id", st.Order.AssignedSubjectID)
		}
		if st.Location != nil {
			attrs = append(attrs, "position", st.Location.Location.String(), "last_ping", st.Location.LastPing)
		}
		logger.Info("delivery state", attrs...)
	}

	stats := sync.Stats()
	logger.Info("watch finished", "order_id", orderID, "applied", stats.Applied,
		"duplicates", stats.Duplicates, "rejected", stats.Rejected, "malformed", stats.Malformed, "reloads", stats.Reloads)
	return nil
}
