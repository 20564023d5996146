package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Kwendataxi/kwenda-sub020/internal/logging"
	"github.com/Kwendataxi/kwenda-sub020/internal/metrics"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

var (
	cfgFile string
	cfg     *models.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kwenda",
	Short: "Adaptive real-time tracking and delivery-state sync engine",
	Long: `kwenda tracks couriers and recipients with battery and speed aware sampling,
keeps a live mirror of a delivery order, its courier position and its chat
thread in sync with the backend, and archives finished deliveries.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./kwenda.yaml)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "json", "Log format (json, text)")
	flags.String("backend", "memory", "Backend driver (memory, postgres)")
	flags.String("database-url", "", "Postgres connection URL")
	flags.String("metrics-addr", ":9090", "Address of the metrics and health server, empty to disable")
	flags.Bool("kafka-enabled", false, "Mirror location updates to Kafka")
	flags.String("kafka-broker-list", "localhost:9092", "Kafka broker list")

	bindFlags(flags, map[string]string{
		"log.level":            "log-level",
		"log.format":           "log-format",
		"backend.driver":       "backend",
		"backend.database_url": "database-url",
		"metrics.addr":         "metrics-addr",
		"kafka.enabled":        "kafka-enabled",
		"kafka.broker_list":    "kafka-broker-list",
	})

	rootCmd.AddCommand(trackCmd, watchCmd, simulateCmd, migrateCmd)
}

// bindFlags ties config keys to flags so a flag set on the command line wins
// over the file and the environment.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func initConfig() error {
	var err error
	cfg, err = models.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logger = logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info("using config file", "path", used)
	}
	metrics.Register()
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
