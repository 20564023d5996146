package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Kwendataxi/kwenda-sub020/internal/repositories/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded Postgres migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Backend.DatabaseURL == "" {
			return errors.New("migrate needs backend.database_url or --database-url")
		}
		return postgres.Migrate(cfg.Backend.DatabaseURL)
	},
}
