package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/db"
)

func newMigrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if cfg.DB.Driver != "postgres" {
				return errors.New("migrate needs db.driver=postgres")
			}
			conn, err := db.Open(cmd.Context(), cfg.DB.URL, cfg.DB.MaxOpenConns, dbConnectTimeout, log)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			return db.Migrate(conn, log)
		},
	}
}
