package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promptr-app/promptr/pkg/pg"
	"github.com/promptr-app/promptr/svc/billing"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			app   appConfig
			pgCfg pg.Config
		)
		if err := load(section(&app), section(&pgCfg)); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		log := newLogger(app)
		ctx := cmd.Context()

		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pg.Migrate(ctx, pool, pgCfg, billing.Migrations, billing.MigrationsDir, log); err != nil {
			return err
		}
		log.InfoContext(ctx, "migrations applied")
		return nil
	},
}
