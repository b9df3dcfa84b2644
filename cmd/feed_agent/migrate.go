package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/feed-validator/internal/config"
	"github.com/jonathan/feed-validator/internal/db"
	"github.com/jonathan/feed-validator/internal/db/sqlitestore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  `Bring the configured database schema up to date and report its version.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	kind, dsn, err := appConfig.Store()
	if err != nil {
		return err
	}

	var (
		version uint
		dirty   bool
	)
	switch kind {
	case config.StorePostgres:
		version, dirty, err = db.Migrate(dsn)
	case config.StoreSQLite:
		var store *sqlitestore.Store
		store, err = sqlitestore.Open(cmd.Context(), dsn)
		if err != nil {
			break
		}
		version, dirty, err = store.Migrate()
		store.Close()
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d (dirty=%t)\n", kind, version, dirty)
	return nil
}
