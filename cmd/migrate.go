package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hearthstack/hearth/internal/config"
	"github.com/hearthstack/hearth/internal/store/sqlite"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Run: func(cmd *cobra.Command, args []string) {
			path := mustDBPath()
			if err := sqlite.Migrate(path); err != nil {
				slog.Error("migration failed", "error", err)
				os.Exit(1)
			}
			fmt.Println("migrations applied")
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Run: func(cmd *cobra.Command, args []string) {
			path := mustDBPath()
			v, dirty, err := sqlite.MigrationVersion(path)
			if err != nil {
				slog.Error("version check failed", "error", err)
				os.Exit(1)
			}
			fmt.Printf("schema version %d (dirty=%v)\n", v, dirty)
		},
	})
	return cmd
}

func mustDBPath() string {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	return cfg.DBPath()
}
