package cmd

import (
	"fmt"
	"os"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/hearthstack/hearth/internal/config"
	"github.com/hearthstack/hearth/internal/providers"
	"github.com/hearthstack/hearth/internal/store/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("hearth doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
	fmt.Printf("  Go:       %s\n", goruntime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Printf("  Store:    %s", cfg.DBPath())
	db, err := sqlite.Open(cfg.DBPath())
	if err != nil {
		fmt.Printf(" (FAIL: %s)\n", err)
	} else {
		db.Close()
		if v, dirty, err := sqlite.MigrationVersion(cfg.DBPath()); err == nil {
			fmt.Printf(" (OK, schema v%d dirty=%v)\n", v, dirty)
		} else {
			fmt.Println(" (OK)")
		}
	}

	provider := providers.NewAnthropicProvider(cfg.Provider.APIKey)
	fmt.Printf("  Provider: %s", provider.Name())
	if provider.Available() {
		fmt.Println(" (key set)")
	} else {
		fmt.Println(" (NO KEY — set HEARTH_API_KEY)")
	}

	fmt.Printf("  Heartware: %s", cfg.HeartwareDir())
	if info, err := os.Stat(cfg.HeartwareDir()); err != nil || !info.IsDir() {
		fmt.Println(" (missing — orientation will be empty)")
	} else {
		fmt.Println(" (OK)")
	}
}
