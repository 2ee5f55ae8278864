package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/config"
	"github.com/nextlevelbuilder/walink/internal/session"
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
	fmt.Println("walink doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Bot:")
	fmt.Printf("    %-12s %s\n", "Name:", cfg.Bot.Name)
	fmt.Printf("    %-12s %s\n", "Prefix:", cfg.Bot.Prefix)
	if _, err := time.LoadLocation(cfg.Bot.Timezone); err != nil {
		fmt.Printf("    %-12s %s (UNKNOWN, UTC will be used)\n", "Timezone:", cfg.Bot.Timezone)
	} else {
		fmt.Printf("    %-12s %s\n", "Timezone:", cfg.Bot.Timezone)
	}

	fmt.Println()
	fmt.Println("  Storage:")
	checkStore(cfg)
	checkDir("Devices", cfg.Transport.DeviceDir)

	fmt.Println()
	fmt.Printf("  Server:   http://%s\n", cfg.Addr())
	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkStore(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := session.Open(ctx, cfg.SessionOptions())
	if err != nil {
		fmt.Printf("    %-12s %s (ERROR: %s)\n", "Sessions:", cfg.Store.Backend, err)
		return
	}
	defer store.Close()

	ids, err := store.List(ctx)
	if err != nil {
		fmt.Printf("    %-12s %s (ERROR: %s)\n", "Sessions:", cfg.Store.Backend, err)
		return
	}
	fmt.Printf("    %-12s %s (%d stored)\n", "Sessions:", cfg.Store.Backend, len(ids))
}

func checkDir(name, dir string) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fmt.Printf("    %-12s %s (NOT WRITABLE: %s)\n", name+":", dir, err)
		return
	}
	tmp, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		fmt.Printf("    %-12s %s (NOT WRITABLE: %s)\n", name+":", dir, err)
		return
	}
	tmp.Close()
	os.Remove(tmp.Name())
	fmt.Printf("    %-12s %s (OK)\n", name+":", filepath.Clean(dir))
}
