package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bilisub/pkg/app"
	"bilisub/pkg/auth"
	"bilisub/pkg/ui"

	"github.com/spf13/cobra"
)

var (
	runStorage      string
	runStoragePath  string
	runListen       string
	runGateInterval time.Duration
	runScreenshot   bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start polling and delivering notifications",
	Long: `Start one poller per subscribed account, the chat transports and the
admin HTTP server. Runs until interrupted.`,
	Example: `  # Run with the default file store
  bilisub run

  # Keep watermarks in Redis and take screenshots of dynamics
  bilisub run --storage redis --screenshot`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runStorage, "storage", "", "watermark store driver (file, redis, postgres)")
	runCmd.Flags().StringVar(&runStoragePath, "storage-path", "", "path of the file store")
	runCmd.Flags().StringVar(&runListen, "listen", "", "admin server listen address")
	runCmd.Flags().DurationVar(&runGateInterval, "gate-interval", 0, "minimum spacing between API calls")
	runCmd.Flags().BoolVar(&runScreenshot, "screenshot", false, "capture dynamics with a headless browser")
}

func runRun(cmd *cobra.Command, args []string) error {
	flags := map[string]interface{}{
		"storage":       runStorage,
		"storage-path":  runStoragePath,
		"listen":        runListen,
		"gate-interval": runGateInterval,
	}
	if cmd.Flags().Changed("screenshot") {
		flags["screenshot"] = runScreenshot
	}
	cfg, log, err := loadConfig(flags)
	if err != nil {
		return err
	}

	ui.PrintLogo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.Options{Version: version}
	if manager, err := auth.NewManager(""); err == nil {
		opts.Credentials = manager
	} else {
		log.WithError(err).Warn("Credential store unavailable")
	}

	a, err := app.New(ctx, cfg, log, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Server != nil {
		ui.PrintInfo("Admin server", cfg.Metrics.Listen)
	}
	ui.PrintInfo("Store", cfg.Storage.Driver)

	if err := a.Run(ctx); err != nil {
		return err
	}
	ui.PrintSuccess("Stopped")
	return nil
}
