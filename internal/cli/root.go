package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/ethmirror/internal/control"
	"github.com/vietddude/ethmirror/internal/core/config"
	"github.com/vietddude/ethmirror/internal/core/domain"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "ethmirror",
	Short: "EVM chain mirror",
	Long: `ethmirror follows an Ethereum-compatible node and keeps a local, queryable
copy of confirmed blocks, transactions and token transfers.`,
	SilenceUsage: true,
	RunE:         runMirror,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// setup loads .env and the config file and initialises logging.
func setup() (*config.AppConfig, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		return nil, err
	}

	slogLevel := cfg.Logging.SlogLevel()
	if isDebug {
		slogLevel = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg, nil
}

func runMirror(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewMirror(ctx, *cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize mirror", "error", err)
		return err
	}

	slog.Info("Mirror starting", "config", cfgPath, "version", Version)
	if err := app.Run(ctx); err != nil {
		if errors.Is(err, domain.ErrReorgTooDeep) {
			slog.Error("Reorg deeper than max_reorg_depth; inspect with `ethmirror status` and recover with `ethmirror rollback <height>`")
		}
		slog.Error("Mirror halted", "error", err)
		return err
	}
	return nil
}
