package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KevinKickass/factoryctrl/internal/config"
	"github.com/KevinKickass/factoryctrl/internal/logger"
	"github.com/KevinKickass/factoryctrl/internal/system"
)

const defaultConfigPath = "configs/config.json"

var (
	// configPath to the JSON or YAML configuration file.
	configPath string

	rootCmd = &cobra.Command{
		Use:   "factoryctrl",
		Short: "Drive the red/green alarm light from classification results.",
		Long: `Subscribes to the single topic named in SubTopics, evaluates each
classification result for defects and switches the red/green signal light through
two Modbus TCP coils.

The topic route is read from the "<topic>_cfg" environment variable
("<mode>,<host:port>"). DEV_MODE=true allows plaintext tcp routes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return run(ctx, configPath)
		},
	}
)

// Execute runs the CLI and exits with non-zero status on any fatal error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		if bootLogger, lerr := logger.New("info", false); lerr == nil {
			bootLogger.Error("Failed to load config", zap.String("path", path), zap.Error(err))
			bootLogger.Sync()
		}
		return err
	}

	log, err := logger.New(cfg.Env.LogLevel, cfg.Env.DevMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("=============== STARTING factoryctrl ===============",
		zap.String("app_name", cfg.Env.AppName),
		zap.String("config", path))

	return system.NewLifecycleManager(cfg, log).Run(ctx)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to configuration file")
}
