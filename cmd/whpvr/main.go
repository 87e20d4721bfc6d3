package main

import (
	"fmt"
	"os"

	"whpvr/pkg/config"
	"whpvr/pkg/prefs"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configFile string
	verbose    bool
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "whpvr",
		Short: "Whole-home recording federation",
		Long: `Federates the recording-capable set-top boxes on a home network.
Each box discovers its peers, aggregates their recordings and schedules,
and routes recording commands to the chosen record server.`,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		statusCmd(),
		peersCmd(),
		searchCmd(),
		enableCmd(),
		disableCmd(),
		recordServerCmd(),
		nameCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return nil, fmt.Errorf("failed to load config from environment: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openPrefs opens the preference database. Only one process can hold it,
// so offline commands fail while serve is running. The memory data dir
// keeps preferences for the life of the process.
func openPrefs(cfg *config.Config, logger *zap.Logger) (*prefs.LevelDBStore, error) {
	if cfg.DataDir == config.MemoryDataDir {
		return prefs.OpenMemLevelDB(logger)
	}
	store, err := prefs.OpenLevelDB(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences in %s (is whpvr serve running?): %w", cfg.DataDir, err)
	}
	return store, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Whole-Home Recording Federation v%s\n", version)
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}
