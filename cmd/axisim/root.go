package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/sarchlab/axisim/config"
	"github.com/sarchlab/axisim/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "axisim",
	Short: "axisim simulates an AXI bus between a Manager and a memory",
	Long: `axisim drives a cycle-level model of the five AXI channels with ` +
		`a list of timed accesses and checks that every read returns what ` +
		`was written.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info",
		"Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("config", "",
		"Path to a JSON or YAML configuration file")
	rootCmd.PersistentFlags().String("env-file", "",
		"Dotenv file with AXISIM_* overrides (default .env if present)")
}

func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	levelStr, _ := cmd.Flags().GetString("log-level")

	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	return logging.New(level, cmd.ErrOrStderr()), nil
}

// loadConfig reads the configuration file, then applies the environment.
// Variables already set in the environment win over the dotenv file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")

	switch {
	case envFile != "":
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	default:
		if _, err := os.Stat(".env"); err == nil {
			if err := godotenv.Load(); err != nil {
				return nil, fmt.Errorf("failed to load .env: %w", err)
			}
		}
	}

	cfg := config.DefaultConfig()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}

		cfg = loaded
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
