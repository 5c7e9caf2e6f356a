package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/pricer/config"
	"github.com/rustyeddy/pricer/internal/app"
	"github.com/rustyeddy/pricer/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pricer",
	Short: "Reinforcement-learning price decisions for a product catalog",
	Long: `Pricer adjusts product prices with trained reinforcement-learning policies
or a static increment, and keeps an auditable price history.

It provides tools for:
  - Updating one product or the whole catalog
  - Retraining DQN or PPO pricing models in a simulated market
  - Importing products and exporting price history
  - Assigning RL/STATIC strategies for A/B tests

Settings come from a YAML or JSON file (--config), a .env file and
PRICER_* environment variables.`,
	SilenceUsage: true,
}

var cfgFile string

// Execute adds all child commands to the root command and sets flags appropriately.
// SIGINT and SIGTERM cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults are used when empty")
}

// loadConfig reads .env (if any), the config file and PRICER_* overrides.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	if cfgFile != "" {
		return config.LoadFromFile(cfgFile)
	}
	cfg := config.Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openApp loads the configuration and wires the application. The caller
// must call the returned cleanup.
func openApp() (*app.App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	a, err := app.Open(cfg, log)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			log.Error("close", "error", err)
		}
		log.Sync()
	}, nil
}
