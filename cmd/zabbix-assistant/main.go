// cmd/zabbix-assistant/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/signalnine/zabbix-assistant/internal/config"
	"github.com/signalnine/zabbix-assistant/internal/logging"
	"github.com/signalnine/zabbix-assistant/internal/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "zabbix-assistant",
	Short:        "Chat assistant for Zabbix monitoring data",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant API and response workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logging.Init(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level, Component: "assistant"})

		srv, err := server.NewServer(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Assistant stopped with error")
			return err
		}
		log.Info().Msg("Assistant stopped")
		return nil
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Load and validate the config, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: listen=%s db=%s users=%d model=%s\n",
			cfg.ListenAddr, cfg.DBPath, len(cfg.Users), cfg.Completion.Model)
		if cfg.Completion.APIKey == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "warning: no completion API key (%s or %s)\n", config.EnvAPIKey, config.EnvAPIKeyAlt)
		}
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
