package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/router-for-me/gatewayconsole/internal/app"
	"github.com/router-for-me/gatewayconsole/internal/config"
	"github.com/router-for-me/gatewayconsole/internal/security"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := newRootCommand().ExecuteContext(ctx); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// newRootCommand builds the console CLI.
func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "console",
		Short:         "Admin console for the uni-api gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "console settings file (or env "+config.EnvConfigPath+")")

	// loadConfig reads .env, the settings file and the environment, and applies the log level.
	loadConfig := func() (config.AppConfig, error) {
		if errDotEnv := config.LoadDotEnv(); errDotEnv != nil {
			return config.AppConfig{}, errDotEnv
		}
		var (
			cfg     config.AppConfig
			errLoad error
		)
		if strings.TrimSpace(configPath) == "" {
			cfg, errLoad = config.LoadFromEnv()
		} else {
			cfg, errLoad = config.Load(configPath)
		}
		if errLoad != nil {
			return config.AppConfig{}, errLoad
		}
		log.SetLevel(cfg.ParseLogLevel())
		return cfg, nil
	}

	root.AddCommand(
		newServeCommand(loadConfig),
		newMigrateCommand(loadConfig),
		newBootstrapCommand(loadConfig),
		newKeysCommand(),
	)
	return root
}

func newServeCommand(loadConfig func() (config.AppConfig, error)) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the console HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, errLoad := loadConfig()
			if errLoad != nil {
				return errLoad
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			return app.RunServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override listen address (e.g. :3000)")
	return cmd
}

func newMigrateCommand(loadConfig func() (config.AppConfig, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the statistics tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, errLoad := loadConfig()
			if errLoad != nil {
				return errLoad
			}
			return app.Migrate(cmd.Context(), cfg)
		},
	}
}

func newBootstrapCommand(loadConfig func() (config.AppConfig, error)) *cobra.Command {
	var adminKey string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Write a new gateway config holding one admin key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, errLoad := loadConfig()
			if errLoad != nil {
				return errLoad
			}
			key, errBootstrap := app.Bootstrap(cfg.APIYAMLPath, adminKey)
			if errBootstrap != nil {
				return errBootstrap
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nadmin key: %s\n", cfg.APIYAMLPath, key)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminKey, "admin-key", "", "admin key to store (generated when empty)")
	return cmd
}

func newKeysCommand() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "API key utilities",
	}
	keys.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print a new random API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, errGenerate := security.GenerateAPIKey()
			if errGenerate != nil {
				return errGenerate
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	})
	return keys
}
