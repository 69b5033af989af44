// Package main provides the entry point for the levelquest administration CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"levelquest/cmd/adm/commands"
	"levelquest/internal/config"
	"levelquest/internal/observability"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	ctx := context.Background()

	_ = godotenv.Load()

	// Fall back to a config next to the binary's usual working directories
	if os.Getenv("LEVELQUEST_CONFIG_FILE") == "" {
		for _, path := range []string{"config.yaml", "../config.yaml", "../../config.yaml"} {
			if _, err := os.Stat(path); err == nil {
				if err := os.Setenv("LEVELQUEST_CONFIG_FILE", path); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to set LEVELQUEST_CONFIG_FILE: %v\n", err)
					os.Exit(1)
				}
				break
			}
		}
	}

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Admin runs are short-lived; keep telemetry exporters off
	cfg.OpenTelemetry.EnableTracing = false
	cfg.OpenTelemetry.EnableMetrics = false
	cfg.OpenTelemetry.EnableLogging = false

	_, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "levelquest-adm", "error")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}

	env := &commands.Env{Config: cfg, Logger: logger}
	defer func() {
		if err := env.Close(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close services: %v\n", err)
		}
	}()

	rootCmd := &cobra.Command{
		Use:   "adm",
		Short: "levelquest administration tool",
		Long: `levelquest administration tool

Maintenance and inspection commands for game sessions, learner aggregates,
the database schema and content catalog files.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				fmt.Printf("Error showing help: %v\n", err)
			}
		},
	}

	rootCmd.AddCommand(commands.GameCommands(env)...)
	rootCmd.AddCommand(commands.DatabaseCommands(env))
	rootCmd.AddCommand(commands.ContentCommands(env))

	if err := rootCmd.Execute(); err != nil {
		_ = env.Close(ctx)
		os.Exit(1)
	}
}
