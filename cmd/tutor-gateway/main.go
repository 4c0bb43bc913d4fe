// ABOUTME: Entry point for tutor-gateway, the tutoring chat backend for the textbook
// ABOUTME: Cobra commands to serve the API, probe health, read transcripts and mint dev tokens

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/config"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
  _         _                           _
 | |_ _   _| |_ ___  _ __       __ _ __| |_ ___ __ __ ____ _ _  _
 | __| | | | __/ _ \| '__|____ / _' / _' | __/ -_)\ V  V / _' | || |
 | |_| |_| | || (_) | | |_____| (_| (_| | ||  __| \_/\_/\__,_|\_, |
  \__|\__,_|\__\___/|_|        \__, \__,_|\__\___|             |__/
                               |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: TUTOR_CONFIG env var > XDG_CONFIG_HOME/tutor/gateway.yaml > ~/.config/tutor/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TUTOR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "tutor", "gateway.yaml")
}

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "tutor-gateway",
		Short:         "Per-topic tutoring chat gateway for the interactive networks textbook",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $TUTOR_CONFIG or ~/.config/tutor/gateway.yaml)")

	resolve := func() string {
		if configPath != "" {
			return configPath
		}
		return getConfigPath()
	}

	cmd.AddCommand(
		newServeCmd(resolve),
		newHealthCmd(resolve),
		newHistoryCmd(resolve),
		newTokenCmd(resolve),
	)
	return cmd
}

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath())
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Auth:      ")
	if cfg.Auth.JWTSecret != "" {
		fmt.Println("bearer tokens")
	} else {
		yellow.Println("disabled")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting tutor-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"store", cfg.Database.Driver,
		"auto_bootstrap", cfg.Bootstrap.Auto,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
