// ABOUTME: Client-side commands that talk to a running gateway or mint tokens
// ABOUTME: health probes liveness and readiness, history prints a transcript, token signs a dev JWT

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/auth"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/config"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/gateway"
)

// baseURL turns a listen address into a URL a local client can dial
func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// serverURL prefers --url, then the configured listen address. Client commands
// do not need a complete server config, so load failures fall back to defaults.
func serverURL(flag string, configPath string) string {
	if flag != "" {
		return baseURL(flag)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
	}
	return baseURL(cfg.Server.HTTPAddr)
}

func get(ctx context.Context, target, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}

func newHealthCmd(configPath func() string) *cobra.Command {
	var serverFlag string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway liveness and store readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return runHealth(ctx, cmd.OutOrStdout(), serverURL(serverFlag, configPath()))
		},
	}
	cmd.Flags().StringVar(&serverFlag, "url", "", "gateway URL (default from config)")
	return cmd
}

func runHealth(ctx context.Context, out io.Writer, base string) error {
	for _, path := range []string{"/health", "/health/ready"} {
		resp, err := get(ctx, base+path, "")
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s unhealthy: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		fmt.Fprintf(out, "%s %s\n", color.GreenString("✓"), path)
	}
	return nil
}

func newHistoryCmd(configPath func() string) *cobra.Command {
	var serverFlag, token string
	cmd := &cobra.Command{
		Use:   "history <topic> <user-id>",
		Short: "Print the visible transcript for a topic and user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return runHistory(ctx, cmd.OutOrStdout(), serverURL(serverFlag, configPath()), args[0], args[1], token)
		},
	}
	cmd.Flags().StringVar(&serverFlag, "url", "", "gateway URL (default from config)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token when auth is enabled")
	return cmd
}

func runHistory(ctx context.Context, out io.Writer, base, topic, userID, token string) error {
	target := fmt.Sprintf("%s/assistants/%s?userId=%s", base, url.PathEscape(topic), url.QueryEscape(userID))
	resp, err := get(ctx, target, token)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("fetching history: status %d: %s", resp.StatusCode, body["error"])
	}

	var history gateway.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return fmt.Errorf("decoding history: %w", err)
	}
	if len(history.Messages) == 0 {
		fmt.Fprintln(out, color.HiBlackString("(no messages)"))
		return nil
	}

	for _, m := range history.Messages {
		label := color.CyanString("you")
		if m.Role == "assistant" {
			label = color.MagentaString("tutor")
		}
		fmt.Fprintf(out, "%s %s\n%s\n\n", label, color.HiBlackString(m.Timestamp), m.Content)
	}
	return nil
}

func newTokenCmd(configPath func() string) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a development bearer token signed with auth.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runToken(cmd.OutOrStdout(), cfg.Auth, args[0], ttl)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func runToken(out io.Writer, cfg config.AuthConfig, userID string, ttl time.Duration) error {
	if cfg.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not set (or set TUTOR_JWT_SECRET)")
	}
	token, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.Audience).Generate(userID, ttl)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
