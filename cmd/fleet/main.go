// Package main provides the CLI entry point for the fleet session
// observability server.
//
// Fleet watches Claude Code project directories, parses session
// transcripts as they grow, and serves live session state to a web
// dashboard over HTTP and websockets.
//
// # Basic Usage
//
// Start the server:
//
//	fleet serve --config fleet.yaml
//
// Check the local environment:
//
//	fleet doctor
//
// # Environment Variables
//
//   - FLEET_HOST, FLEET_PORT: HTTP listen address
//   - FLEET_BASE_PATHS: comma-separated transcript roots
//   - FLEET_AGENT_COMMAND: agent binary spawned for new sessions
//   - FLEET_STATIC_DIR: pre-built dashboard bundle to serve
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/fleet/internal/config"
	"github.com/haasonsaas/fleet/internal/prefs"
	"github.com/haasonsaas/fleet/internal/server"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "fleet",
		Short:        "Fleet - live observability for coding agent sessions",
		Long:         "Fleet tails Claude Code session transcripts, derives turn and token state,\nand streams it to a dashboard over websockets.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildDoctorCmd(),
	)
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fleet server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	slog.Info("starting fleet",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	srv, err := server.New(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	slog.Info("fleet stopped gracefully")
	return nil
}

func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, transcript roots, and the agent binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// runDoctor reports one line per check and fails the command when any
// check fails.
func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	failed := false

	report := func(name string, err error) {
		if err != nil {
			failed = true
			fmt.Fprintf(out, "fail  %s: %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "ok    %s\n", name)
	}

	cfg, err := config.Load(configPath)
	report("config", err)
	if err != nil {
		return fmt.Errorf("doctor found problems")
	}

	for _, base := range cfg.BasePaths {
		name := fmt.Sprintf("base path %s", base)
		info, err := os.Stat(base)
		switch {
		case err != nil:
			report(name, err)
		case !info.IsDir():
			report(name, fmt.Errorf("not a directory"))
		default:
			report(name, nil)
		}
	}

	if _, err := exec.LookPath(cfg.AgentCommand); err != nil {
		report(fmt.Sprintf("agent command %s", cfg.AgentCommand), err)
	} else {
		report(fmt.Sprintf("agent command %s", cfg.AgentCommand), nil)
	}

	prefsPath := cfg.PrefsPath
	if prefsPath == "" {
		prefsPath, err = prefs.DefaultPath()
		if err != nil {
			report("preferences path", err)
		}
	}
	if prefsPath != "" {
		_, err := prefs.NewStore(prefsPath, slog.Default()).Load()
		report(fmt.Sprintf("preferences %s", prefsPath), err)
	}

	if failed {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}
