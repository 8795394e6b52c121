// Package main provides the CLI entry point for the prompt engine.
//
// The prompt engine assembles token-budgeted LLM requests from a system
// prompt template, tool definitions, retrieved knowledge and trimmed
// conversation history, and serves them over HTTP and WebSocket.
//
// # Basic Usage
//
// Start the server:
//
//	promptengine serve --config promptengine.yaml
//
// Build one request from the command line:
//
//	promptengine build --query "what is deep learning?" --session demo
//
// Run local stand-ins for the tool, retrieval and history services:
//
//	promptengine dev-services
//
// # Environment Variables
//
//   - PROMPTENGINE_CONFIG: path to the configuration file
//
// A .env file in the working directory is loaded before the configuration,
// so ${VAR} references in the file can be supplied there.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/promptengine/internal/config"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// configEnv names the environment variable consulted when --config is empty.
const configEnv = "PROMPTENGINE_CONFIG"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "promptengine",
		Short: "Token-budgeted LLM request assembler",
		Long: `promptengine turns a user query into a complete, provider-ready LLM request.

It fetches tool definitions, retrieved knowledge and conversation history
concurrently, trims history to fit a token budget and emits the request over
HTTP (POST /pe/build_request) or WebSocket (GET /ws/build_prompt).`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadDotEnv()
		},
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildBuildCmd(),
		buildConfigCmd(),
		buildDevServicesCmd(),
	)
	return rootCmd
}

// loadDotEnv loads .env from the working directory when present. Existing
// environment variables win.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// resolveConfigPath returns the explicit path, else $PROMPTENGINE_CONFIG.
// An empty result means built-in defaults.
func resolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	return strings.TrimSpace(os.Getenv(configEnv))
}

// loadConfig loads the file at path, or the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	path = resolveConfigPath(path)
	if path == "" {
		cfg := config.Default()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}
