package main

import (
	"github.com/spf13/cobra"

	"github.com/haasonsaas/promptengine/internal/config"
)

// buildServeCmd creates the "serve" command that starts the front-ends.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP, WebSocket and gRPC health listeners",
		Long: `Start the prompt engine.

The server will:
1. Load configuration from the given file (or built-in defaults)
2. Open the tool, retrieval and history source clients
3. Load the system prompt template, watching it when configured
4. Serve POST /pe/build_request, GET /ws/build_prompt, /healthz and /metrics
5. Serve the gRPC health service when grpc_port is set

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with defaults
  promptengine serve

  # Start with a config file and debug logging
  promptengine serve --config /etc/promptengine/promptengine.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default $"+configEnv+" or built-in defaults)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildBuildCmd creates the "build" command that runs the pipeline once.
func buildBuildCmd() *cobra.Command {
	var opts buildOptions

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Assemble one LLM request and print it as JSON",
		Example: `  promptengine build --query "hello"
  promptengine build --query "what changed?" --session s-42 --dialect anthropic`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "User query (required)")
	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "Session id for history lookup")
	cmd.Flags().StringVar(&opts.resources, "resources", "", "System resources rendered into the system prompt")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "Mark the request as streaming")
	cmd.Flags().StringVar(&opts.dialect, "dialect", "", "Also export for a provider: openai, anthropic, gemini or bedrock")
	cmd.Flags().BoolVar(&opts.compact, "compact", false, "Print compact JSON")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	var configPath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a configuration file and report every problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, configPath)
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}

	cmd.AddCommand(validateCmd, schemaCmd)
	return cmd
}

// buildDevServicesCmd creates the "dev-services" command.
func buildDevServicesCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "dev-services",
		Short: "Serve local stand-ins for the tool, retrieval and history services",
		Long: `Serve stub collaborators matching the default source URLs:

  GET  /tools
  POST /rag
  GET  /history/{session_id}
  POST /history/{session_id}

A "demo" session is pre-populated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevServices(cmd, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", config.DevServicesAddr, "Listen address")
	return cmd
}
