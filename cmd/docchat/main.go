// Docchat serves a document registry and retrieval-augmented chat API.
//
// Configuration is loaded from ~/.config/docchat/config.yaml (or --config)
// and environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the server
//	OPENAI_API_KEY=... QDRANT_API_KEY=... docchat serve
//
//	# Embedded vector store and registry, no external services but Redis
//	OPENAI_API_KEY=... VECTORSTORE_PROVIDER=chromem REGISTRY_BACKEND=badger docchat
//
//	# Validate configuration without starting
//	docchat check-config
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docchat/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docchat",
		Short: "Document registry and conversational retrieval API",
		Long: `docchat stores uploaded documents in a vector index, keeps a registry of
them, and answers questions about them conversationally.

Running docchat without a subcommand starts the server.`,
		Version:      version,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/docchat/config.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				printVersion(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "Load and validate configuration, then exit",
			Args:  cobra.NoArgs,
			RunE:  runCheckConfig,
		},
	)
	return root
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "docchat by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg)
}

func runCheckConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "configuration OK\n")
	fmt.Fprintf(out, "  listen:       %s\n", cfg.Server.Addr())
	fmt.Fprintf(out, "  vectorstore:  %s\n", cfg.VectorStore.Provider)
	fmt.Fprintf(out, "  registry:     %s (key %q)\n", cfg.Registry.Backend, cfg.Registry.Key)
	fmt.Fprintf(out, "  model:        %s\n", cfg.OpenAI.Model)
	fmt.Fprintf(out, "  openai key:   %s\n", cfg.OpenAI.APIKey)
	fmt.Fprintf(out, "  events:       %t\n", cfg.NATS.URL != "")
	fmt.Fprintf(out, "  telemetry:    %t\n", cfg.Telemetry.Enabled)
	return nil
}
