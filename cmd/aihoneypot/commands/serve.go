package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SomethingGeneric/aihoneypot/internal/config"
	"github.com/SomethingGeneric/aihoneypot/internal/honeypot"
	"github.com/SomethingGeneric/aihoneypot/internal/logging"
	"github.com/SomethingGeneric/aihoneypot/internal/provider"
)

var (
	serveHost     string
	servePort     int
	serveProvider string
	serveEndpoint string
	serveNoSSH    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the honeypot server",
	Long: `Start the honeypot server.

Configuration comes from the environment (and a .env file when present);
flags given here override it.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind (default "+config.DefaultHost+")")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default 2222)")
	serveCmd.Flags().StringVar(&serveProvider, "provider", "", "Backend provider (llama|openai|mcp)")
	serveCmd.Flags().StringVar(&serveEndpoint, "endpoint", "", "Local model endpoint (implies the llama provider)")
	serveCmd.Flags().BoolVar(&serveNoSSH, "no-ssh", false, "Serve the plain-TCP fallback instead of SSH")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("configuration invalid")
		return err
	}

	if serveHost != "" {
		cfg.Host = serveHost
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveProvider != "" {
		cfg.Provider = config.ProviderType(serveProvider)
	}
	if serveEndpoint != "" {
		// Legacy single-provider mode: point straight at a local model.
		cfg.Provider = config.ProviderLlama
		if cfg.Llama == nil {
			cfg.Llama = &config.LlamaConfig{Model: config.DefaultLlamaModel}
		}
		cfg.Llama.Endpoint = serveEndpoint
	}
	if err := cfg.Validate(); err != nil {
		logging.Error().Err(err).Msg("configuration invalid")
		return err
	}

	backend, err := provider.FromConfig(cfg)
	if err != nil {
		logging.Error().Err(err).Msg("provider initialization failed")
		return err
	}
	defer backend.Close()

	mode := honeypot.ModeSSH
	if serveNoSSH {
		mode = honeypot.ModePlainTCP
	}

	srv, err := honeypot.New(cfg, backend, mode)
	if err != nil {
		logging.Error().Err(err).Msg("server initialization failed")
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Stop()
	}()

	if err := srv.ListenAndServe(context.Background()); err != nil {
		logging.Error().Err(err).Msg("server failed")
		return err
	}
	return nil
}
