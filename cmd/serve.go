package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PolarWolf314/whanau/internal/server"
	"github.com/PolarWolf314/whanau/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	serveConfigPath string
	serveListen     string
	serveDirectory  string
	serveTokens     []string
	serveJSONLogs   bool
)

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to a YAML server config")
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "address to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDirectory, "dir", "", "folder to keep public keys and invites in (overrides config)")
	serveCmd.Flags().StringSliceVar(&serveTokens, "token", nil, "accepted bearer token, repeatable (overrides config)")
	serveCmd.Flags().BoolVar(&serveJSONLogs, "json-logs", false, "log JSON lines instead of console output")
}

func resetServeCommandState() {
	serveConfigPath = ""
	serveListen = ""
	serveDirectory = ""
	serveTokens = nil
	serveJSONLogs = false
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a directory server for HTTP clients",
	Long: `Serves public keys and invite records over HTTP so family members can
exchange invites without a shared folder. The server never sees a private
key or a plaintext family key.

Point clients at it with:
  whanau config set-server --url http://host:8080

Example server.yaml:
  listen: ":8080"
  directory: /var/lib/whanau
  tokens:
    - change-me
  metrics: true
  rate_limit: 5
  rate_burst: 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := server.LoadConfig(serveConfigPath)
		if err != nil {
			return err
		}
		if serveListen != "" {
			cfg.Listen = serveListen
		}
		if serveDirectory != "" {
			cfg.Directory = serveDirectory
		}
		if len(serveTokens) > 0 {
			cfg.Tokens = serveTokens
		}

		log := newServerLogger()
		srv, err := server.New(cfg, log)
		if err != nil {
			cmd.Println(formatError(err))
			return err
		}
		if len(cfg.Tokens) == 0 {
			log.Warn().Msg("No tokens configured; any bearer token is accepted")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := srv.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Directory server failed")
			return err
		}
		cmd.Println(ui.Done("Directory server stopped"))
		return nil
	},
}

func newServerLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	if serveJSONLogs {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
