package main

import (
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pagecam/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pagecam server",
	Long: `Start the pagecam HTTP server.

Sessions are started, previewed and finalized through the API. When the
server shuts down (via Ctrl+C or SIGTERM), every running session is
stopped; captured pages stay on disk.

Examples:
  pagecam serve                    # Start on the configured port
  pagecam serve --port 3000        # Start on custom port
  pagecam serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := slog.Default()

		h, cfgMgr, err := loadEnv()
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()

		cfg := cfgMgr.Get()
		host, port := cfg.Server.Host, strconv.Itoa(cfg.Server.Port)
		if cmd.Flags().Changed("host") {
			host = serveHost
		}
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			Home:          h,
			ConfigManager: cfgMgr,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
