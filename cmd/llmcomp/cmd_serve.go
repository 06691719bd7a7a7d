package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/sebastienb/LLMComp/internal/proxy"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "listen address (default from config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local CORS/streaming proxy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.Proxy.Listen
		}
		if listen == "" {
			return fmt.Errorf("no listen address configured")
		}

		gin.SetMode(gin.ReleaseMode)
		srv := proxy.NewServer()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Run(listen)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return fmt.Errorf("proxy server: %w", err)
		case sig := <-sigCh:
			slog.Info("shutting down", "signal", sig)
			return nil
		}
	},
}
