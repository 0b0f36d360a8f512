package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snowgate/snowflake-mcp/internal/proxy"

	"github.com/spf13/cobra"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the bearer-token injection sidecar",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProxy(cmd.Context())
	},
}

func runProxy(ctx context.Context) error {
	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	settings := serverConfig.Proxy
	if settings.Port <= 0 {
		settings.Port = 8081
	}
	if settings.BearerToken == "" {
		settings.BearerToken = os.Getenv("SNOWMCP_PROXY_TOKEN")
	}

	logger := setupLogger(serverConfig.Logging)

	sidecar, err := proxy.New(proxy.Config{
		Upstream:    settings.UpstreamURL,
		BearerToken: settings.BearerToken,
		Timeout:     time.Duration(settings.TimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)
	httpSrv := &http.Server{Addr: addr, Handler: sidecar.Handler()}

	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-shutdownCtx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(drainCtx)
	}()

	logger.Info().Str("addr", addr).Str("upstream", settings.UpstreamURL).Msg("starting proxy sidecar")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
