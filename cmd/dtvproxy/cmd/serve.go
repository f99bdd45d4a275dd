package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/dtvproxy/internal/config"
	"github.com/jmylchreest/dtvproxy/internal/httpclient"
	"github.com/jmylchreest/dtvproxy/internal/proxy"
	"github.com/jmylchreest/dtvproxy/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the static and legacy debug proxies until interrupted",
	Long: `serve binds the two fixed-port loopback proxies dtvproxy always keeps
available for ad hoc relay/image requests:

  - the static proxy on 127.0.0.1:34721 (idempotent; if another instance
    already listens there, serve reuses that listener instead of binding)
  - the legacy debug proxy on 127.0.0.1:34719 (not idempotent; if the
    port is taken, serve exits with an error)

Per-session FLV relays and live recordings are started independently via
"dtvproxy proxy session-start" and "dtvproxy record start"; they do not
require serve to be running.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client := httpclient.New(httpclient.Config{
		IdleConnsPerHost: cfg.Proxy.IdleConnsPerHost,
		DialKeepAlive:    cfg.Proxy.DialKeepAlive,
		RequestTimeout:   cfg.Proxy.RequestTimeout,
	})

	staticProxy := proxy.NewStaticProxy(client, logger)
	staticURL, err := staticProxy.Start()
	if err != nil {
		return fmt.Errorf("starting static proxy: %w", err)
	}
	logger.Info("static proxy listening", slog.String("url", staticURL))

	debugProxy := proxy.NewDebugProxy(client, logger)
	debugURL, err := debugProxy.Start()
	if err != nil {
		return fmt.Errorf("starting debug proxy: %w", err)
	}
	logger.Info("debug proxy listening", slog.String("url", debugURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("dtvproxy serve ready", slog.String("version", version.Version))
	<-ctx.Done()

	if err := debugProxy.Stop(); err != nil {
		logger.Warn("error stopping debug proxy", slog.Any("error", err))
	}
	if err := staticProxy.Stop(); err != nil {
		logger.Warn("error stopping static proxy", slog.Any("error", err))
	}
	return nil
}
