package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/dtvproxy/internal/httpclient"
	"github.com/jmylchreest/dtvproxy/internal/proxy"
	"github.com/jmylchreest/dtvproxy/internal/resolver"
)

// proxyCmd groups the FLV/image proxy commands: the per-session relay
// ("start_flv_proxy_session"), the fixed-port static proxy
// ("start_static_proxy_server"), and the legacy fixed-port debug proxy
// ("start_proxy"). Each blocks in the foreground until interrupted, which
// is this CLI's realization of the corresponding stop command (see
// DESIGN.md: there is no background daemon a separate "stop" invocation
// could address).
var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run an FLV/image proxy in the foreground",
}

var proxySessionStartCmd = &cobra.Command{
	Use:   "session-start",
	Short: "Start one per-session FLV relay bound to an upstream URL",
	RunE:  runProxySessionStart,
}

var proxyStaticStartCmd = &cobra.Command{
	Use:   "static-start",
	Short: "Start the fixed-port static proxy (127.0.0.1:34721)",
	RunE:  runProxyStaticStart,
}

var proxyDebugStartCmd = &cobra.Command{
	Use:   "debug-start",
	Short: "Start the legacy fixed-port debug proxy (127.0.0.1:34719)",
	RunE:  runProxyDebugStart,
}

var (
	proxySessionUpstream string
	proxySessionPlatform string
	proxySessionRoomID   string
)

func init() {
	rootCmd.AddCommand(proxyCmd)
	proxyCmd.AddCommand(proxySessionStartCmd, proxyStaticStartCmd, proxyDebugStartCmd)

	proxySessionStartCmd.Flags().StringVar(&proxySessionUpstream, "upstream", "", "upstream FLV URL to relay (required)")
	proxySessionStartCmd.Flags().StringVar(&proxySessionPlatform, "platform", "", "declared platform, for Referer/Origin shaping (DOUYU, DOUYIN, HUYA, BILIBILI)")
	proxySessionStartCmd.Flags().StringVar(&proxySessionRoomID, "room", "", "room ID, for logging only")
	_ = proxySessionStartCmd.MarkFlagRequired("upstream")
}

func runProxySessionStart(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	platform, err := resolver.NormalizePlatform(proxySessionPlatform)
	if err != nil {
		return err
	}

	client := httpclient.NewWithDefaults()
	mgr := proxy.NewSessionManager(client, logger)

	session, err := mgr.Start(proxySessionUpstream, platform, proxySessionRoomID)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	fmt.Println(session.ProxyURL())
	logger.Info("session started", slog.String("session_id", session.ID), slog.Int("port", session.Port))

	waitForInterrupt(logger)

	mgr.Stop(session.ID)
	return nil
}

func runProxyStaticStart(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	client := httpclient.NewWithDefaults()
	p := proxy.NewStaticProxy(client, logger)

	url, err := p.Start()
	if err != nil {
		return fmt.Errorf("starting static proxy: %w", err)
	}
	fmt.Println(url)

	waitForInterrupt(logger)
	return p.Stop()
}

func runProxyDebugStart(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	client := httpclient.NewWithDefaults()
	p := proxy.NewDebugProxy(client, logger)

	url, err := p.Start()
	if err != nil {
		return fmt.Errorf("starting debug proxy: %w", err)
	}
	fmt.Println(url)

	waitForInterrupt(logger)
	return p.Stop()
}

// waitForInterrupt blocks until SIGINT or SIGTERM, the foreground-process
// stand-in for a remote "stop" command.
func waitForInterrupt(logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))
}
