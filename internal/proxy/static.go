package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	dtvhttp "github.com/jmylchreest/dtvproxy/internal/http"
)

// StaticPort is the fixed loopback port the static proxy binds. It is
// process-wide: multiple process instances may race to bind it and must
// tolerate the loser finding it already in use.
const StaticPort = 34721

const staticProxyKeepAlive = 120 * time.Second

const staticPreflightTimeout = 250 * time.Millisecond

// StaticProxy is a process-wide singleton HTTP server serving image assets
// and legacy query-parameterized FLV requests on a fixed port. Start is
// idempotent: a second call against an already-bound port returns the same
// base URL without binding a second listener.
type StaticProxy struct {
	client *http.Client
	logger *slog.Logger
	cookie string

	mu      sync.Mutex
	server  *dtvhttp.Server
	baseURL string
}

// NewStaticProxy constructs a StaticProxy using the given shared outbound
// HTTP client.
func NewStaticProxy(client *http.Client, logger *slog.Logger) *StaticProxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaticProxy{client: client, logger: logger}
}

// Start idempotently ensures a server is listening on StaticPort and
// returns its base URL.
func (p *StaticProxy) Start() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.baseURL != "" {
		return p.baseURL, nil
	}

	addr := fmt.Sprintf("127.0.0.1:%d", StaticPort)

	// Preflight: if something is already answering on this port, assume it
	// is a prior instance of this same static proxy and reuse its URL
	// rather than attempting (and failing) a second bind.
	if conn, err := net.DialTimeout("tcp", addr, staticPreflightTimeout); err == nil {
		_ = conn.Close()
		p.baseURL = fmt.Sprintf("http://%s", addr)
		p.logger.Info("static proxy already running, reusing", "addr", addr)
		return p.baseURL, nil
	}

	cfg := dtvhttp.DefaultServerConfig()
	cfg.Port = StaticPort
	cfg.IdleTimeout = staticProxyKeepAlive
	server := dtvhttp.NewServer(cfg, p.logger)
	registerStaticRoutes(server, p.client, p.cookie, p.logger)

	if err := server.Start(); err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			p.baseURL = fmt.Sprintf("http://%s", addr)
			p.logger.Info("static proxy bind raced, reusing existing instance", "addr", addr)
			return p.baseURL, nil
		}
		return "", fmt.Errorf("starting static proxy: %w", err)
	}

	p.server = server
	p.baseURL = fmt.Sprintf("http://%s", addr)
	return p.baseURL, nil
}

// Stop tears down the static proxy's server, if this process is the one
// that bound it.
func (p *StaticProxy) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server == nil {
		p.baseURL = ""
		return nil
	}
	err := p.server.Close()
	p.server = nil
	p.baseURL = ""
	return err
}

func registerStaticRoutes(server *dtvhttp.Server, client *http.Client, cookie string, logger *slog.Logger) {
	router := server.Router()
	router.Get("/live.flv", handleLegacyFLV(client, cookie, logger))
	router.Get("/image", handleImage(client, cookie))
}
