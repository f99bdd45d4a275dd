package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	dtvhttp "github.com/jmylchreest/dtvproxy/internal/http"
)

// DebugPort is the legacy fixed debug port. It duplicates StaticProxy's
// routes; kept for fidelity with the system this was adapted from rather
// than consolidated (see DESIGN.md).
const DebugPort = 34719

// DebugProxy binds the same routes as StaticProxy on a second fixed port,
// non-idempotently: unlike StaticProxy, each Start tears down any previous
// server it bound on this port first.
type DebugProxy struct {
	client *http.Client
	logger *slog.Logger
	cookie string

	mu     sync.Mutex
	server *dtvhttp.Server
}

// NewDebugProxy constructs a DebugProxy using the given shared outbound
// HTTP client.
func NewDebugProxy(client *http.Client, logger *slog.Logger) *DebugProxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &DebugProxy{client: client, logger: logger}
}

// Start tears down any previously bound server and binds a fresh one on
// DebugPort, returning its base URL.
func (p *DebugProxy) Start() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server != nil {
		_ = p.server.Close()
		p.server = nil
	}

	cfg := dtvhttp.DefaultServerConfig()
	cfg.Port = DebugPort
	server := dtvhttp.NewServer(cfg, p.logger)
	registerStaticRoutes(server, p.client, p.cookie, p.logger)

	if err := server.Start(); err != nil {
		return "", fmt.Errorf("starting debug proxy: %w", err)
	}
	p.server = server

	return fmt.Sprintf("http://127.0.0.1:%d", DebugPort), nil
}

// Stop tears down the debug proxy's server, if running.
func (p *DebugProxy) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server == nil {
		return nil
	}
	err := p.server.Close()
	p.server = nil
	return err
}
