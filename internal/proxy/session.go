package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	dtvhttp "github.com/jmylchreest/dtvproxy/internal/http"
	"github.com/jmylchreest/dtvproxy/internal/resolver"
)

// ErrEmptyUpstreamURL is returned by Start when the upstream URL is empty.
var ErrEmptyUpstreamURL = errors.New("proxy: upstream_url must not be empty")

// sessionKeepAlive is the local server's HTTP keep-alive idle timeout.
const sessionKeepAlive = 120 * time.Second

// Session is one running per-upstream-URL relay server bound to an
// ephemeral loopback port.
type Session struct {
	ID          string
	UpstreamURL string
	Platform    resolver.Platform
	RoomID      string
	Port        int

	server *dtvhttp.Server
}

// ProxyURL returns the loopback URL a local player should open to consume
// this session's relay.
func (s *Session) ProxyURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/live.flv", s.Port)
}

// SessionManager maps session IDs to running per-session relay servers.
type SessionManager struct {
	client *http.Client
	logger *slog.Logger
	cookie string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager constructs a SessionManager. client is the shared
// outbound streaming HTTP client built by internal/httpclient.
func NewSessionManager(client *http.Client, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		client:   client,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// newSessionID mints a 32-character hex session ID from a v4 UUID.
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Start binds a new loopback relay server pinned to upstreamURL and returns
// its session ID and public proxy URL. The server runs asynchronously;
// Start returns as soon as the bind succeeds.
func (m *SessionManager) Start(upstreamURL string, platform resolver.Platform, roomID string) (*Session, error) {
	if strings.TrimSpace(upstreamURL) == "" {
		return nil, ErrEmptyUpstreamURL
	}

	cfg := dtvhttp.DefaultServerConfig()
	cfg.IdleTimeout = sessionKeepAlive
	server := dtvhttp.NewServer(cfg, m.logger)

	session := &Session{
		ID:          newSessionID(),
		UpstreamURL: upstreamURL,
		Platform:    platform,
		RoomID:      roomID,
		server:      server,
	}

	server.Router().Get("/live.flv", func(w http.ResponseWriter, r *http.Request) {
		relayFLV(w, r, m.client, session.UpstreamURL, session.Platform, m.cookie, m.logger)
	})

	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("binding session server: %w", err)
	}
	session.Port = server.Port()

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	m.logger.Info("session started", "session_id", session.ID, "port", session.Port, "platform", platform, "room_id", roomID)

	return session, nil
}

// Stop removes and non-gracefully shuts down the named session. An unknown
// ID is a no-op.
func (m *SessionManager) Stop(sessionID string) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := session.server.Close(); err != nil {
		m.logger.Warn("error stopping session server", "session_id", sessionID, "error", err)
	}
	m.logger.Info("session stopped", "session_id", sessionID)
}

// StopAll drains the session map and stops every session's server
// sequentially.
func (m *SessionManager) StopAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, session := range sessions {
		if err := session.server.Close(); err != nil {
			m.logger.Warn("error stopping session server", "session_id", id, "error", err)
		}
	}
}

// Get returns the session for sessionID, if any.
func (m *SessionManager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Count returns the number of currently tracked sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
