// Package resolver dispatches stream-URL resolution to platform-specific
// oracles and applies the liveness, HTTPS, and container-format rules that
// are common to every platform.
//
// The actual Douyu/Douyin/Huya/Bilibili network clients are external
// collaborators (see the package doc for dtvproxy's CORE scope) and are not
// implemented here; callers register an Oracle per platform via
// RegisterOracle.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Platform identifies one of the supported streaming platforms.
type Platform string

const (
	PlatformDouyu    Platform = "DOUYU"
	PlatformDouyin   Platform = "DOUYIN"
	PlatformHuya     Platform = "HUYA"
	PlatformBilibili Platform = "BILIBILI"
)

// Quality is a normalized stream-quality selector.
type Quality string

const (
	QualityOriginal Quality = "原画"
	QualityHD       Quality = "高清"
	QualitySD       Quality = "标清"
)

var (
	// ErrPlatformNotSupported is returned when a platform string does not
	// match any known Platform constant.
	ErrPlatformNotSupported = errors.New("resolver: platform not supported")
	// ErrNoOracleRegistered is returned when no Oracle has been registered
	// for a platform that is otherwise valid.
	ErrNoOracleRegistered = errors.New("resolver: no oracle registered for platform")
	// ErrRoomOffline is returned (wrapped) when the oracle reports the room
	// is not currently broadcasting.
	ErrRoomOffline = errors.New("resolver: room is offline")
	// ErrBilibiliNotFLV is returned when Bilibili resolves to an HLS URL;
	// this CORE only supports recording FLV streams.
	ErrBilibiliNotFLV = errors.New("Bilibili current stream is HLS; recording supports FLV only")
)

// NormalizePlatform upper-cases s and validates it against the known
// platform set.
func NormalizePlatform(s string) (Platform, error) {
	p := Platform(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PlatformDouyu, PlatformDouyin, PlatformHuya, PlatformBilibili:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrPlatformNotSupported, s)
	}
}

// NormalizeQuality maps any input other than the two named alternates to
// QualityOriginal, the platform default.
func NormalizeQuality(q string) Quality {
	switch Quality(q) {
	case QualityHD:
		return QualityHD
	case QualitySD:
		return QualitySD
	default:
		return QualityOriginal
	}
}

// offlineTokens are substrings that mark a resolver error as an
// "offline" condition rather than a transient failure.
var offlineTokens = []string{
	"未开播",
	"房间不存在",
	"stream_ended_or_offline",
}

// IsOffline reports whether msg indicates the room is not broadcasting.
func IsOffline(msg string) bool {
	for _, tok := range offlineTokens {
		if strings.Contains(msg, tok) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(msg), "offline")
}

// ForceHTTPS rewrites an http:// URL to https://, passing https:// and any
// scheme-less value through unchanged except for the http-to-https swap.
// It is idempotent: ForceHTTPS(ForceHTTPS(u)) == ForceHTTPS(u).
func ForceHTTPS(u string) string {
	if strings.HasPrefix(u, "http://") {
		return "https://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// IsFLVStream reports whether a Bilibili stream URL points at an FLV
// container rather than HLS, by substring as the platform provides no
// structured content-type negotiation for this endpoint.
func IsFLVStream(u string) bool {
	return strings.Contains(u, ".flv") || strings.Contains(u, "flv?")
}

// Oracle resolves a platform room to a live stream URL. Implementations are
// external collaborators; this CORE ships none, only the Dispatcher that
// routes to them and a StaticOracle test double.
type Oracle interface {
	Resolve(ctx context.Context, roomID, quality, cookie string) (streamURL string, live bool, err error)
}

// Dispatcher routes Resolve calls to the Oracle registered for a platform
// and applies the cross-platform liveness/HTTPS/container rules.
type Dispatcher struct {
	mu      sync.RWMutex
	oracles map[Platform]Oracle
}

// NewDispatcher returns an empty Dispatcher; oracles must be registered via
// Register before Resolve can succeed for that platform.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{oracles: make(map[Platform]Oracle)}
}

// Register installs the Oracle used to resolve rooms on platform.
func (d *Dispatcher) Register(platform Platform, oracle Oracle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.oracles[platform] = oracle
}

// Resolve dispatches to the oracle registered for platform, validates
// liveness, normalizes the URL to HTTPS, and rejects non-FLV Bilibili
// streams.
func (d *Dispatcher) Resolve(ctx context.Context, platform Platform, roomID, quality, cookie string) (string, error) {
	d.mu.RLock()
	oracle, ok := d.oracles[platform]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoOracleRegistered, platform)
	}

	streamURL, live, err := oracle.Resolve(ctx, roomID, string(quality), cookie)
	if err != nil {
		if IsOffline(err.Error()) {
			return "", fmt.Errorf("%w: %s", ErrRoomOffline, err.Error())
		}
		return "", err
	}
	if !live {
		return "", fmt.Errorf("%w: %s/%s", ErrRoomOffline, platform, roomID)
	}

	streamURL = ForceHTTPS(streamURL)

	if platform == PlatformBilibili && !IsFLVStream(streamURL) {
		return "", ErrBilibiliNotFLV
	}

	return streamURL, nil
}

// RegisterOracle installs oracle into the package-level default Dispatcher,
// the registration point external collaborators use to plug in real
// platform clients.
func RegisterOracle(platform Platform, oracle Oracle) {
	Default.Register(platform, oracle)
}

// Default is the package-level Dispatcher used by RegisterOracle and by
// callers that do not need an isolated Dispatcher of their own (tests
// excepted, which should build their own via NewDispatcher to avoid
// cross-test registration leaks).
var Default = NewDispatcher()
