// Package reqshape builds outbound GET requests carrying the per-platform
// headers (Referer, Origin, UA, Accept, Range) that the upstream CDNs
// require in place of real browser navigation.
package reqshape

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmylchreest/dtvproxy/internal/resolver"
)

// User-Agent strings. The image path uses a slightly older Chrome build
// than the streaming/recording path; no behavioral difference is expected
// between the two, they are kept distinct for fidelity with the upstream
// sources this shaping was derived from.
const (
	UserAgentStream = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"
	UserAgentImage  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

const (
	acceptImage = "image/avif,image/webp,image/apng,image/*;q=0.8,*/*;q=0.5"
	acceptFLV   = "video/x-flv,application/octet-stream,*/*"
)

type originReferer struct {
	referer string
	origin  string
}

// flvHeaders is keyed by declared platform, used for the FLV relay and the
// recording worker.
var flvHeaders = map[resolver.Platform]originReferer{
	resolver.PlatformHuya:     {referer: "https://www.huya.com/", origin: "https://www.huya.com"},
	resolver.PlatformBilibili: {referer: "https://live.bilibili.com/", origin: "https://live.bilibili.com"},
	resolver.PlatformDouyin:   {referer: "https://live.douyin.com/", origin: "https://live.douyin.com"},
	resolver.PlatformDouyu:    {referer: "https://www.douyu.com/"},
}

// imageRefererFor infers the originating platform from a hotlinked image
// URL's domain, since the image proxy is never told a declared platform.
func imageRefererFor(rawURL string) string {
	switch {
	case strings.Contains(rawURL, "hdslb.com"), strings.Contains(rawURL, "bilibili.com"):
		return "https://live.bilibili.com/"
	case strings.Contains(rawURL, "huya.com"):
		return "https://www.huya.com/"
	case strings.Contains(rawURL, "douyin"), strings.Contains(rawURL, "douyinpic.com"):
		return "https://www.douyin.com/"
	default:
		return ""
	}
}

func newGet(ctx context.Context, rawURL, ua, accept, cookie string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", accept)
	if cookie = strings.TrimSpace(cookie); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	return req, nil
}

// FLV builds a shaped GET for a platform-declared FLV/recording fetch.
func FLV(ctx context.Context, rawURL string, platform resolver.Platform, cookie string) (*http.Request, error) {
	req, err := newGet(ctx, rawURL, UserAgentStream, acceptFLV, cookie)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", "bytes=0-")
	req.Header.Set("Connection", "keep-alive")
	if hdr, ok := flvHeaders[platform]; ok {
		if hdr.referer != "" {
			req.Header.Set("Referer", hdr.referer)
		}
		if hdr.origin != "" {
			req.Header.Set("Origin", hdr.origin)
		}
	}
	return req, nil
}

// Image builds a shaped GET for the image proxy, inferring the hotlink
// bypass Referer from the target URL's domain rather than a declared
// platform.
func Image(ctx context.Context, rawURL string, cookie string) (*http.Request, error) {
	req, err := newGet(ctx, rawURL, UserAgentImage, acceptImage, cookie)
	if err != nil {
		return nil, err
	}
	if referer := imageRefererFor(rawURL); referer != "" {
		req.Header.Set("Referer", referer)
	}
	return req, nil
}
