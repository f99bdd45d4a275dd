package reqshape

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/dtvproxy/internal/resolver"
)

func TestFLV_HuyaHeaders(t *testing.T) {
	req, err := FLV(context.Background(), "https://cdn.huya.com/x.flv", resolver.PlatformHuya, "")
	require.NoError(t, err)
	assert.Equal(t, "https://www.huya.com/", req.Header.Get("Referer"))
	assert.Equal(t, "https://www.huya.com", req.Header.Get("Origin"))
	assert.Equal(t, "bytes=0-", req.Header.Get("Range"))
	assert.Equal(t, UserAgentStream, req.Header.Get("User-Agent"))
}

func TestFLV_DouyuHasNoOrigin(t *testing.T) {
	req, err := FLV(context.Background(), "https://cdn.douyu.com/x.flv", resolver.PlatformDouyu, "")
	require.NoError(t, err)
	assert.Equal(t, "https://www.douyu.com/", req.Header.Get("Referer"))
	assert.Empty(t, req.Header.Get("Origin"))
}

func TestFLV_CookieTrimmed(t *testing.T) {
	req, err := FLV(context.Background(), "https://cdn.huya.com/x.flv", resolver.PlatformHuya, "  a=b  ")
	require.NoError(t, err)
	assert.Equal(t, "a=b", req.Header.Get("Cookie"))
}

func TestFLV_EmptyCookieOmitted(t *testing.T) {
	req, err := FLV(context.Background(), "https://cdn.huya.com/x.flv", resolver.PlatformHuya, "   ")
	require.NoError(t, err)
	assert.Empty(t, req.Header.Get("Cookie"))
}

func TestImage_InfersBilibiliFromHdslb(t *testing.T) {
	req, err := Image(context.Background(), "https://i0.hdslb.com/bfs/live/x.jpg", "")
	require.NoError(t, err)
	assert.Equal(t, "https://live.bilibili.com/", req.Header.Get("Referer"))
	assert.Equal(t, UserAgentImage, req.Header.Get("User-Agent"))
}

func TestImage_InfersHuya(t *testing.T) {
	req, err := Image(context.Background(), "https://a.msstatic.huya.com/x.jpg", "")
	require.NoError(t, err)
	assert.Equal(t, "https://www.huya.com/", req.Header.Get("Referer"))
}

func TestImage_InfersDouyin(t *testing.T) {
	req, err := Image(context.Background(), "https://p3.douyinpic.com/x.jpg", "")
	require.NoError(t, err)
	assert.Equal(t, "https://www.douyin.com/", req.Header.Get("Referer"))
}

func TestImage_UnknownDomainNoReferer(t *testing.T) {
	req, err := Image(context.Background(), "https://example.com/x.jpg", "")
	require.NoError(t, err)
	assert.Empty(t, req.Header.Get("Referer"))
}
