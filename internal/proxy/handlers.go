// Package proxy implements the loopback HTTP surfaces that mediate FLV
// streams and hotlinked images between upstream CDNs and local consumers:
// per-session relay servers (Session Manager), a fixed-port static proxy,
// and the legacy fixed-port debug proxy.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmylchreest/dtvproxy/internal/reqshape"
	"github.com/jmylchreest/dtvproxy/internal/resolver"
)

// relayFLV issues a shaped GET against upstreamURL and streams the response
// straight through to w without buffering, so backpressure propagates from
// the client socket to the upstream socket. It never modifies bytes.
func relayFLV(w http.ResponseWriter, r *http.Request, client *http.Client, upstreamURL string, platform resolver.Platform, cookie string, logger *slog.Logger) {
	req, err := reqshape.FLV(r.Context(), upstreamURL, platform, cookie)
	if err != nil {
		http.Error(w, fmt.Sprintf("building upstream request: %v", err), http.StatusInternalServerError)
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("flv relay: upstream connect failed", "url", upstreamURL, "error", err)
		http.Error(w, fmt.Sprintf("upstream connect failed: %v", err), http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "video/x-flv")
	header.Set("Connection", "keep-alive")
	header.Set("Cache-Control", "no-store")
	header.Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				logger.Warn("flv relay: upstream read error", "url", upstreamURL, "error", readErr)
			}
			return
		}
	}
}

// handleImage implements GET /image?url=<absolute>: a one-shot
// fetch-and-buffer that bypasses hotlink protection via Referer shaping.
// The response is fully buffered (not chunked) because chunked transfer
// from this handler triggers early-EOF anomalies in some embedding WebViews.
func handleImage(client *http.Client, cookie string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url := r.URL.Query().Get("url")
		if url == "" {
			http.Error(w, "missing url query parameter", http.StatusBadRequest)
			return
		}

		req, err := reqshape.Image(r.Context(), url, cookie)
		if err != nil {
			http.Error(w, fmt.Sprintf("building upstream request: %v", err), http.StatusInternalServerError)
			return
		}

		resp, err := client.Do(req)
		if err != nil {
			http.Error(w, fmt.Sprintf("upstream connect failed: %v", err), http.StatusInternalServerError)
			return
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			http.Error(w, fmt.Sprintf("reading upstream body: %v", err), http.StatusInternalServerError)
			return
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			status := resp.StatusCode
			if status < 100 || status > 599 {
				status = http.StatusInternalServerError
			}
			w.WriteHeader(status)
			_, _ = w.Write(body)
			return
		}

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		header := w.Header()
		header.Set("Content-Type", contentType)
		header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
		header.Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// handleLegacyFLV implements GET /live.flv?url=<absolute>&platform=<name>,
// the static/debug proxy's un-pinned relay entry point.
func handleLegacyFLV(client *http.Client, cookie string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url := r.URL.Query().Get("url")
		if url == "" {
			http.Error(w, "missing url query parameter", http.StatusBadRequest)
			return
		}
		platform, _ := resolver.NormalizePlatform(r.URL.Query().Get("platform"))
		relayFLV(w, r, client, url, platform, cookie, logger)
	}
}
