package main

import (
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
)

// proxyConfig represents the CDN pass-through proxy config structure.
type proxyConfig struct {
	SkyUpstream string        `koanf:"sky_upstream"`
	BRUpstream  string        `koanf:"br_upstream"`
	Timeout     time.Duration `koanf:"timeout"`
}

func (c *proxyConfig) setDefaults() {
	if c.SkyUpstream == "" {
		c.SkyUpstream = "https://cdn.dos.zone/vcsky/"
	}
	if c.BRUpstream == "" {
		c.BRUpstream = "https://br.cdn.dos.zone/vcsky/"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}

// Response headers relayed from the upstream verbatim. Range support
// matters for the large game data files.
var relayedHeaders = []string{
	"Content-Length", "Accept-Ranges", "Content-Range",
	"Cache-Control", "ETag", "Last-Modified",
}

// handleCDNProxy streams files from an upstream CDN, forwarding range
// requests and adding the COOP/COEP headers the WASM runtime needs
// (SharedArrayBuffer). Pre-compressed *.br files are fetched as-is and,
// for upstreams that serve them without the header, re-labelled with
// Content-Encoding: br.
func handleCDNProxy(upstream string, forceBrotli bool, client *http.Client, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file := chi.URLParam(r, "*")
		isBR := strings.HasSuffix(file, ".br")

		req, err := http.NewRequest(r.Method, upstream+file, nil)
		if err != nil {
			respondJSON(w, http.StatusBadGateway, respError{Error: "invalid upstream URL"})
			return
		}
		for _, h := range []string{"User-Agent", "Accept", "Range"} {
			if v := r.Header.Get(h); v != "" {
				req.Header.Set(h, v)
			}
		}
		// Keep the upstream from double-compressing files that are
		// already brotli.
		if isBR {
			req.Header.Set("Accept-Encoding", "identity")
		} else if ae := r.Header.Get("Accept-Encoding"); ae != "" {
			req.Header.Set("Accept-Encoding", ae)
		}

		resp, err := client.Do(req)
		if err != nil {
			logger.Printf("error proxying %q: %v", file, err)
			respondJSON(w, http.StatusBadGateway, respError{Error: "upstream unreachable"})
			return
		}
		defer resp.Body.Close()

		h := w.Header()
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Embedder-Policy", "require-corp")
		h.Set("Access-Control-Allow-Origin", "*")

		ct := resp.Header.Get("Content-Type")
		if isBR && strings.HasSuffix(file, ".wasm.br") {
			ct = "application/wasm"
		}
		if ct != "" {
			h.Set("Content-Type", ct)
		}

		ce := resp.Header.Get("Content-Encoding")
		if forceBrotli && isBR {
			ce = "br"
		}
		if ce != "" {
			h.Set("Content-Encoding", ce)
		}

		for _, k := range relayedHeaders {
			if v := resp.Header.Get(k); v != "" {
				h.Set(k, v)
			}
		}

		w.WriteHeader(resp.StatusCode)
		if r.Method == http.MethodHead {
			return
		}
		// Stream instead of buffering; the .data/.wasm payloads run to
		// hundreds of megabytes.
		if _, err := io.CopyBuffer(w, resp.Body, make([]byte, 64*1024)); err != nil {
			logger.Printf("error streaming %q: %v", file, err)
		}
	}
}
