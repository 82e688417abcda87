package main

import (
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
)

func newProxyRouter(upstream string, forceBrotli bool) *chi.Mux {
	client := &http.Client{
		Timeout:   2 * time.Second,
		Transport: &http.Transport{DisableCompression: true},
	}
	h := handleCDNProxy(upstream, forceBrotli, client, log.New(ioutil.Discard, "", 0))
	r := chi.NewRouter()
	r.Get("/files/*", h)
	r.Head("/files/*", h)
	return r
}

func TestProxyForwardsRangeAndHeaders(t *testing.T) {
	var gotRange, gotEncoding string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Header().Set("ETag", `"abc123"`)
		fmt.Fprint(w, "chunk-data")
	}))
	defer upstream.Close()

	r := newProxyRouter(upstream.URL+"/", false)
	req := httptest.NewRequest(http.MethodGet, "/files/game.data", nil)
	req.Header.Set("Range", "bytes=0-1023")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if gotRange != "bytes=0-1023" {
		t.Fatalf("expected the range header to be forwarded, got %q", gotRange)
	}
	if gotEncoding == "identity" {
		t.Fatalf("plain files must not force identity encoding")
	}
	if w.Code != http.StatusOK || w.Body.String() != "chunk-data" {
		t.Fatalf("unexpected response: %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get("Cross-Origin-Opener-Policy") != "same-origin" ||
		w.Header().Get("Cross-Origin-Embedder-Policy") != "require-corp" {
		t.Fatalf("expected COOP/COEP headers")
	}
	if w.Header().Get("ETag") != `"abc123"` || w.Header().Get("Accept-Ranges") != "bytes" {
		t.Fatalf("expected upstream caching headers to be relayed")
	}
}

func TestProxyBrotliWasm(t *testing.T) {
	var gotEncoding string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, "brotli-bytes")
	}))
	defer upstream.Close()

	r := newProxyRouter(upstream.URL+"/", true)
	req := httptest.NewRequest(http.MethodGet, "/files/main.wasm.br", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if gotEncoding != "identity" {
		t.Fatalf("expected identity upstream encoding for .br files, got %q", gotEncoding)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/wasm" {
		t.Fatalf("expected application/wasm for .wasm.br, got %q", ct)
	}
	if ce := w.Header().Get("Content-Encoding"); ce != "br" {
		t.Fatalf("expected the brotli label to be forced, got %q", ce)
	}
}

func TestProxyHeadSkipsBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		if r.Method != http.MethodHead {
			fmt.Fprint(w, "full-bytes")
		}
	}))
	defer upstream.Close()

	r := newProxyRouter(upstream.URL+"/", false)
	req := httptest.NewRequest(http.MethodHead, "/files/game.data", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("expected no body on HEAD, got %q", w.Body.String())
	}
}

func TestProxyUpstreamUnreachable(t *testing.T) {
	r := newProxyRouter("http://127.0.0.1:1/", false)
	req := httptest.NewRequest(http.MethodGet, "/files/game.data", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}
