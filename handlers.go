package main

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/time/rate"

	"github.com/rtczone/sigrelay/internal/relay"
)

const (
	hasStore = 1 << iota
)

// reqCtx is the context injected into every request.
type reqCtx struct {
	app *App
}

type reqOffer struct {
	RoomID  string `json:"roomId"`
	HostKey string `json:"hostKey"`
	Offer   string `json:"offer"`
}

type reqAnswer struct {
	RoomID  string `json:"roomId"`
	JoinKey string `json:"joinKey"`
	Answer  string `json:"answer"`
}

// respCreate mirrors the wire shape the client expects from create.
type respCreate struct {
	RoomID     string `json:"roomId"`
	HostKey    string `json:"hostKey"`
	JoinKey    string `json:"joinKey"`
	TTLSeconds int    `json:"ttlSeconds"`
}

type respError struct {
	Error       string          `json:"error"`
	Hint        string          `json:"hint,omitempty"`
	Diagnostics map[string]bool `json:"diagnostics,omitempty"`
}

// wrap is a middleware that attaches the app context to handlers and
// short-circuits store-backed endpoints with a 501 when no backend has
// credentials.
func wrap(next http.HandlerFunc, app *App, opts uint8) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts&hasStore != 0 && !app.store.IsConfigured() {
			respondJSON(w, http.StatusNotImplemented, respError{
				Error:       "store not configured",
				Hint:        "Set REDIS_URL / KV_URL, or UPSTASH_REDIS_REST_URL and UPSTASH_REDIS_REST_TOKEN (the KV_REST_API_* variables work too).",
				Diagnostics: app.diag,
			})
			return
		}

		// Attach the request context.
		ctx := context.WithValue(r.Context(), "ctx", &reqCtx{app: app})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// respondJSON writes a JSON response with the permissive cross-origin
// and no-store headers every API response carries.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	b, err := json.Marshal(data)
	if err != nil {
		logger.Printf("error marshalling JSON response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	w.Write(b)
}

// handleOptions answers CORS preflight for every route.
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")
	w.WriteHeader(http.StatusOK)
}

// readJSONReq reads the JSON body from a request and unmarshals it to the given target.
func readJSONReq(r *http.Request, o interface{}) error {
	defer r.Body.Close()
	b, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, o)
}

// handleRTCCreate mints a new room with its capability keys.
func handleRTCCreate(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	if !app.limiter.allow(r.RemoteAddr) {
		respondJSON(w, http.StatusTooManyRequests, respError{Error: "too many rooms, slow down"})
		return
	}

	room, err := app.relay.Create()
	if err != nil {
		app.logger.Printf("error creating room: %v", err)
		respondJSON(w, http.StatusInternalServerError, respError{Error: "error creating room"})
		return
	}

	respondJSON(w, http.StatusOK, respCreate{
		RoomID:     room.ID,
		HostKey:    room.HostKey,
		JoinKey:    room.JoinKey,
		TTLSeconds: int(room.TTL / time.Second),
	})
}

// handleRTCOffer publishes the host's SDP offer.
func handleRTCOffer(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	var req reqOffer
	if err := readJSONReq(r, &req); err != nil || req.RoomID == "" || req.HostKey == "" || req.Offer == "" {
		respondJSON(w, http.StatusBadRequest, respError{Error: "missing fields"})
		return
	}

	if err := app.relay.PublishOffer(req.RoomID, req.HostKey, req.Offer); err != nil {
		if err == relay.ErrUnauthorized {
			respondJSON(w, http.StatusForbidden, respError{Error: "invalid hostKey"})
			return
		}
		respondJSON(w, http.StatusInternalServerError, respError{Error: "error storing offer"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleRTCAnswer publishes the joiner's SDP answer.
func handleRTCAnswer(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	var req reqAnswer
	if err := readJSONReq(r, &req); err != nil || req.RoomID == "" || req.JoinKey == "" || req.Answer == "" {
		respondJSON(w, http.StatusBadRequest, respError{Error: "missing fields"})
		return
	}

	if err := app.relay.PublishAnswer(req.RoomID, req.JoinKey, req.Answer); err != nil {
		if err == relay.ErrUnauthorized {
			respondJSON(w, http.StatusForbidden, respError{Error: "invalid joinKey"})
			return
		}
		respondJSON(w, http.StatusInternalServerError, respError{Error: "error storing answer"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleRTCGetOffer returns the stored offer, or null while absent.
// Clients poll this until the offer shows up or the room expires.
func handleRTCGetOffer(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		respondJSON(w, http.StatusBadRequest, respError{Error: "roomId is required"})
		return
	}

	var out struct {
		Offer *string `json:"offer"`
	}
	if v, ok := app.relay.ReadOffer(roomID); ok {
		out.Offer = &v
	}
	respondJSON(w, http.StatusOK, out)
}

// handleRTCGetAnswer returns the stored answer, or null while absent.
func handleRTCGetAnswer(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		respondJSON(w, http.StatusBadRequest, respError{Error: "roomId is required"})
		return
	}

	var out struct {
		Answer *string `json:"answer"`
	}
	if v, ok := app.relay.ReadAnswer(roomID); ok {
		out.Answer = &v
	}
	respondJSON(w, http.StatusOK, out)
}

// handleRTCQR renders a QR code of the join URL for cross-device joins.
func handleRTCQR(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		respondJSON(w, http.StatusBadRequest, respError{Error: "roomId is required"})
		return
	}

	join := strings.TrimRight(app.cfg.RootURL, "/") + "/#join=" + url.QueryEscape(roomID)
	png, err := qrcode.Encode(join, qrcode.Medium, 256)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, respError{Error: "error generating QR code"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// createLimiter throttles room creation per remote host. Limiters for
// hosts that go quiet are reaped periodically.
type createLimiter struct {
	mu     sync.Mutex
	period time.Duration
	ips    map[string]*ipLimiter

	count int
	burst int
}

type ipLimiter struct {
	limiter *rate.Limiter
	expire  time.Time
}

func newCreateLimiter(period time.Duration, count, burst int) *createLimiter {
	l := &createLimiter{
		period: period,
		count:  count,
		burst:  burst,
		ips:    map[string]*ipLimiter{},
	}
	go l.watch()
	return l
}

func (l *createLimiter) watch() {
	t := time.NewTicker(l.period + time.Minute)
	defer t.Stop()
	for range t.C {
		now := time.Now()
		l.mu.Lock()
		for k, x := range l.ips {
			if x.expire.Before(now) {
				delete(l.ips, k)
			}
		}
		l.mu.Unlock()
	}
}

func (l *createLimiter) allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	l.mu.Lock()
	x, ok := l.ips[host]
	if !ok {
		x = &ipLimiter{
			limiter: rate.NewLimiter(rate.Every(l.period/time.Duration(l.count)), l.burst),
		}
		l.ips[host] = x
	}
	x.expire = time.Now().Add(time.Minute * 10)
	l.mu.Unlock()

	return x.limiter.Allow()
}
