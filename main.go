// Sigrelay, an ephemeral WebRTC signaling relay.
// License AGPL3

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi"
	tparse "github.com/karrick/tparse/v2"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/rtczone/sigrelay/internal/relay"
	"github.com/rtczone/sigrelay/store"
	flag "github.com/spf13/pflag"
)

var (
	logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
	ko     = koanf.New(".")

	// Version of the build injected at build time.
	buildString = "unknown"
)

// App is the global app context that's passed around.
type App struct {
	cfg     *Config
	proxy   proxyConfig
	blob    blobConfig
	store   *store.Facade
	relay   *relay.Relay
	diag    map[string]bool
	limiter *createLimiter
	logger  *log.Logger
}

func loadConfig() {
	// Register --help handler.
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	f.StringSlice("config", []string{"config.toml"},
		"Path to one or more TOML config files to load in order. The embedded defaults are used when none exists.")
	f.Bool("new-config", false, "generate sample config file")
	f.Bool("version", false, "Show build version")
	f.Parse(os.Args[1:])

	// Display version.
	if ok, _ := f.GetBool("version"); ok {
		fmt.Println(buildString)
		os.Exit(0)
	}

	// Generate new config.
	if ok, _ := f.GetBool("new-config"); ok {
		if err := newConfigFile(); err != nil {
			logger.Println(err)
			os.Exit(1)
		}
		logger.Println("generated config.toml. Edit and run the app.")
		os.Exit(0)
	}

	// Read the config files.
	cFiles, _ := f.GetStringSlice("config")
	for _, cf := range cFiles {
		if _, err := os.Stat(cf); len(cFiles) == 1 && cf == "config.toml" && os.IsNotExist(err) {
			continue
		}
		logger.Printf("reading config: %s", cf)
		if err := ko.Load(file.Provider(cf), toml.Parser()); err != nil {
			logger.Fatalf("error loading config from file: %v.", err)
		}
	}

	// Load the embedded defaults when no file was read.
	if !ko.Exists("app") {
		logger.Printf("loading default configuration")
		if err := ko.Load(rawbytes.Provider([]byte(sampleConfig)), toml.Parser()); err != nil {
			logger.Fatalf("error loading default configuration: %v.", err)
		}
	}

	// Merge env flags into config.
	if err := ko.Load(env.Provider("SIGRELAY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SIGRELAY_")), "__", ".", -1)
	}), nil); err != nil {
		logger.Printf("error loading env config: %v", err)
	}

	// Merge command line flags into config.
	ko.Load(posflag.Provider(f, ".", ko), nil)
}

func main() {
	// Load configuration from files.
	loadConfig()

	// Initialize global app context.
	app := &App{logger: logger}
	if err := ko.Unmarshal("app", &app.cfg); err != nil {
		logger.Fatalf("error unmarshalling 'app' config: %v", err)
	}
	if app.cfg.Address == "" {
		app.cfg.Address = ":9000"
	}

	// RTC_ROOM_TTL_SECONDS is honored for parity with existing
	// deployments of the relay.
	if v := os.Getenv("RTC_ROOM_TTL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			logger.Fatalf("invalid RTC_ROOM_TTL_SECONDS value %q", v)
		}
		app.cfg.RoomTTL = time.Duration(n) * time.Second
	}
	if app.cfg.RoomTTL <= 0 {
		app.cfg.RoomTTL = 900 * time.Second
	}
	if app.cfg.SubscribePoll <= 0 {
		app.cfg.SubscribePoll = 2 * time.Second
	}

	// Initialize store.
	st, diag, err := app.makeStore()
	if err != nil {
		logger.Fatalf("failed to create the store instance: %v", err)
	}
	app.store, app.diag = st, diag
	if !st.IsConfigured() {
		logger.Printf("no store backend configured; signaling endpoints will respond with 501")
	}

	app.relay = relay.New(relay.Config{
		TTL:       app.cfg.RoomTTL,
		KeyPrefix: app.cfg.KeyPrefix,
	}, st, logger)

	if err := ko.Unmarshal("proxy", &app.proxy); err != nil {
		logger.Fatalf("error unmarshalling 'proxy' config: %v", err)
	}
	app.proxy.setDefaults()

	if err := ko.Unmarshal("blob", &app.blob); err != nil {
		logger.Fatalf("error unmarshalling 'blob' config: %v", err)
	}
	app.blob.setDefaults()

	// Room creation rate limiter.
	rlPeriod := time.Minute
	if app.cfg.RateLimitPeriod != "" {
		x, err := tparse.AbsoluteDuration(time.Now(), app.cfg.RateLimitPeriod)
		if err != nil {
			logger.Fatalf("error parsing 'app.rate_limit_period' config: %v", err)
		}
		rlPeriod = x
	}
	if app.cfg.RateLimitRooms <= 0 {
		app.cfg.RateLimitRooms = 30
	}
	if app.cfg.RateLimitBurst <= 0 {
		app.cfg.RateLimitBurst = 10
	}
	app.limiter = newCreateLimiter(rlPeriod, app.cfg.RateLimitRooms, app.cfg.RateLimitBurst)

	// Register HTTP routes and start the server.
	srv := &http.Server{
		Addr:    app.cfg.Address,
		Handler: initRouter(app),
	}
	logger.Printf("starting server on http://%v", app.cfg.Address)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("couldn't serve: %v", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	var cFiles []string
	ko.Unmarshal("config", &cFiles)
	select {
	case <-fileWatcher(cFiles...):
	case sig := <-c:
		logger.Printf("shutting down: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("error during shutdown: %v", err)
	}
}

// initRouter registers all HTTP routes on a new chi router.
func initRouter(app *App) *chi.Mux {
	r := chi.NewRouter()

	// Answer CORS preflight before routing so every endpoint is covered.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Method == http.MethodOptions {
				handleOptions(w, req)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	// Signaling API.
	r.Post("/api/rtc/create", wrap(handleRTCCreate, app, hasStore))
	r.Post("/api/rtc/offer", wrap(handleRTCOffer, app, hasStore))
	r.Post("/api/rtc/answer", wrap(handleRTCAnswer, app, hasStore))
	r.Get("/api/rtc/offer", wrap(handleRTCGetOffer, app, hasStore))
	r.Get("/api/rtc/answer", wrap(handleRTCGetAnswer, app, hasStore))
	r.Get("/api/rtc/subscribe", wrap(handleRTCSubscribe, app, hasStore))
	r.Get("/api/rtc/qr", wrap(handleRTCQR, app, 0))

	// Save-file blob relay.
	r.Post("/api/saves/upload", wrap(handleSaveUpload, app, 0))
	r.Get("/api/saves/download/{token}/*", wrap(handleSaveDownload, app, 0))
	r.Get("/api/token/get", wrap(handleTokenGet, app, 0))

	// CDN pass-through proxies.
	client := &http.Client{
		Timeout:   app.proxy.Timeout,
		Transport: &http.Transport{DisableCompression: true},
	}
	sky := handleCDNProxy(app.proxy.SkyUpstream, false, client, app.logger)
	r.Get("/vcsky/*", sky)
	r.Head("/vcsky/*", sky)
	br := handleCDNProxy(app.proxy.BRUpstream, true, client, app.logger)
	r.Get("/vcbr/*", br)
	r.Head("/vcbr/*", br)

	return r
}

func fileWatcher(files ...string) chan struct{} {
	out := make(chan struct{})
	if len(files) > 0 {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			logger.Printf("failed to initialize configuration file watcher: %v", err)
			return out
		}
		for _, f := range files {
			if err := watcher.Add(f); err != nil {
				logger.Printf("failed to add configuration file %q watcher: %v", f, err)
			}
		}
		go func() {
			for {
				select {
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					logger.Printf("configuration file %q was modified", event.Name)
					out <- struct{}{}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					logger.Printf("watcher error: %v", err)
				}
			}
		}()
	}
	return out
}
