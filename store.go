package main

import (
	"os"

	"github.com/rtczone/sigrelay/store"
	"github.com/rtczone/sigrelay/store/mem"
	"github.com/rtczone/sigrelay/store/redis"
	"github.com/rtczone/sigrelay/store/upstash"
)

// makeStore builds the store facade according to the configuration and
// the conventional env variable families. It also returns a diagnostics
// map naming which backends had credentials, used in the 501 response.
func (a *App) makeStore() (*store.Facade, map[string]bool, error) {
	if a.cfg.Storage == "memory" {
		s, err := mem.New(mem.Config{})
		if err != nil {
			return nil, nil, err
		}
		return store.NewFacade(s, nil), map[string]bool{"memory": true}, nil
	}

	var (
		direct store.Store
		rest   store.Store
		diag   = map[string]bool{"redis": false, "upstash": false}
	)

	// Direct Redis protocol. The config file value wins over the env
	// families; the adapters themselves never look at the environment.
	var redisCfg redis.Config
	if err := ko.Unmarshal("store.redis", &redisCfg); err != nil {
		logger.Fatalf("error unmarshalling 'store.redis' config: %v", err)
	}
	if redisCfg.URL == "" {
		redisCfg.URL = envFirst("REDIS_URL", "KV_URL", "UPSTASH_REDIS_URL")
	}
	if envFirst("REDIS_TLS") == "1" || envFirst("REDIS_TLS") == "true" {
		redisCfg.TLS = true
	}
	if redisCfg.URL != "" && a.cfg.Storage != "upstash" {
		s, err := redis.New(redisCfg)
		if err != nil {
			if a.cfg.Storage == "redis" {
				return nil, nil, err
			}
			// auto mode: fall through to the REST backend.
			a.logger.Printf("redis backend unavailable, falling back: %v", err)
		} else {
			direct = s
			diag["redis"] = true
		}
	}

	// Upstash / Vercel KV REST protocol.
	var upCfg upstash.Config
	if err := ko.Unmarshal("store.upstash", &upCfg); err != nil {
		logger.Fatalf("error unmarshalling 'store.upstash' config: %v", err)
	}
	if upCfg.URL == "" {
		upCfg.URL = envFirst("UPSTASH_REDIS_REST_URL", "KV_REST_API_URL")
	}
	if upCfg.Token == "" {
		// The read-only token is a last-resort fallback that still
		// serves GET endpoints.
		upCfg.Token = envFirst("UPSTASH_REDIS_REST_TOKEN", "KV_REST_API_TOKEN", "KV_REST_API_READ_ONLY_TOKEN")
	}
	if upCfg.URL != "" && upCfg.Token != "" && a.cfg.Storage != "redis" {
		s, err := upstash.New(upCfg)
		if err != nil {
			return nil, nil, err
		}
		rest = s
		diag["upstash"] = true
	}

	return store.NewFacade(direct, rest), diag, nil
}

// envFirst returns the first non-empty value among the given env
// variable names.
func envFirst(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}
