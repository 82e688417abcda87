package main

import (
	"io/ioutil"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Config represents the app configuration.
type Config struct {
	Address string `koanf:"address"`
	RootURL string `koanf:"root_url"`
	Name    string `koanf:"name"`

	RoomTTL       time.Duration `koanf:"room_ttl"`
	KeyPrefix     string        `koanf:"key_prefix"`
	SubscribePoll time.Duration `koanf:"subscribe_poll"`

	RateLimitPeriod string `koanf:"rate_limit_period"`
	RateLimitRooms  int    `koanf:"rate_limit_rooms"`
	RateLimitBurst  int    `koanf:"rate_limit_burst"`

	// auto | redis | upstash | memory
	Storage string `koanf:"storage"`
}

// sampleConfig is the default configuration loaded when no config file
// is given, and the body of --new-config.
const sampleConfig = `# Sigrelay configuration.

[app]
address = ":9000"
root_url = "http://localhost:9000"
name = "sigrelay"

# TTL applied to every room slot on write. The env variable
# RTC_ROOM_TTL_SECONDS overrides it when set.
room_ttl = "900s"
key_prefix = "rtc"

# Server-side poll interval for /api/rtc/subscribe.
subscribe_poll = "2s"

# Room creation rate limit, per remote host.
rate_limit_period = "1m"
rate_limit_rooms = 30
rate_limit_burst = 10

# auto picks redis when its credentials are present, else the REST
# backend. The conventional env variable families (REDIS_URL / KV_URL /
# UPSTASH_REDIS_URL, UPSTASH_REDIS_REST_* / KV_REST_API_*) are honored
# when the values below are empty.
storage = "auto"

[store.redis]
url = ""
password = ""
db = 0
tls = false
active_conns = 50
idle_conns = 10
timeout = "3s"

[store.upstash]
url = ""
token = ""
timeout = "10s"

[proxy]
sky_upstream = "https://cdn.dos.zone/vcsky/"
br_upstream = "https://br.cdn.dos.zone/vcsky/"
timeout = "60s"

[blob]
api_url = "https://blob.vercel-storage.com"
prefix = "revc-saves"
timeout = "30s"
max_upload_size = 33554432
`

// newConfigFile writes the sample config to the current directory.
func newConfigFile() error {
	if _, err := os.Stat("config.toml"); !os.IsNotExist(err) {
		return errors.New("config.toml exists. Remove it to generate a new one")
	}
	return ioutil.WriteFile("config.toml", []byte(sampleConfig), 0644)
}
