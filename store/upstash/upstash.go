// Package upstash implements the Store interface over the Upstash
// Redis REST protocol, which Vercel KV exposes as well. Every operation
// is an outbound HTTP call authorized by a bearer token.
package upstash

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rtczone/sigrelay/store"
)

// Config represents the Upstash REST store config structure.
type Config struct {
	URL     string        `koanf:"url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`
}

// Upstash represents the REST implementation of the Store interface.
type Upstash struct {
	cfg    *Config
	client *http.Client
}

// result is the envelope every Upstash REST response carries. The
// result field is a string for GET/SET and a number for EXPIRE, so it
// stays raw until the caller knows what to expect.
type result struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// New returns a new Upstash REST store.
func New(cfg Config) (*Upstash, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, errors.New("upstash REST URL and token are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Upstash{
		cfg:    &cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (u *Upstash) do(method, path string) (*result, error) {
	req, err := http.NewRequest(method, u.cfg.URL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+u.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "error calling the REST store")
	}
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "error reading the REST store response")
	}

	var res result
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, errors.Wrap(err, "malformed REST store response")
	}
	if res.Error != "" {
		return nil, fmt.Errorf("REST store error: %s", res.Error)
	}
	return &res, nil
}

// Get value from a key.
func (u *Upstash) Get(key string) (string, error) {
	res, err := u.do(http.MethodGet, "/get/"+url.PathEscape(key))
	if err != nil {
		return "", err
	}
	if len(res.Result) == 0 || string(res.Result) == "null" {
		return "", store.ErrNotFound
	}
	var raw string
	if err := json.Unmarshal(res.Result, &raw); err != nil {
		raw = string(res.Result)
	}
	return decodeValue(raw), nil
}

// Set a value with a TTL. The REST protocol has no atomic
// set-with-expiry, so the TTL is armed by a second call. A crash in
// between can leave a value without its TTL, which the best-effort
// contract tolerates.
func (u *Upstash) Set(key, value string, ttl time.Duration) error {
	// The value travels in a URL path segment, so it is stored as
	// unpadded base64url.
	enc := base64.RawURLEncoding.EncodeToString([]byte(value))
	if _, err := u.do(http.MethodPost, "/set/"+url.PathEscape(key)+"/"+enc); err != nil {
		return err
	}
	secs := int(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	_, err := u.do(http.MethodPost, fmt.Sprintf("/expire/%s/%d", url.PathEscape(key), secs))
	return err
}

// decodeValue reverses the base64url encoding applied on write. Values
// written before the encoding was introduced are returned as is rather
// than erroring out.
func decodeValue(raw string) string {
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || !utf8.Valid(b) {
		return raw
	}
	return string(b)
}
