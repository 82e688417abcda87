package redis

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
	"github.com/rtczone/sigrelay/store"
)

// Config represents the Redis store config structure.
type Config struct {
	// URL is either a host:port address or a redis:// / rediss:// URL.
	URL         string        `koanf:"url"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	TLS         bool          `koanf:"tls"`
	ActiveConns int           `koanf:"active_conns"`
	IdleConns   int           `koanf:"idle_conns"`
	Timeout     time.Duration `koanf:"timeout"`
}

// Redis represents the Redis implementation of the Store interface.
type Redis struct {
	cfg  *Config
	pool *redis.Pool
}

// New returns a new Redis store.
func New(cfg Config) (*Redis, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis URL is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}

	pool := &redis.Pool{
		Wait:      true,
		MaxActive: cfg.ActiveConns,
		MaxIdle:   cfg.IdleConns,
		Dial: func() (redis.Conn, error) {
			return dial(&cfg)
		},
	}

	// Test connection.
	c := pool.Get()
	defer c.Close()

	if err := c.Err(); err != nil {
		return nil, errors.Wrap(err, "error connecting to redis")
	}
	return &Redis{cfg: &cfg, pool: pool}, nil
}

// dial opens a single connection, handling both plain addresses and
// redis:// / rediss:// URLs. The rediss scheme turns on TLS, as does
// the explicit config flag.
func dial(cfg *Config) (redis.Conn, error) {
	var (
		addr   = cfg.URL
		useTLS = cfg.TLS
		opts   = []redis.DialOption{
			redis.DialConnectTimeout(cfg.Timeout),
			redis.DialReadTimeout(cfg.Timeout),
			redis.DialWriteTimeout(cfg.Timeout),
			redis.DialDatabase(cfg.DB),
		}
	)
	if cfg.Password != "" {
		opts = append(opts, redis.DialPassword(cfg.Password))
	}

	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil {
			return nil, errors.Wrap(err, "invalid redis URL")
		}
		if u.Scheme == "rediss" {
			useTLS = true
		}
		if pw, ok := u.User.Password(); ok {
			opts = append(opts, redis.DialPassword(pw))
		}
		if db := strings.TrimPrefix(u.Path, "/"); db != "" {
			if n, err := strconv.Atoi(db); err == nil {
				opts = append(opts, redis.DialDatabase(n))
			}
		}
		addr = u.Host
		if u.Port() == "" {
			addr += ":6379"
		}
	}

	if useTLS {
		opts = append(opts, redis.DialUseTLS(true))
	}
	return redis.Dial("tcp", addr, opts...)
}

// Get value from a key.
func (r *Redis) Get(key string) (string, error) {
	c := r.pool.Get()
	defer c.Close()

	v, err := redis.String(c.Do("GET", key))
	if err == redis.ErrNil {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "error fetching %q from redis", key)
	}
	return v, nil
}

// Set a value with a TTL. SETEX arms the expiry atomically with the
// write, unlike the REST protocol's separate expire call.
func (r *Redis) Set(key, value string, ttl time.Duration) error {
	c := r.pool.Get()
	defer c.Close()

	secs := int(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	_, err := c.Do("SETEX", key, secs, value)
	return errors.Wrapf(err, "error writing %q to redis", key)
}
