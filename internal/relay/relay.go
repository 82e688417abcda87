// Package relay implements the ephemeral offer/answer mailbox two
// WebRTC peers use to exchange session descriptions. The relay keeps no
// room state of its own; the TTL-bound store owns every slot, and
// expiry is the only way a room ends.
package relay

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"log"
	"time"

	"github.com/rtczone/sigrelay/store"
)

// Room slot names under the key prefix.
const (
	slotHostKey = "hostKey"
	slotJoinKey = "joinKey"
	slotOffer   = "offer"
	slotAnswer  = "answer"
)

// Lengths of generated identifiers. 24 alphanumeric characters carry a
// little over 140 bits of entropy, enough that collisions and guesses
// are never checked for.
const (
	roomIDLen = 12
	capKeyLen = 24
)

// ErrUnauthorized is returned on any capability mismatch. A room whose
// keys have expired, or that never existed, is deliberately
// indistinguishable from a wrong key.
var ErrUnauthorized = errors.New("invalid capability key")

// Config represents the relay configuration.
type Config struct {
	TTL       time.Duration `koanf:"room_ttl"`
	KeyPrefix string        `koanf:"key_prefix"`
}

// Relay is the signaling protocol core.
type Relay struct {
	cfg    Config
	store  store.Store
	logger *log.Logger
}

// Room is the result of Create. HostKey authorizes publishing the
// offer, JoinKey the answer; reads need neither.
type Room struct {
	ID      string
	HostKey string
	JoinKey string
	TTL     time.Duration
}

// New returns a new Relay on top of the given store.
func New(cfg Config, s store.Store, l *log.Logger) *Relay {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rtc"
	}
	return &Relay{cfg: cfg, store: s, logger: l}
}

// TTL returns the configured room TTL.
func (r *Relay) TTL() time.Duration {
	return r.cfg.TTL
}

// Create mints a room ID and its two capability keys and stores the
// keys with the configured TTL. Store write failures are logged, not
// raised: writes are accepted, not durably committed, and callers
// confirm visibility by polling reads.
func (r *Relay) Create() (Room, error) {
	id, err := GenerateGUID(roomIDLen)
	if err != nil {
		return Room{}, err
	}
	hostKey, err := GenerateGUID(capKeyLen)
	if err != nil {
		return Room{}, err
	}
	joinKey, err := GenerateGUID(capKeyLen)
	if err != nil {
		return Room{}, err
	}

	r.set(r.key(id, slotHostKey), hostKey)
	r.set(r.key(id, slotJoinKey), joinKey)
	return Room{ID: id, HostKey: hostKey, JoinKey: joinKey, TTL: r.cfg.TTL}, nil
}

// PublishOffer stores the host's offer after checking the host
// capability. The offer slot gets a fresh TTL of its own.
func (r *Relay) PublishOffer(roomID, hostKey, offer string) error {
	if err := r.authorize(roomID, slotHostKey, hostKey); err != nil {
		return err
	}
	r.set(r.key(roomID, slotOffer), offer)
	return nil
}

// PublishAnswer stores the joiner's answer after checking the join
// capability.
func (r *Relay) PublishAnswer(roomID, joinKey, answer string) error {
	if err := r.authorize(roomID, slotJoinKey, joinKey); err != nil {
		return err
	}
	r.set(r.key(roomID, slotAnswer), answer)
	return nil
}

// ReadOffer returns the published offer, or false while it is absent.
// Reads are unauthenticated; callers poll until present or give up.
func (r *Relay) ReadOffer(roomID string) (string, bool) {
	return r.read(roomID, slotOffer)
}

// ReadAnswer returns the published answer, or false while it is absent.
func (r *Relay) ReadAnswer(roomID string) (string, bool) {
	return r.read(roomID, slotAnswer)
}

func (r *Relay) key(roomID, slot string) string {
	return r.cfg.KeyPrefix + ":" + roomID + ":" + slot
}

// authorize compares the supplied capability key against the stored
// one. Absence, expiry and backend failure all collapse into
// ErrUnauthorized so that responses never leak whether a room exists.
func (r *Relay) authorize(roomID, slot, supplied string) error {
	stored, err := r.store.Get(r.key(roomID, slot))
	if err != nil {
		if err != store.ErrNotFound {
			r.logger.Printf("error reading %q from the store: %v", r.key(roomID, slot), err)
		}
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// read fetches a slot, degrading backend failures to absence to keep
// the relay available under partial store failure.
func (r *Relay) read(roomID, slot string) (string, bool) {
	v, err := r.store.Get(r.key(roomID, slot))
	if err != nil {
		if err != store.ErrNotFound {
			r.logger.Printf("error reading %q from the store: %v", r.key(roomID, slot), err)
		}
		return "", false
	}
	return v, true
}

// set writes a slot with the configured TTL, absorbing failures into a
// log line per the best-effort write contract.
func (r *Relay) set(key, value string) {
	if err := r.store.Set(key, value, r.cfg.TTL); err != nil {
		r.logger.Printf("error writing %q to the store: %v", key, err)
	}
}

// GenerateGUID generates a cryptographically random, alphanumeric string of length n.
func GenerateGUID(n int) (string, error) {
	const dictionary = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	var bytes = make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	for k, v := range bytes {
		bytes[k] = dictionary[v%byte(len(dictionary))]
	}
	return string(bytes), nil
}
