package store

import "time"

// Facade presents a single Store to callers while hiding which backend
// is active. The direct protocol backend is always preferred when both
// are configured. The choice is static per call; a failure on the
// preferred backend does not fail over to the other one.
type Facade struct {
	direct Store
	rest   Store
}

// NewFacade returns a facade over the given backends. Either may be nil.
func NewFacade(direct, rest Store) *Facade {
	return &Facade{direct: direct, rest: rest}
}

// IsConfigured reports whether at least one backend is available.
func (f *Facade) IsConfigured() bool {
	return f.direct != nil || f.rest != nil
}

func (f *Facade) backend() Store {
	if f.direct != nil {
		return f.direct
	}
	return f.rest
}

// Get value from a key.
func (f *Facade) Get(key string) (string, error) {
	s := f.backend()
	if s == nil {
		return "", ErrNotConfigured
	}
	return s.Get(key)
}

// Set a value with a TTL.
func (f *Facade) Set(key, value string, ttl time.Duration) error {
	s := f.backend()
	if s == nil {
		return ErrNotConfigured
	}
	return s.Set(key, value, ttl)
}
