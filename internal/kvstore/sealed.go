package kvstore

import (
	"fmt"

	"github.com/PolarWolf314/whanau/internal/sealing"
)

// Sealed seals values before they reach the inner store. Keys stay in the clear.
type Sealed struct {
	inner  Store
	sealer *sealing.Sealer
}

func NewSealed(inner Store, sealer *sealing.Sealer) *Sealed {
	return &Sealed{inner: inner, sealer: sealer}
}

func (s *Sealed) Get(key string) (string, bool, error) {
	v, ok, err := s.inner.Get(key)
	if err != nil || !ok {
		return "", ok, err
	}
	plain, err := s.sealer.Open(v)
	if err != nil {
		return "", false, fmt.Errorf("opening sealed value %q: %w", key, err)
	}
	return string(plain), true, nil
}

func (s *Sealed) Set(key, value string) error {
	sealed, err := s.sealer.Seal([]byte(value))
	if err != nil {
		return fmt.Errorf("sealing value %q: %w", key, err)
	}
	return s.inner.Set(key, sealed)
}

func (s *Sealed) Delete(key string) error {
	return s.inner.Delete(key)
}

func (s *Sealed) Keys(prefix string) ([]string, error) {
	return s.inner.Keys(prefix)
}
