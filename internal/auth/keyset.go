package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"sort"
	"sync"
)

// ErrInvalidKey is returned when a key matches no configured hash.
var ErrInvalidKey = errors.New("invalid API key")

// KeySet holds named bcrypt key hashes. Keys that verified once are
// remembered by digest so later requests skip bcrypt.
type KeySet struct {
	names  []string
	hashes map[string]string

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

// NewKeySet builds a KeySet from a name to bcrypt hash map.
func NewKeySet(hashes map[string]string) *KeySet {
	ks := &KeySet{
		hashes:   make(map[string]string, len(hashes)),
		verified: make(map[[sha256.Size]byte]string),
	}
	for name, hash := range hashes {
		if hash == "" {
			continue
		}
		ks.names = append(ks.names, name)
		ks.hashes[name] = hash
	}
	sort.Strings(ks.names)
	return ks
}

// Len returns the number of configured keys.
func (ks *KeySet) Len() int {
	return len(ks.names)
}

// Lookup returns the name of the configured key matching apiKey.
func (ks *KeySet) Lookup(ctx context.Context, apiKey string) (string, error) {
	digest := sha256.Sum256([]byte(apiKey))

	ks.mu.RLock()
	name, ok := ks.verified[digest]
	ks.mu.RUnlock()
	if ok {
		return name, nil
	}

	for _, name := range ks.names {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if VerifyKey(ks.hashes[name], apiKey) == nil {
			ks.mu.Lock()
			ks.verified[digest] = name
			ks.mu.Unlock()
			return name, nil
		}
	}
	return "", ErrInvalidKey
}
