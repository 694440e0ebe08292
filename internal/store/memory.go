package store

import (
	"context"
	"sync"

	"github.com/pma-pay/pma_pay/internal/wallet"
)

type memoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore constructs an in-memory secure store for tests and
// local development.
func NewMemoryStore() Store {
	return &memoryStore{blobs: make(map[string][]byte)}
}

func (s *memoryStore) Save(_ context.Context, w wallet.Wallet) error {
	blobs, err := encodeRecord(nil, w)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range blobKeys() {
		if blob, ok := blobs[key]; ok {
			s.blobs[key] = blob
		} else {
			delete(s.blobs, key)
		}
	}
	return nil
}

func (s *memoryStore) Load(_ context.Context) (*wallet.Wallet, error) {
	s.mu.RLock()
	blobs := make(map[string][]byte, len(s.blobs))
	for key, blob := range s.blobs {
		copied := make([]byte, len(blob))
		copy(copied, blob)
		blobs[key] = copied
	}
	s.mu.RUnlock()

	return decodeRecord(nil, blobs)
}

func (s *memoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range blobKeys() {
		delete(s.blobs, key)
	}
	return nil
}
