package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ComputeCID returns the CIDv1 (raw codec, sha2-256) of payload. It matches
// what an IPFS node assigns to a single-block upload with raw leaves.
func ComputeCID(payload []byte) (string, error) {
	mh, err := multihash.Sum(payload, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("publish: hash payload: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// DirStore keeps payloads as <dir>/<cid>.json. Writing the same payload
// twice leaves a single file.
type DirStore struct {
	dir string
}

// NewDirStore creates dir if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("publish: create store dir: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// Put writes payload atomically (temp file + rename) under its CID.
func (s *DirStore) Put(ctx context.Context, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := ComputeCID(payload)
	if err != nil {
		return "", &permanentError{err}
	}
	final := filepath.Join(s.dir, id+".json")
	if _, err := os.Stat(final); err == nil {
		return id, nil
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("publish: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("publish: write payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("publish: close payload: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("publish: rename payload: %w", err)
	}
	return id, nil
}

// Get reads a payload back by CID.
func (s *DirStore) Get(id string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, id+".json"))
}

// MemStore is an in-memory content-addressed store.
type MemStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string][]byte)}
}

// Put stores payload under its CID.
func (s *MemStore) Put(ctx context.Context, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := ComputeCID(payload)
	if err != nil {
		return "", &permanentError{err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		s.blobs[id] = append([]byte(nil), payload...)
	}
	return id, nil
}

// Get returns the stored payload and whether it exists.
func (s *MemStore) Get(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[id]
	return b, ok
}

// Len returns the number of distinct payloads.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
