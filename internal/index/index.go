// Package index answers whether the derivatives of a (recording, parameter
// set) pair already exist. The pipeline consults it before any expensive
// computation and records every completed artifact set in it.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"github.com/episcalp/episcalp/internal/models"
)

// Key identifies one artifact set.
type Key struct {
	Recording      models.Recording
	SourceBasename string
	Reference      string
	Params         models.ModelParams
	// Dir is the deterministic derivative directory of the set.
	Dir string
}

// ID returns a SHA-256 over the length-prefixed identity fields. Dir is not
// part of the identity: it is derived from the same fields.
func (k Key) ID() string {
	h := sha256.New()
	for _, field := range []string{
		k.SourceBasename,
		k.Recording.Subject,
		k.Recording.Session,
		k.Recording.Task,
		k.Recording.Run,
		k.Reference,
		k.Params.Key(),
	} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		h.Write(n[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is a recorded artifact set.
type Entry struct {
	Key       Key
	RunID     string
	Artifacts []string
	CreatedAt time.Time
}

// Registry is the existence query behind the idempotent skip.
type Registry interface {
	Exists(ctx context.Context, key Key) (bool, error)
	Record(ctx context.Context, entry Entry) error
}

// Memory is an in-process Registry.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Exists implements Registry.
func (m *Memory) Exists(_ context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key.ID()]
	return ok, nil
}

// Record implements Registry.
func (m *Memory) Record(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.entries[entry.Key.ID()] = entry
	return nil
}

// Len returns the number of recorded sets.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
