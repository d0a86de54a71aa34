package storage

import (
	"slices"
	"sync"

	"github.com/maruel/jsondb/internal/jsondb"
)

// MemoryBackend keeps the serialized document in memory.
type MemoryBackend struct {
	mu      sync.Mutex
	data    []byte
	saveErr error
}

// NewMemoryBackend returns a backend holding data. A nil data means no
// document is stored yet.
func NewMemoryBackend(data []byte) *MemoryBackend {
	return &MemoryBackend{data: slices.Clone(data)}
}

// Bytes returns a copy of the stored document.
func (m *MemoryBackend) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.data)
}

// FailSaves makes every following save return err. A nil err restores
// normal behavior.
func (m *MemoryBackend) FailSaves(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

// Exists implements jsondb.Backend.
func (m *MemoryBackend) Exists() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data != nil, nil
}

// CreateEmpty implements jsondb.Backend.
func (m *MemoryBackend) CreateEmpty() error {
	return m.Save(jsondb.EmptyDocument())
}

// Load implements jsondb.Backend.
func (m *MemoryBackend) Load() (*jsondb.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return jsondb.DecodeDocument(m.data)
}

// Save implements jsondb.Backend.
func (m *MemoryBackend) Save(doc *jsondb.Document) error {
	data, err := jsondb.EncodeDocument(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data = data
	return nil
}
