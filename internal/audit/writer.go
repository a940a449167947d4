package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

const (
	// GenesisHash is the hash_prev of the first event in a chain.
	GenesisHash = "sha256:genesis"

	// HashPrefix is prepended to all hash values.
	HashPrefix = "sha256:"
)

// Writer persists audit events.
//
// Implementations validate the event, link it to the previous one through
// HashPrev/Hash, make it durable, and return an error when any step fails.
// Callers treat that error as failure of the audited operation.
type Writer interface {
	Write(event *Event) error
	Close() error
	// LastHash returns the hash of the last written event, or GenesisHash.
	LastHash() string
}

// NopWriter discards all events.
type NopWriter struct{}

var _ Writer = NopWriter{}

func (NopWriter) Write(*Event) error { return nil }
func (NopWriter) Close() error       { return nil }
func (NopWriter) LastHash() string   { return GenesisHash }

// MultiWriter writes to several writers and fails on the first failure.
type MultiWriter struct {
	writers []Writer
}

var _ Writer = (*MultiWriter)(nil)

func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) Write(event *Event) error {
	for _, w := range m.writers {
		if err := w.Write(event); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiWriter) Close() error {
	var lastErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *MultiWriter) LastHash() string {
	if len(m.writers) > 0 {
		return m.writers[0].LastHash()
	}
	return GenesisHash
}

// MemoryWriter keeps a hash-chained event list in memory. The serve
// command exposes it for inspection and tests read it back.
type MemoryWriter struct {
	mu       sync.Mutex
	events   []Event
	lastHash string
}

var _ Writer = (*MemoryWriter)(nil)

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{lastHash: GenesisHash}
}

func (m *MemoryWriter) Write(event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := link(event, m.lastHash); err != nil {
		return err
	}
	m.events = append(m.events, *event)
	m.lastHash = event.Hash
	return nil
}

func (m *MemoryWriter) Close() error { return nil }

func (m *MemoryWriter) LastHash() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHash
}

// Events returns a copy of the recorded events, oldest first.
func (m *MemoryWriter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// link validates event and sets HashPrev and Hash.
func link(event *Event, prev string) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	event.HashPrev = prev
	canonical, err := event.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	event.Hash = calculateHash(canonical, prev)
	return nil
}

// calculateHash computes SHA256(data || prevHash).
func calculateHash(data []byte, prevHash string) string {
	h := sha256.New()
	_, _ = h.Write(data)
	_, _ = h.Write([]byte(prevHash))
	return HashPrefix + hex.EncodeToString(h.Sum(nil))
}
