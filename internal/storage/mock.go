package storage

import (
	"sync"

	"github.com/developingchet/http-sink/internal/sink"
)

var _ Spool = (*MemSpool)(nil)

// memEntry is one spool slot; corrupt slots count towards Len but never
// decode into a record.
type memEntry struct {
	rec     sink.Record
	corrupt bool
}

// MemSpool is an in-memory implementation of Spool for use in unit tests.
// It is exported so that flusher tests can import it without creating a
// file on disk.
type MemSpool struct {
	mu      sync.Mutex
	entries []memEntry

	// AppendErr, when set, is returned by Append.
	AppendErr error
}

// NewMemSpool creates an empty in-memory spool.
func NewMemSpool() *MemSpool { return &MemSpool{} }

func (m *MemSpool) Append(records []sink.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	for _, r := range records {
		m.entries = append(m.entries, memEntry{rec: r})
	}
	return nil
}

// AppendCorrupt enqueues n undecodable entries.
func (m *MemSpool) AppendCorrupt(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.entries = append(m.entries, memEntry{corrupt: true})
	}
}

func (m *MemSpool) Drain(max int) ([]sink.Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if max > len(m.entries) {
		max = len(m.entries)
	}
	if max < 0 {
		max = 0
	}
	out := []sink.Record{}
	for _, e := range m.entries[:max] {
		if !e.corrupt {
			out = append(out, e.rec)
		}
	}
	m.entries = append([]memEntry(nil), m.entries[max:]...)
	return out, max, nil
}

func (m *MemSpool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Records returns a copy of the decodable spooled records without removing
// them.
func (m *MemSpool) Records() []sink.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sink.Record
	for _, e := range m.entries {
		if !e.corrupt {
			out = append(out, e.rec)
		}
	}
	return out
}

// DBPath returns "" for the in-memory spool.
func (m *MemSpool) DBPath() string { return "" }

// Close is a no-op for the in-memory spool.
func (m *MemSpool) Close() error { return nil }
