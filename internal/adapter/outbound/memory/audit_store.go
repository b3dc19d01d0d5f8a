package memory

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore implements audit.Store by keeping a bounded buffer of recent
// records and, optionally, writing each record as a JSON line to a writer.
type AuditStore struct {
	mu      sync.Mutex
	encoder *json.Encoder
	// recent holds the newest records, oldest first.
	recent []audit.Record
	cap    int
}

// NewAuditStore creates an audit store. w may be nil to keep records in memory
// only. capacity <= 0 selects the default of 1000.
func NewAuditStore(w io.Writer, capacity int) *AuditStore {
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	s := &AuditStore{
		recent: make([]audit.Record, 0, capacity),
		cap:    capacity,
	}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Append writes records and adds them to the recent buffer.
func (s *AuditStore) Append(_ context.Context, records ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if s.encoder != nil {
			if err := s.encoder.Encode(r); err != nil {
				return err
			}
		}
		if len(s.recent) >= s.cap {
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = r.Clone()
		} else {
			s.recent = append(s.recent, r.Clone())
		}
	}
	return nil
}

// Flush is a no-op; records are written synchronously.
func (s *AuditStore) Flush(context.Context) error {
	return nil
}

// Close is a no-op; the writer belongs to the caller.
func (s *AuditStore) Close() error {
	return nil
}

// Recent returns buffered records matching f, newest first.
func (s *AuditStore) Recent(f audit.Filter) []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := f.EffectiveLimit()
	out := make([]audit.Record, 0, min(limit, len(s.recent)))
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if f.Matches(s.recent[i]) {
			out = append(out, s.recent[i].Clone())
		}
	}
	return out
}

var (
	_ audit.Store        = (*AuditStore)(nil)
	_ audit.RecentReader = (*AuditStore)(nil)
)
