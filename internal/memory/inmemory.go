package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("memory store closed")

// InMemory is a process-local Store. It is used when no database is
// configured and in tests; records do not survive a restart.
type InMemory struct {
	mu       sync.RWMutex
	nextID   int64
	sessions map[string][]SessionRecord
	closed   bool
	now      func() time.Time
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{sessions: make(map[string][]SessionRecord), now: time.Now}
}

func (m *InMemory) Append(_ context.Context, sessionID, role, content, agentName string) (SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return SessionRecord{}, ErrClosed
	}

	ts := m.now()
	recs := m.sessions[sessionID]
	if n := len(recs); n > 0 && !ts.After(recs[n-1].Timestamp) {
		ts = recs[n-1].Timestamp.Add(time.Microsecond)
	}
	m.nextID++
	rec := SessionRecord{
		ID:        m.nextID,
		SessionID: sessionID,
		Timestamp: ts,
		Role:      role,
		Content:   content,
		AgentName: agentName,
	}
	m.sessions[sessionID] = append(recs, rec)
	return rec, nil
}

func (m *InMemory) History(_ context.Context, sessionID string, limit int) ([]SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	recs := m.sessions[sessionID]
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]SessionRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (m *InMemory) Statistics(_ context.Context) (Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Statistics{}, ErrClosed
	}

	var (
		stats  Statistics
		oldest time.Time
	)
	for _, recs := range m.sessions {
		if len(recs) == 0 {
			continue
		}
		stats.TotalSessions++
		stats.TotalMessages += int64(len(recs))
		if first := recs[0].Timestamp; oldest.IsZero() || first.Before(oldest) {
			oldest = first
		}
	}
	stats.OldestMessageAgeDays = ageDays(oldest, m.now())
	return stats, nil
}

func (m *InMemory) Purge(_ context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, errors.New("olderThanDays must not be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	cutoff := m.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	var deleted int64
	for id, recs := range m.sessions {
		// Records are chronological, so the survivors are a suffix.
		i := sort.Search(len(recs), func(i int) bool { return !recs[i].Timestamp.Before(cutoff) })
		deleted += int64(i)
		if i == len(recs) {
			delete(m.sessions, id)
			continue
		}
		m.sessions[id] = append([]SessionRecord(nil), recs[i:]...)
	}
	return deleted, nil
}

func (m *InMemory) RecentSessions(_ context.Context, days int) ([]SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	cutoff := m.now().Add(-time.Duration(days) * 24 * time.Hour)
	var out []SessionSummary
	for id, recs := range m.sessions {
		i := sort.Search(len(recs), func(i int) bool { return !recs[i].Timestamp.Before(cutoff) })
		if i == len(recs) {
			continue
		}
		out = append(out, SessionSummary{
			SessionID:    id,
			FirstMessage: recs[i].Timestamp,
			MessageCount: int64(len(recs) - i),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstMessage.After(out[j].FirstMessage) })
	return out, nil
}

func (m *InMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
