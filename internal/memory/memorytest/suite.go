// Package memorytest holds the behaviour every memory.Store must share, run
// against each implementation's tests.
package memorytest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/relay/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) memory.Store

// Run exercises a store implementation.
func Run(t *testing.T, newStore Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore(t)) })
	t.Run("HistoryLimit", func(t *testing.T) { testHistoryLimit(t, newStore(t)) })
	t.Run("MonotonicTimestamps", func(t *testing.T) { testMonotonic(t, newStore(t)) })
	t.Run("SessionsAreIndependent", func(t *testing.T) { testIsolation(t, newStore(t)) })
	t.Run("Statistics", func(t *testing.T) { testStatistics(t, newStore(t)) })
	t.Run("PurgeIsIdempotent", func(t *testing.T) { testPurge(t, newStore(t)) })
	t.Run("RecentSessions", func(t *testing.T) { testRecentSessions(t, newStore(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, newStore(t)) })
}

func testRoundTrip(t *testing.T, s memory.Store) {
	ctx := context.Background()
	before := time.Now().Truncate(time.Microsecond)

	_, err := s.Append(ctx, "s1", memory.RoleUser, "hello", "")
	require.NoError(t, err)

	recs, err := s.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	last := recs[len(recs)-1]
	assert.Equal(t, "s1", last.SessionID)
	assert.Equal(t, memory.RoleUser, last.Role)
	assert.Equal(t, "hello", last.Content)
	assert.Empty(t, last.AgentName)
	assert.False(t, last.Timestamp.Before(before), "timestamp %s precedes %s", last.Timestamp, before)
}

func testHistoryLimit(t *testing.T, s memory.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, "s1", memory.RoleUser, fmt.Sprintf("m%d", i), "")
		require.NoError(t, err)
	}

	recs, err := s.History(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "m3", recs[0].Content)
	assert.Equal(t, "m4", recs[1].Content)

	all, err := s.History(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func testMonotonic(t *testing.T, s memory.Store) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := s.Append(ctx, "s1", memory.RoleAssistant, "x", "A")
		require.NoError(t, err)
	}
	recs, err := s.History(ctx, "s1", 0)
	require.NoError(t, err)
	for i := 1; i < len(recs); i++ {
		assert.True(t, recs[i].Timestamp.After(recs[i-1].Timestamp), "record %d not after %d", i, i-1)
	}
}

func testIsolation(t *testing.T, s memory.Store) {
	ctx := context.Background()
	_, err := s.Append(ctx, "a", memory.RoleUser, "for a", "")
	require.NoError(t, err)
	_, err = s.Append(ctx, "b", memory.RoleAssistant, "for b", "SearchAssistant")
	require.NoError(t, err)

	recs, err := s.History(ctx, "b", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "for b", recs[0].Content)
	assert.Equal(t, "SearchAssistant", recs[0].AgentName)

	none, err := s.History(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testStatistics(t *testing.T, s memory.Store) {
	ctx := context.Background()
	empty, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, memory.Statistics{}, empty)

	for _, sess := range []string{"a", "a", "b"} {
		_, err := s.Append(ctx, sess, memory.RoleUser, "hi", "")
		require.NoError(t, err)
	}
	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalMessages)
	assert.Equal(t, int64(2), stats.TotalSessions)
	assert.Equal(t, 0, stats.OldestMessageAgeDays)
}

func testPurge(t *testing.T, s memory.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, "s1", memory.RoleUser, "old", "")
		require.NoError(t, err)
	}

	kept, err := s.Purge(ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, kept)

	time.Sleep(10 * time.Millisecond)
	n, err := s.Purge(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.Purge(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	recs, err := s.History(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testRecentSessions(t *testing.T, s memory.Store) {
	ctx := context.Background()
	_, err := s.Append(ctx, "first", memory.RoleUser, "1", "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = s.Append(ctx, "second", memory.RoleUser, "2", "")
	require.NoError(t, err)
	_, err = s.Append(ctx, "second", memory.RoleAssistant, "3", "WeatherAssistant")
	require.NoError(t, err)

	sessions, err := s.RecentSessions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "second", sessions[0].SessionID)
	assert.Equal(t, int64(2), sessions[0].MessageCount)
	assert.Equal(t, "first", sessions[1].SessionID)
	assert.Equal(t, int64(1), sessions[1].MessageCount)
}

func testConcurrentAppends(t *testing.T, s memory.Store) {
	ctx := context.Background()
	const sessions, perSession = 4, 10

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < perSession; j++ {
				_, err := s.Append(ctx, id, memory.RoleUser, fmt.Sprintf("%d", j), "")
				assert.NoError(t, err)
			}
		}(fmt.Sprintf("s%d", i))
	}
	wg.Wait()

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(sessions*perSession), stats.TotalMessages)

	recs, err := s.History(ctx, "s0", 0)
	require.NoError(t, err)
	require.Len(t, recs, perSession)
	for j, r := range recs {
		assert.Equal(t, fmt.Sprintf("%d", j), r.Content)
	}
}
