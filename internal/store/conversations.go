package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/relay/internal/memory"
	"go.uber.org/zap"
)

var _ memory.Store = (*Store)(nil)

// Append stores one message. Appends to the same session are serialized by
// an advisory lock so each new timestamp is strictly after the previous one.
func (s *Store) Append(ctx context.Context, sessionID, role, content, agentName string) (memory.SessionRecord, error) {
	rec := memory.SessionRecord{SessionID: sessionID, Role: role, Content: content, AgentName: agentName}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return rec, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sessionID); err != nil {
		return rec, fmt.Errorf("lock session: %w", err)
	}

	now := time.Now().Truncate(time.Microsecond)
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations (session_id, timestamp, role, content, agent_name)
		SELECT $1::text, GREATEST($2::timestamptz, MAX(timestamp) + interval '1 microsecond'), $3::text, $4::text, NULLIF($5::text, '')
		FROM conversations
		WHERE session_id = $1
		RETURNING id, timestamp`,
		sessionID, now, role, content, agentName,
	).Scan(&rec.ID, &rec.Timestamp)
	if err != nil {
		return rec, fmt.Errorf("append message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return rec, fmt.Errorf("commit append: %w", err)
	}
	return rec, nil
}

// History returns the latest limit messages of a session, oldest first.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]memory.SessionRecord, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, timestamp, role, content, COALESCE(agent_name, '')
		FROM conversations
		WHERE session_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2`, sessionID, lim)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SessionRecord, error) {
		var r memory.SessionRecord
		err := row.Scan(&r.ID, &r.SessionID, &r.Timestamp, &r.Role, &r.Content, &r.AgentName)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}

	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// Statistics counts messages and sessions.
func (s *Store) Statistics(ctx context.Context) (memory.Statistics, error) {
	var (
		stats  memory.Statistics
		oldest *time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT session_id), MIN(timestamp)
		FROM conversations`,
	).Scan(&stats.TotalMessages, &stats.TotalSessions, &oldest)
	if err != nil {
		return memory.Statistics{}, fmt.Errorf("get statistics: %w", err)
	}
	if oldest != nil {
		stats.OldestMessageAgeDays = int(time.Since(*oldest) / (24 * time.Hour))
	}
	return stats, nil
}

// Purge deletes messages older than olderThanDays.
func (s *Store) Purge(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, errors.New("olderThanDays must not be negative")
	}
	cutoff := time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)

	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge conversations: %w", err)
	}
	s.logger.Debug("conversations purged",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

// RecentSessions lists sessions active in the last days, newest first.
func (s *Store) RecentSessions(ctx context.Context, days int) ([]memory.SessionSummary, error) {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	rows, err := s.db.Query(ctx, `
		SELECT session_id, MIN(timestamp) AS first_message, COUNT(*)
		FROM conversations
		WHERE timestamp >= $1
		GROUP BY session_id
		ORDER BY first_message DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("get recent sessions: %w", err)
	}

	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SessionSummary, error) {
		var ss memory.SessionSummary
		err := row.Scan(&ss.SessionID, &ss.FirstMessage, &ss.MessageCount)
		return ss, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan recent sessions: %w", err)
	}
	return sessions, nil
}
