package store

import (
	"context"
	"fmt"
	"time"
)

// SweepIdleSessions implements the periodic half of the session lifecycle
// state machine (spec §4.5): active sessions idle out after
// sessionTimeout of inactivity, and idle sessions end after twice that.
// It returns how many sessions changed state, for the runtime's
// session_update broadcast.
func (s *Store) SweepIdleSessions(ctx context.Context, sessionTimeout time.Duration) (idled, ended int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	idleCutoff := now.Add(-sessionTimeout).Format(time.RFC3339)
	endedCutoff := now.Add(-2 * sessionTimeout).Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("store: begin sweep tx: %w", err)
	}
	defer tx.Rollback()

	idleRes, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = 'idle'
		WHERE status = 'active' AND last_event_at < ?
	`, idleCutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("store: sweep idle: %w", err)
	}
	idledCount, _ := idleRes.RowsAffected()

	endedRes, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = 'ended', ended_at = ?
		WHERE status = 'idle' AND last_event_at < ? AND ended_at IS NULL
	`, now.Format(time.RFC3339), endedCutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("store: sweep ended: %w", err)
	}
	endedCount, _ := endedRes.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("store: commit sweep tx: %w", err)
	}

	return int(idledCount), int(endedCount), nil
}
