package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edupulse/examd/internal/domain"
)

// CreateSession inserts a session row. Question refs and option orders are
// stored as jsonb so per-session orderings never mutate the quiz definition.
func (db *DB) CreateSession(ctx context.Context, s *domain.QuizSession) error {
	const stmt = `
INSERT INTO sessions (session_id, user_id, quiz_id, kind, questions, option_orders, strikes, created_at, deadline)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	questions, err := json.Marshal(s.Questions)
	if err != nil {
		return fmt.Errorf("marshal question refs: %w", err)
	}

	orders, err := json.Marshal(s.OptionOrders)
	if err != nil {
		return fmt.Errorf("marshal option orders: %w", err)
	}

	_, err = db.pool.Exec(ctx, stmt,
		s.SessionID, s.UserID, s.QuizID, s.Kind, questions, orders,
		s.Strikes, s.CreatedAt, s.Deadline,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

func (db *DB) Session(ctx context.Context, sessionID string) (*domain.QuizSession, error) {
	const stmt = `
SELECT session_id, user_id, quiz_id, kind, questions, option_orders, strikes, created_at, deadline
FROM sessions
WHERE session_id = $1;`

	var (
		s         domain.QuizSession
		questions []byte
		orders    []byte
	)
	err := db.pool.QueryRow(ctx, stmt, sessionID).Scan(
		&s.SessionID, &s.UserID, &s.QuizID, &s.Kind, &questions, &orders,
		&s.Strikes, &s.CreatedAt, &s.Deadline,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	if err := json.Unmarshal(questions, &s.Questions); err != nil {
		return nil, fmt.Errorf("unmarshal question refs: %w", err)
	}
	if err := json.Unmarshal(orders, &s.OptionOrders); err != nil {
		return nil, fmt.Errorf("unmarshal option orders: %w", err)
	}

	return &s, nil
}

// SessionByUserQuiz returns the user's open session on a quiz, if any. Used to
// resume a live exam instead of issuing a second session.
func (db *DB) SessionByUserQuiz(ctx context.Context, userID, quizID string) (*domain.QuizSession, error) {
	const stmt = `
SELECT session_id
FROM sessions
WHERE user_id = $1 AND quiz_id = $2 AND kind = $3
ORDER BY created_at DESC
LIMIT 1;`

	var id string
	err := db.pool.QueryRow(ctx, stmt, userID, quizID, domain.KindQuiz).Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session by user+quiz: %w", err)
	}

	return db.Session(ctx, id)
}

// DeleteSession removes a session. Reports ErrNotFound when it was already
// consumed, so callers can treat double-deletes distinctly.
func (db *DB) DeleteSession(ctx context.Context, sessionID string) error {
	const stmt = `DELETE FROM sessions WHERE session_id = $1;`

	tag, err := db.pool.Exec(ctx, stmt, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// AddStrike increments the session's strike count and returns the new total.
func (db *DB) AddStrike(ctx context.Context, sessionID string) (int, error) {
	const stmt = `
UPDATE sessions
SET strikes = strikes + 1
WHERE session_id = $1
RETURNING strikes;`

	var strikes int
	err := db.pool.QueryRow(ctx, stmt, sessionID).Scan(&strikes)
	if err == pgx.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("add strike: %w", err)
	}

	return strikes, nil
}

// DeleteExpiredSessions reclaims sessions whose deadline passed before the
// cutoff. Callers keep a grace window so timeout auto-submission can still
// find the session.
func (db *DB) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	const stmt = `DELETE FROM sessions WHERE deadline < $1;`

	tag, err := db.pool.Exec(ctx, stmt, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	return tag.RowsAffected(), nil
}
