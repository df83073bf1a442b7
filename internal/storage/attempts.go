package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edupulse/examd/internal/domain"
)

// recordRetries bounds the count-then-insert loop. Two concurrent submissions
// for the same (user, quiz) race to the same attempt number; the unique
// constraint on (user_id, quiz_id, attempt_number) rejects the loser, which
// recounts and retries.
const recordRetries = 3

// RecordAttempt assigns the next attempt number and persists the attempt, the
// mistake/bookmark upserts, and the session deletion in one transaction. On
// success att.AttemptNumber holds the assigned number.
func (db *DB) RecordAttempt(ctx context.Context, att *domain.Attempt, mistakes []domain.MistakeRecord, bookmarks []domain.BookmarkRecord, consumeSessionID string) error {
	err := retryOnUniqueViolation(recordRetries, func() error {
		return db.recordAttemptOnce(ctx, att, mistakes, bookmarks, consumeSessionID)
	})
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	return nil
}

func (db *DB) recordAttemptOnce(ctx context.Context, att *domain.Attempt, mistakes []domain.MistakeRecord, bookmarks []domain.BookmarkRecord, consumeSessionID string) (err error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const countStmt = `SELECT COUNT(*) FROM attempts WHERE user_id = $1 AND quiz_id = $2;`

	var prior int
	if err = tx.QueryRow(ctx, countStmt, att.UserID, att.QuizID).Scan(&prior); err != nil {
		return fmt.Errorf("count attempts: %w", err)
	}
	att.AttemptNumber = prior + 1

	responses, err := json.Marshal(att.Responses)
	if err != nil {
		return fmt.Errorf("marshal responses: %w", err)
	}
	byUnit, err := json.Marshal(att.ByUnit)
	if err != nil {
		return fmt.Errorf("marshal unit breakdown: %w", err)
	}
	byChapter, err := json.Marshal(att.ByChapter)
	if err != nil {
		return fmt.Errorf("marshal chapter breakdown: %w", err)
	}

	const insStmt = `
INSERT INTO attempts (attempt_id, user_id, user_name, quiz_id, collection_id, attempt_number,
	score, total_questions, correct_count, incorrect_count, total_time_seconds,
	responses, by_unit, by_chapter, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);`

	_, err = tx.Exec(ctx, insStmt,
		att.AttemptID, att.UserID, att.UserName, att.QuizID, att.CollectionID, att.AttemptNumber,
		att.Score, att.TotalQuestions, att.CorrectCount, att.IncorrectCount, att.TotalTimeSeconds,
		responses, byUnit, byChapter, att.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	const mistakeStmt = `
INSERT INTO mistakes (mistake_id, user_id, quiz_id, question_idx, marks, unit_tag, incorrect_count, batch_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
ON CONFLICT (user_id, quiz_id, question_idx)
DO UPDATE SET incorrect_count = mistakes.incorrect_count + 1,
	marks = EXCLUDED.marks,
	unit_tag = EXCLUDED.unit_tag,
	batch_id = EXCLUDED.batch_id,
	updated_at = EXCLUDED.updated_at;`

	for _, m := range mistakes {
		_, err = tx.Exec(ctx, mistakeStmt,
			m.MistakeID, m.UserID, m.QuizID, m.Index, m.Marks, m.UnitTag, m.BatchID, m.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert mistake: %w", err)
		}
	}

	const bookmarkStmt = `
INSERT INTO bookmarks (bookmark_id, user_id, quiz_id, question_idx, marks, unit_tag, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, quiz_id, question_idx) DO NOTHING;`

	for _, b := range bookmarks {
		_, err = tx.Exec(ctx, bookmarkStmt,
			b.BookmarkID, b.UserID, b.QuizID, b.Index, b.Marks, b.UnitTag, b.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert bookmark: %w", err)
		}
	}

	if consumeSessionID != "" {
		const delStmt = `DELETE FROM sessions WHERE session_id = $1;`
		if _, err = tx.Exec(ctx, delStmt, consumeSessionID); err != nil {
			return fmt.Errorf("consume session: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (db *DB) CountAttempts(ctx context.Context, userID, quizID string) (int, error) {
	const stmt = `SELECT COUNT(*) FROM attempts WHERE user_id = $1 AND quiz_id = $2;`

	var n int
	if err := db.pool.QueryRow(ctx, stmt, userID, quizID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}

	return n, nil
}

// Attempt loads one attempt with its full snapshot and breakdowns.
func (db *DB) Attempt(ctx context.Context, attemptID string) (*domain.Attempt, error) {
	const stmt = `
SELECT attempt_id, user_id, user_name, quiz_id, collection_id, attempt_number,
	score, total_questions, correct_count, incorrect_count, total_time_seconds,
	responses, by_unit, by_chapter, created_at
FROM attempts
WHERE attempt_id = $1;`

	var (
		att       domain.Attempt
		responses []byte
		byUnit    []byte
		byChapter []byte
	)
	err := db.pool.QueryRow(ctx, stmt, attemptID).Scan(
		&att.AttemptID, &att.UserID, &att.UserName, &att.QuizID, &att.CollectionID, &att.AttemptNumber,
		&att.Score, &att.TotalQuestions, &att.CorrectCount, &att.IncorrectCount, &att.TotalTimeSeconds,
		&responses, &byUnit, &byChapter, &att.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select attempt: %w", err)
	}

	if err := json.Unmarshal(responses, &att.Responses); err != nil {
		return nil, fmt.Errorf("unmarshal responses: %w", err)
	}
	if err := json.Unmarshal(byUnit, &att.ByUnit); err != nil {
		return nil, fmt.Errorf("unmarshal unit breakdown: %w", err)
	}
	if err := json.Unmarshal(byChapter, &att.ByChapter); err != nil {
		return nil, fmt.Errorf("unmarshal chapter breakdown: %w", err)
	}

	return &att, nil
}

// AttemptsByUserQuiz lists a user's attempts on a quiz, newest first, without
// the per-question snapshots.
func (db *DB) AttemptsByUserQuiz(ctx context.Context, userID, quizID string) ([]domain.Attempt, error) {
	const stmt = `
SELECT attempt_id, user_id, user_name, quiz_id, collection_id, attempt_number,
	score, total_questions, correct_count, incorrect_count, total_time_seconds, created_at
FROM attempts
WHERE user_id = $1 AND quiz_id = $2
ORDER BY attempt_number DESC;`

	rows, err := db.pool.Query(ctx, stmt, userID, quizID)
	if err != nil {
		return nil, fmt.Errorf("select attempts: %w", err)
	}

	attempts, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Attempt, error) {
		var att domain.Attempt
		err := r.Scan(&att.AttemptID, &att.UserID, &att.UserName, &att.QuizID, &att.CollectionID,
			&att.AttemptNumber, &att.Score, &att.TotalQuestions, &att.CorrectCount,
			&att.IncorrectCount, &att.TotalTimeSeconds, &att.CreatedAt)
		return att, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect attempts: %w", err)
	}

	return attempts, nil
}

// RankAttempts computes the leaderboard for a quiz: each user's best attempt
// (highest score, fastest on ties), ordered score desc then time asc.
func (db *DB) RankAttempts(ctx context.Context, quizID string) ([]domain.LeaderboardEntry, error) {
	const stmt = `
WITH best AS (
	SELECT DISTINCT ON (user_id) user_name, score, total_time_seconds
	FROM attempts
	WHERE quiz_id = $1
	ORDER BY user_id, score DESC, total_time_seconds ASC
)
SELECT user_name, score, total_time_seconds
FROM best
ORDER BY score DESC, total_time_seconds ASC;`

	rows, err := db.pool.Query(ctx, stmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("rank attempts: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.LeaderboardEntry, error) {
		var e domain.LeaderboardEntry
		err := r.Scan(&e.UserName, &e.Score, &e.TotalTimeSeconds)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect entries: %w", err)
	}

	for i := range entries {
		entries[i].Rank = i + 1
	}

	return entries, nil
}
