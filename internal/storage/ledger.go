package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edupulse/examd/internal/domain"
)

// Mistakes lists a user's mistake records, newest first. latestSets > 0
// restricts the listing to the N most recently touched batches, where one
// batch is the attempt that recorded (or last re-recorded) the mistake.
func (db *DB) Mistakes(ctx context.Context, userID string, latestSets int) ([]domain.MistakeRecord, error) {
	const allStmt = `
SELECT mistake_id, user_id, quiz_id, question_idx, marks, unit_tag, incorrect_count, batch_id, updated_at
FROM mistakes
WHERE user_id = $1
ORDER BY updated_at DESC;`

	const latestStmt = `
SELECT mistake_id, user_id, quiz_id, question_idx, marks, unit_tag, incorrect_count, batch_id, updated_at
FROM mistakes
WHERE user_id = $1 AND batch_id IN (
	SELECT batch_id FROM mistakes
	WHERE user_id = $1
	GROUP BY batch_id
	ORDER BY MAX(updated_at) DESC
	LIMIT $2
)
ORDER BY updated_at DESC;`

	var (
		rows pgx.Rows
		err  error
	)
	if latestSets > 0 {
		rows, err = db.pool.Query(ctx, latestStmt, userID, latestSets)
	} else {
		rows, err = db.pool.Query(ctx, allStmt, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("select mistakes: %w", err)
	}

	mistakes, err := pgx.CollectRows(rows, scanMistake)
	if err != nil {
		return nil, fmt.Errorf("collect mistakes: %w", err)
	}

	return mistakes, nil
}

// DeleteMistake resolves a mistake. The user filter keeps one user from
// resolving another's records.
func (db *DB) DeleteMistake(ctx context.Context, userID, mistakeID string) error {
	const stmt = `DELETE FROM mistakes WHERE mistake_id = $1 AND user_id = $2;`

	tag, err := db.pool.Exec(ctx, stmt, mistakeID, userID)
	if err != nil {
		return fmt.Errorf("delete mistake: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *DB) Bookmarks(ctx context.Context, userID string) ([]domain.BookmarkRecord, error) {
	const stmt = `
SELECT bookmark_id, user_id, quiz_id, question_idx, marks, unit_tag, created_at
FROM bookmarks
WHERE user_id = $1
ORDER BY created_at DESC;`

	rows, err := db.pool.Query(ctx, stmt, userID)
	if err != nil {
		return nil, fmt.Errorf("select bookmarks: %w", err)
	}

	bookmarks, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.BookmarkRecord, error) {
		var b domain.BookmarkRecord
		err := r.Scan(&b.BookmarkID, &b.UserID, &b.QuizID, &b.Index, &b.Marks, &b.UnitTag, &b.CreatedAt)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect bookmarks: %w", err)
	}

	return bookmarks, nil
}

func (db *DB) DeleteBookmark(ctx context.Context, userID, bookmarkID string) error {
	const stmt = `DELETE FROM bookmarks WHERE bookmark_id = $1 AND user_id = $2;`

	tag, err := db.pool.Exec(ctx, stmt, bookmarkID, userID)
	if err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanMistake(r pgx.CollectableRow) (domain.MistakeRecord, error) {
	var m domain.MistakeRecord
	err := r.Scan(&m.MistakeID, &m.UserID, &m.QuizID, &m.Index, &m.Marks, &m.UnitTag,
		&m.IncorrectCount, &m.BatchID, &m.UpdatedAt)
	return m, err
}
