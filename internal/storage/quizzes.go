package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edupulse/examd/internal/domain"
)

// Quiz loads a definition with its questions in index order.
func (db *DB) Quiz(ctx context.Context, quizID string) (*domain.QuizDefinition, error) {
	const quizStmt = `
SELECT quiz_id, collection_id, title, time_limit_minutes, negative_marking, mode, start_time, end_time
FROM quizzes
WHERE quiz_id = $1;`

	q := &domain.QuizDefinition{}
	err := db.pool.QueryRow(ctx, quizStmt, quizID).Scan(
		&q.QuizID, &q.CollectionID, &q.Title, &q.TimeLimitMinutes,
		&q.NegativeMarking, &q.Mode, &q.StartTime, &q.EndTime,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select quiz: %w", err)
	}

	const questionStmt = `
SELECT idx, text, image_url, options, correct_option, marks, explanation, unit_tag, chapter_tag
FROM questions
WHERE quiz_id = $1
ORDER BY idx;`

	rows, err := db.pool.Query(ctx, questionStmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("select questions: %w", err)
	}

	q.Questions, err = pgx.CollectRows(rows, scanQuestion)
	if err != nil {
		return nil, fmt.Errorf("collect questions: %w", err)
	}

	return q, nil
}

// Question loads one canonical question by quiz and original index.
func (db *DB) Question(ctx context.Context, quizID string, index int) (*domain.Question, error) {
	const stmt = `
SELECT idx, text, image_url, options, correct_option, marks, explanation, unit_tag, chapter_tag
FROM questions
WHERE quiz_id = $1 AND idx = $2;`

	rows, err := db.pool.Query(ctx, stmt, quizID, index)
	if err != nil {
		return nil, fmt.Errorf("select question: %w", err)
	}

	q, err := pgx.CollectOneRow(rows, scanQuestion)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("collect question: %w", err)
	}

	return &q, nil
}

// Questions resolves a list of refs, preserving ref order. A missing question
// fails the whole lookup: a session must never be built over a partial pool.
func (db *DB) Questions(ctx context.Context, refs []domain.QuestionRef) ([]domain.Question, error) {
	out := make([]domain.Question, 0, len(refs))
	for _, ref := range refs {
		q, err := db.Question(ctx, ref.QuizID, ref.Index)
		if err != nil {
			return nil, fmt.Errorf("question %s/%d: %w", ref.QuizID, ref.Index, err)
		}
		out = append(out, *q)
	}
	return out, nil
}

func scanQuestion(r pgx.CollectableRow) (domain.Question, error) {
	var q domain.Question
	err := r.Scan(&q.Index, &q.Text, &q.ImageURL, &q.Options, &q.CorrectOption,
		&q.Marks, &q.Explanation, &q.UnitTag, &q.ChapterTag)
	return q, err
}
