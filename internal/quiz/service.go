// Package quiz serves quiz definitions and sanitizes them for untrusted
// clients.
package quiz

import (
	"context"
	stderrors "errors"

	"github.com/edupulse/examd/internal/domain"
	"github.com/edupulse/examd/internal/errors"
	"github.com/edupulse/examd/internal/storage"
)

type Store interface {
	Quiz(ctx context.Context, quizID string) (*domain.QuizDefinition, error)
	Question(ctx context.Context, quizID string, index int) (*domain.Question, error)
}

type Config struct {
	Store Store
}

type Service struct {
	store Store
}

func NewService(c Config) *Service {
	return &Service{store: c.Store}
}

func (s *Service) Definition(ctx context.Context, quizID string) (*domain.QuizDefinition, error) {
	def, err := s.store.Quiz(ctx, quizID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: %s", quizID),
		)
	}
	if err != nil {
		return nil, errors.Internal(err)
	}

	return def, nil
}

func (s *Service) Question(ctx context.Context, quizID string, index int) (*domain.Question, error) {
	q, err := s.store.Question(ctx, quizID, index)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question not found: %s/%d", quizID, index),
		)
	}
	if err != nil {
		return nil, errors.Internal(err)
	}

	return q, nil
}
