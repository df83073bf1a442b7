// Package ledger exposes the durable mistake and bookmark records that drive
// spaced practice. Records are written by the scorer's upserts; this service
// only lists and removes them.
package ledger

import (
	"context"
	stderrors "errors"

	"github.com/edupulse/examd/internal/domain"
	"github.com/edupulse/examd/internal/errors"
	"github.com/edupulse/examd/internal/storage"
)

type Store interface {
	Mistakes(ctx context.Context, userID string, latestSets int) ([]domain.MistakeRecord, error)
	DeleteMistake(ctx context.Context, userID, mistakeID string) error
	Bookmarks(ctx context.Context, userID string) ([]domain.BookmarkRecord, error)
	DeleteBookmark(ctx context.Context, userID, bookmarkID string) error
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

// MistakeFilter narrows a mistake listing. LatestSets > 0 keeps only the N
// most recently touched batches, where a batch is the attempt that last
// recorded the mistake; zero means all.
type MistakeFilter struct {
	LatestSets int
}

func (s *Service) ListMistakes(ctx context.Context, userID string, f MistakeFilter) ([]domain.MistakeRecord, error) {
	mistakes, err := s.store.Mistakes(ctx, userID, f.LatestSets)
	if err != nil {
		return nil, errors.Internal(err)
	}

	return mistakes, nil
}

// ResolveMistake deletes a mistake record, normally because the user answered
// it correctly during ledger-driven practice.
func (s *Service) ResolveMistake(ctx context.Context, userID, mistakeID string) error {
	err := s.store.DeleteMistake(ctx, userID, mistakeID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("mistake not found: %s", mistakeID),
		)
	}
	if err != nil {
		return errors.Internal(err)
	}

	return nil
}

func (s *Service) ListBookmarks(ctx context.Context, userID string) ([]domain.BookmarkRecord, error) {
	bookmarks, err := s.store.Bookmarks(ctx, userID)
	if err != nil {
		return nil, errors.Internal(err)
	}

	return bookmarks, nil
}

func (s *Service) RemoveBookmark(ctx context.Context, userID, bookmarkID string) error {
	err := s.store.DeleteBookmark(ctx, userID, bookmarkID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("bookmark not found: %s", bookmarkID),
		)
	}
	if err != nil {
		return errors.Internal(err)
	}

	return nil
}
