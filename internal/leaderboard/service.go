// Package leaderboard is the read-side ranking of attempts for a quiz. The
// attempt table is the source of truth; redis only caches the computed
// ranking and throttles refresh fan-out.
package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edupulse/examd/internal/domain"
	"github.com/edupulse/examd/internal/errors"
	"github.com/edupulse/examd/internal/event"
)

const (
	defaultCacheTTL = 30 * time.Second
	// Attempts for the same quiz land in bursts around the exam end; refreshes
	// within this interval collapse into one.
	refreshInterval = 200 * time.Millisecond
)

type Store interface {
	RankAttempts(ctx context.Context, quizID string) ([]domain.LeaderboardEntry, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	Redis    redis.UniversalClient
	Prefix   string
	CacheTTL time.Duration
}

type Service struct {
	eb       *event.Bus
	store    Store
	redis    redis.UniversalClient
	prefix   string
	cacheTTL time.Duration
}

func NewService(c Config) *Service {
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}

	s := &Service{
		eb:       c.EventBus,
		store:    c.Store,
		redis:    c.Redis,
		prefix:   c.Prefix,
		cacheTTL: c.CacheTTL,
	}

	s.eb.Subscribe(domain.EventNameAttemptRecorded, func(ctx context.Context, e event.Event) error {
		return s.refresh(ctx, e.(domain.EventAttemptRecorded).Attempt.QuizID)
	})

	return s
}

// Rank returns the quiz leaderboard: each user's best attempt, score
// descending, total time ascending. Served from cache when fresh.
func (s *Service) Rank(ctx context.Context, quizID string) (*domain.Leaderboard, error) {
	cached, err := s.redis.Get(ctx, s.cacheKey(quizID)).Bytes()
	if err == nil {
		var entries []domain.LeaderboardEntry
		if err := json.Unmarshal(cached, &entries); err == nil {
			return &domain.Leaderboard{QuizID: quizID, Entries: entries}, nil
		}
	}
	if err != nil && err != redis.Nil {
		// Postgres is the source of truth; a broken cache only costs a compute.
		slog.WarnContext(ctx, "leaderboard: cache read failed", "quiz_id", quizID, "error", err)
	}

	return s.compute(ctx, quizID)
}

func (s *Service) compute(ctx context.Context, quizID string) (*domain.Leaderboard, error) {
	entries, err := s.store.RankAttempts(ctx, quizID)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("rank attempts: %w", err))
	}

	if b, err := json.Marshal(entries); err == nil {
		if err := s.redis.Set(ctx, s.cacheKey(quizID), b, s.cacheTTL).Err(); err != nil {
			slog.WarnContext(ctx, "leaderboard: cache write failed", "quiz_id", quizID, "error", err)
		}
	}

	return &domain.Leaderboard{QuizID: quizID, Entries: entries}, nil
}

// refresh recomputes and republishes a quiz's leaderboard after an attempt is
// recorded. SETNX makes bursts of attempts collapse into one refresh per
// interval, including across service instances.
func (s *Service) refresh(ctx context.Context, quizID string) error {
	ok, err := s.redis.SetNX(ctx, s.throttleKey(quizID), time.Now().UnixMilli(), refreshInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil
	}

	l, err := s.compute(ctx, quizID)
	if err != nil {
		return fmt.Errorf("refresh leaderboard: quiz=%s: %w", quizID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: *l})
	return nil
}

func (s *Service) cacheKey(quizID string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, quizID)
}

func (s *Service) throttleKey(quizID string) string {
	return fmt.Sprintf("%s:%s:refresh", s.prefix, quizID)
}
