package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/edupulse/examd/internal/domain"
	"github.com/edupulse/examd/internal/event"
	"github.com/edupulse/examd/internal/leaderboard"
)

func TestService_Rank(t *testing.T) {
	store := &memRankStore{entries: map[string][]domain.LeaderboardEntry{
		"quiz-1": {
			{Rank: 1, UserName: "Alice", Score: decimal.NewFromInt(9), TotalTimeSeconds: 300},
			{Rank: 2, UserName: "Bob", Score: decimal.NewFromInt(9), TotalTimeSeconds: 420},
			{Rank: 3, UserName: "Carol", Score: decimal.NewFromInt(5), TotalTimeSeconds: 200},
		},
	}}
	s, _ := makeService(t, withStore(store))

	l, err := s.Rank(context.Background(), "quiz-1")
	require.NoError(t, err)
	require.Equal(t, "quiz-1", l.QuizID)
	require.Len(t, l.Entries, 3)
	require.Equal(t, "Alice", l.Entries[0].UserName)
	require.Equal(t, 1, store.computes, "first read computes")

	// second read within the TTL is served from cache
	store.entries["quiz-1"] = nil
	l, err = s.Rank(context.Background(), "quiz-1")
	require.NoError(t, err)
	require.Len(t, l.Entries, 3)
	require.Equal(t, 1, store.computes, "cached read must not recompute")
}

func TestService_Rank_CacheFailure(t *testing.T) {
	store := &memRankStore{entries: map[string][]domain.LeaderboardEntry{
		"quiz-1": {
			{Rank: 1, UserName: "Alice", Score: decimal.NewFromInt(9), TotalTimeSeconds: 300},
		},
	}}
	s, rc := makeService(t, withStore(store))

	// A wrong-typed cache key makes the GET fail with a real error, not a miss.
	require.NoError(t, rc.HSet(context.Background(), "examd-test:quiz-1:leaderboard", "k", "v").Err())

	l, err := s.Rank(context.Background(), "quiz-1")
	require.NoError(t, err, "a broken cache must not fail the read")
	require.Len(t, l.Entries, 1)
	require.Equal(t, 1, store.computes, "the read falls back to the attempt table")
}

func TestService_RankEmpty(t *testing.T) {
	s, _ := makeService(t, withStore(&memRankStore{entries: map[string][]domain.LeaderboardEntry{}}))

	l, err := s.Rank(context.Background(), "quiz-1")
	require.NoError(t, err)
	require.Empty(t, l.Entries)
}

func TestService_RefreshOnAttemptRecorded(t *testing.T) {
	type (
		inputs struct {
			attempts []domain.Attempt
		}

		outputs struct {
			published []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish leaderboard.updated after an attempt is recorded": {
			arrange: func() inputs {
				return inputs{attempts: []domain.Attempt{
					{AttemptID: "a1", UserID: "u1", QuizID: "quiz-1", Score: decimal.NewFromInt(5)},
				}}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.published, 1)
				require.Equal(t, "quiz-1", out.published[0].Leaderboard.QuizID)
			},
		},

		"should collapse a burst of attempts for one quiz into one refresh": {
			arrange: func() inputs {
				return inputs{attempts: []domain.Attempt{
					{AttemptID: "a1", UserID: "u1", QuizID: "quiz-1"},
					{AttemptID: "a2", UserID: "u2", QuizID: "quiz-1"},
					{AttemptID: "a3", UserID: "u3", QuizID: "quiz-1"},
				}}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.published, 1, "refreshes inside the throttle interval collapse")
			},
		},

		"should refresh each quiz independently": {
			arrange: func() inputs {
				return inputs{attempts: []domain.Attempt{
					{AttemptID: "a1", UserID: "u1", QuizID: "quiz-1"},
					{AttemptID: "a2", UserID: "u2", QuizID: "quiz-2"},
				}}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.published, 2)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.published = append(out.published, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			store := &memRankStore{entries: map[string][]domain.LeaderboardEntry{}}
			makeService(t, withStore(store), withEventBus(eb))

			for _, att := range in.attempts {
				eb.Publish(context.Background(), domain.EventAttemptRecorded{Attempt: att})
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func makeService(t *testing.T, opts ...options) (*leaderboard.Service, redis.UniversalClient) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Store:    &memRankStore{entries: map[string][]domain.LeaderboardEntry{}},
		Redis:    rc,
		Prefix:   "examd-test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c), rc
}

type options func(c *leaderboard.Config)

func withStore(store leaderboard.Store) options {
	return func(c *leaderboard.Config) { c.Store = store }
}

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) { c.EventBus = eb }
}

type memRankStore struct {
	mu       sync.Mutex
	entries  map[string][]domain.LeaderboardEntry
	computes int
}

func (m *memRankStore) RankAttempts(ctx context.Context, quizID string) ([]domain.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computes++
	return m.entries[quizID], nil
}
