package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/edupulse/examd/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	leaderboardData struct {
		QuizID  string                    `json:"quiz_id"`
		Entries []domain.LeaderboardEntry `json:"entries"`
	}
)

// PublishLeaderboardUpdated pushes the refreshed ranking to every ranked
// user's notification channel, plus the quiz-wide channel observers of a live
// exam subscribe to.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	data := leaderboardData{
		QuizID:  l.QuizID,
		Entries: l.Entries,
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return a.publishNotification(ctx, fmt.Sprintf("quiz:%s", l.QuizID), e.Name(), data)
	})

	for _, entry := range l.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, fmt.Sprintf("user:%s", entry.UserName), e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:%s", a.prefix, channel), b).Err()
}
