package domain

const (
	EventNameAttemptRecorded    = "attempt.recorded"
	EventNameSessionInvalidated = "session.invalidated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventAttemptRecorded struct {
	Attempt Attempt
}

func (EventAttemptRecorded) Name() string { return EventNameAttemptRecorded }

type EventSessionInvalidated struct {
	SessionID string
	UserID    string
	QuizID    string
	Strikes   int
}

func (EventSessionInvalidated) Name() string { return EventNameSessionInvalidated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
