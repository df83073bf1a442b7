// Package scoring is the authoritative grading pass: it alone creates
// Attempt rows and feeds the mistake/bookmark ledgers.
package scoring

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/edupulse/examd/internal/domain"
	"github.com/edupulse/examd/internal/errors"
	"github.com/edupulse/examd/internal/event"
	"github.com/edupulse/examd/internal/quiz"
	"github.com/edupulse/examd/internal/session"
	"github.com/edupulse/examd/internal/storage"
	"github.com/edupulse/examd/internal/telemetry"
)

const defaultMinAttemptFraction = 0.10

type Store interface {
	RecordAttempt(ctx context.Context, att *domain.Attempt, mistakes []domain.MistakeRecord, bookmarks []domain.BookmarkRecord, consumeSessionID string) error
	Attempt(ctx context.Context, attemptID string) (*domain.Attempt, error)
	AttemptsByUserQuiz(ctx context.Context, userID, quizID string) ([]domain.Attempt, error)
}

type Config struct {
	Store    Store
	Sessions *session.Service
	Quizzes  *quiz.Service
	EventBus *event.Bus
	// MinAttemptFraction is the effort floor: the fraction of questions that
	// must carry a response before a manual submission consumes an attempt.
	MinAttemptFraction float64
	Now                func() time.Time
}

type Service struct {
	store       Store
	sessions    *session.Service
	quizzes     *quiz.Service
	eb          *event.Bus
	minFraction float64
	now         func() time.Time
}

func NewService(c Config) *Service {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.MinAttemptFraction <= 0 {
		c.MinAttemptFraction = defaultMinAttemptFraction
	}

	return &Service{
		store:       c.Store,
		sessions:    c.Sessions,
		quizzes:     c.Quizzes,
		eb:          c.EventBus,
		minFraction: c.MinAttemptFraction,
		now:         c.Now,
	}
}

type SubmitRequest struct {
	SessionID string
	UserID    string
	UserName  string
	Responses []domain.AttemptResponse
	// AutoSubmitted marks a client timeout submission: it bypasses the effort
	// floor and tolerates a passed deadline up to the sweep grace window, so
	// in-progress answers are never lost to the timer.
	AutoSubmitted bool
}

type SubmitResponse struct {
	AttemptID      string          `json:"attempt_id"`
	AttemptNumber  int             `json:"attempt_number"`
	Score          decimal.Decimal `json:"score"`
	TotalQuestions int             `json:"total_questions"`
	CorrectCount   int             `json:"correct_count"`
	IncorrectCount int             `json:"incorrect_count"`
}

// Submit grades a full response set and persists the attempt. Time validity is
// re-derived here from the stored deadline; nothing client-supplied about
// remaining time is consulted.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	ss, err := s.sessions.Get(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}

	if ss.Kind != domain.KindQuiz {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonValidation),
			errors.WithMessagef("practice sessions are not scored exams"),
		)
	}

	now := s.now()
	if req.AutoSubmitted {
		// The flag is client-supplied, so the tolerance it buys is capped at
		// the same grace window the sweep honours.
		if now.After(ss.Deadline.Add(session.SweepGrace)) {
			return nil, errors.New(errors.CodeDeadlineExceeded,
				errors.WithReason(errors.ReasonSessionExpired),
				errors.WithMessagef("auto-submission window for session %s has closed", req.SessionID),
			)
		}
	} else if ss.Expired(now) {
		return nil, errors.New(errors.CodeDeadlineExceeded,
			errors.WithReason(errors.ReasonSessionExpired),
			errors.WithMessagef("session %s deadline has passed", req.SessionID),
		)
	}

	def, err := s.quizzes.Definition(ctx, ss.QuizID)
	if err != nil {
		return nil, err
	}

	dense, err := ExpandResponses(def, req.Responses)
	if err != nil {
		return nil, err
	}

	if !req.AutoSubmitted {
		attempted := AttemptedCount(dense)
		if float64(attempted) < s.minFraction*float64(len(dense)) {
			return nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithReason(errors.ReasonMinimumAttempt),
				errors.WithMessagef("answered %d of %d questions, below the minimum", attempted, len(dense)),
			)
		}
	}

	tally := GradeAll(def, ss.OptionOrders, dense)

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("generate attempt ID: %w", err))
	}

	att := &domain.Attempt{
		AttemptID:        id.String(),
		UserID:           req.UserID,
		UserName:         req.UserName,
		QuizID:           def.QuizID,
		CollectionID:     def.CollectionID,
		Score:            tally.Score,
		TotalQuestions:   len(dense),
		CorrectCount:     tally.CorrectCount,
		IncorrectCount:   tally.IncorrectCount,
		TotalTimeSeconds: tally.TotalTime,
		Responses:        tally.Snapshots,
		ByUnit:           BreakdownBy(tally.Snapshots, func(r domain.ResponseSnapshot) string { return r.UnitTag }),
		ByChapter:        BreakdownBy(tally.Snapshots, func(r domain.ResponseSnapshot) string { return r.ChapterTag }),
		CreatedAt:        now,
	}

	mistakes, bookmarks := ledgerEntries(att)

	if err := s.store.RecordAttempt(ctx, att, mistakes, bookmarks, ss.SessionID); err != nil {
		return nil, errors.Internal(err)
	}

	telemetry.AttemptsRecorded.Inc()
	s.eb.Publish(ctx, domain.EventAttemptRecorded{Attempt: *att})

	return &SubmitResponse{
		AttemptID:      att.AttemptID,
		AttemptNumber:  att.AttemptNumber,
		Score:          att.Score,
		TotalQuestions: att.TotalQuestions,
		CorrectCount:   att.CorrectCount,
		IncorrectCount: att.IncorrectCount,
	}, nil
}

// ledgerEntries derives the mistake and bookmark upserts an attempt implies.
// Unattempted questions never become mistakes.
func ledgerEntries(att *domain.Attempt) ([]domain.MistakeRecord, []domain.BookmarkRecord) {
	var mistakes []domain.MistakeRecord
	var bookmarks []domain.BookmarkRecord

	for _, r := range att.Responses {
		if r.Attempted && !r.Correct {
			mistakes = append(mistakes, domain.MistakeRecord{
				MistakeID: uuid.NewString(),
				UserID:    att.UserID,
				QuizID:    att.QuizID,
				Index:     r.Index,
				Marks:     r.Marks,
				UnitTag:   r.UnitTag,
				BatchID:   att.AttemptID,
				UpdatedAt: att.CreatedAt,
			})
		}
		if r.Bookmarked {
			bookmarks = append(bookmarks, domain.BookmarkRecord{
				BookmarkID: uuid.NewString(),
				UserID:     att.UserID,
				QuizID:     att.QuizID,
				Index:      r.Index,
				Marks:      r.Marks,
				UnitTag:    r.UnitTag,
				CreatedAt:  att.CreatedAt,
			})
		}
	}

	return mistakes, bookmarks
}

// AttemptDetail returns the full snapshot of one of the caller's attempts.
func (s *Service) AttemptDetail(ctx context.Context, attemptID, userID string) (*domain.Attempt, error) {
	att, err := s.store.Attempt(ctx, attemptID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("attempt not found: %s", attemptID),
		)
	}
	if err != nil {
		return nil, errors.Internal(err)
	}

	if att.UserID != userID {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithReason(errors.ReasonAccessDenied),
			errors.WithMessagef("attempt %s belongs to another user", attemptID),
		)
	}

	return att, nil
}

type HistoryResponse struct {
	Attempts     []domain.Attempt
	PersonalBest *domain.Attempt
}

// History lists the caller's attempts on a quiz, newest first, with the
// personal best (highest score, fastest on ties).
func (s *Service) History(ctx context.Context, userID, quizID string) (*HistoryResponse, error) {
	attempts, err := s.store.AttemptsByUserQuiz(ctx, userID, quizID)
	if err != nil {
		return nil, errors.Internal(err)
	}

	resp := &HistoryResponse{Attempts: attempts}
	for i := range attempts {
		a := &attempts[i]
		if resp.PersonalBest == nil ||
			a.Score.GreaterThan(resp.PersonalBest.Score) ||
			(a.Score.Equal(resp.PersonalBest.Score) && a.TotalTimeSeconds < resp.PersonalBest.TotalTimeSeconds) {
			resp.PersonalBest = a
		}
	}

	return resp, nil
}
