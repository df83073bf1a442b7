// Package session owns the single-use, time-bounded session records and the
// access gate that issues them. The server-side deadline stored here is the
// only timer the engine trusts; client-reported elapsed time is advisory.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/edupulse/examd/internal/domain"
	"github.com/edupulse/examd/internal/errors"
	"github.com/edupulse/examd/internal/event"
	"github.com/edupulse/examd/internal/quiz"
	"github.com/edupulse/examd/internal/storage"
	"github.com/edupulse/examd/internal/telemetry"
)

// SweepGrace is how long a session past its deadline stays visible to timeout
// auto-submission. The sweep reclaims it afterwards, and scoring refuses
// auto-submissions beyond it.
const SweepGrace = 15 * time.Minute

type Store interface {
	CreateSession(ctx context.Context, s *domain.QuizSession) error
	Session(ctx context.Context, sessionID string) (*domain.QuizSession, error)
	SessionByUserQuiz(ctx context.Context, userID, quizID string) (*domain.QuizSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
	AddStrike(ctx context.Context, sessionID string) (int, error)
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

type AttemptCounter interface {
	CountAttempts(ctx context.Context, userID, quizID string) (int, error)
}

type ProofChecker interface {
	Consume(ctx context.Context, proof string) error
}

type AccessChecker interface {
	Allowed(ctx context.Context, userID, collectionID string) error
}

type Config struct {
	Store          Store
	Quizzes        *quiz.Service
	Attempts       AttemptCounter
	Proofs         ProofChecker
	Access         AccessChecker
	EventBus       *event.Bus
	StrikeLimit    int
	ShuffleOptions bool
	Now            func() time.Time
}

type Service struct {
	store          Store
	quizzes        *quiz.Service
	attempts       AttemptCounter
	proofs         ProofChecker
	access         AccessChecker
	eb             *event.Bus
	strikeLimit    int
	shuffleOptions bool
	now            func() time.Time
}

func NewService(c Config) *Service {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.StrikeLimit <= 0 {
		c.StrikeLimit = 3
	}

	return &Service{
		store:          c.Store,
		quizzes:        c.Quizzes,
		attempts:       c.Attempts,
		proofs:         c.Proofs,
		access:         c.Access,
		eb:             c.EventBus,
		strikeLimit:    c.StrikeLimit,
		shuffleOptions: c.ShuffleOptions,
		now:            c.Now,
	}
}

type OpenRequest struct {
	UserID     string
	QuizID     string
	ProofToken string
}

type OpenResponse struct {
	Session   *domain.QuizSession
	Questions []domain.ClientQuestion
	Resumed   bool
}

// Open gates a quiz behind identity, a one-time human proof, and the
// collection grant, then issues (or resumes) the single session for
// (user, quiz). No question content is released before every gate passes.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*OpenResponse, error) {
	if err := s.proofs.Consume(ctx, req.ProofToken); err != nil {
		return nil, err
	}

	def, err := s.quizzes.Definition(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}

	if err := s.access.Allowed(ctx, req.UserID, def.CollectionID); err != nil {
		return nil, err
	}

	now := s.now()

	// An unfinished session is resumed rather than reissued, even when the
	// live window has since opened wider than the session's own deadline.
	existing, err := s.store.SessionByUserQuiz(ctx, req.UserID, req.QuizID)
	if err == nil && !existing.Expired(now) {
		questions, rerr := resume(def, existing)
		if rerr != nil {
			return nil, rerr
		}
		return &OpenResponse{Session: existing, Questions: questions, Resumed: true}, nil
	}
	if err != nil && !stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.Internal(err)
	}

	deadline := now.Add(time.Duration(def.TimeLimitMinutes) * time.Minute)

	if def.Mode == domain.ModeLive {
		prior, err := s.attempts.CountAttempts(ctx, req.UserID, req.QuizID)
		if err != nil {
			return nil, errors.Internal(err)
		}
		if prior > 0 {
			return nil, errors.New(errors.CodeAlreadyExists,
				errors.WithReason(errors.ReasonAlreadyAttempted),
				errors.WithMessagef("quiz %s allows a single attempt", req.QuizID),
			)
		}

		if def.StartTime != nil && now.Before(*def.StartTime) {
			return nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithReason(errors.ReasonValidation),
				errors.WithMessagef("quiz %s has not started yet", req.QuizID),
			)
		}
		if def.EndTime != nil && now.After(*def.EndTime) {
			return nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithReason(errors.ReasonValidation),
				errors.WithMessagef("quiz %s window has closed", req.QuizID),
			)
		}

		// Floor the deadline at the global end time so a manipulated local
		// clock cannot out-run a synchronized exam.
		if def.EndTime != nil && def.EndTime.Before(deadline) {
			deadline = *def.EndTime
		}
	}

	refs := make([]domain.QuestionRef, 0, len(def.Questions))
	for _, q := range def.Questions {
		refs = append(refs, domain.QuestionRef{QuizID: def.QuizID, Index: q.Index})
	}

	questions, orders := quiz.Sanitize(def.Questions, s.shuffleOptions)

	ss := &domain.QuizSession{
		UserID:       req.UserID,
		QuizID:       def.QuizID,
		Kind:         domain.KindQuiz,
		Questions:    refs,
		OptionOrders: orders,
		CreatedAt:    now,
		Deadline:     deadline,
	}
	if err := s.insert(ctx, ss); err != nil {
		return nil, err
	}

	telemetry.SessionsOpened.WithLabelValues(string(domain.KindQuiz)).Inc()

	return &OpenResponse{Session: ss, Questions: questions}, nil
}

func resume(def *domain.QuizDefinition, ss *domain.QuizSession) ([]domain.ClientQuestion, error) {
	questions := quiz.Resanitize(def.Questions, ss.OptionOrders)
	if len(questions) != len(ss.Questions) {
		return nil, errors.New(errors.CodeInternal,
			errors.WithMessagef("session %s no longer matches quiz %s", ss.SessionID, def.QuizID),
		)
	}
	return questions, nil
}

// CreatePractice materializes a practice session over ledger-sourced refs.
// It shares the quiz session storage path so the verifier and the deadline
// checks behave identically for both kinds.
func (s *Service) CreatePractice(ctx context.Context, userID string, refs []domain.QuestionRef, orders map[int][]int, timeLimit time.Duration) (*domain.QuizSession, error) {
	now := s.now()
	ss := &domain.QuizSession{
		UserID:       userID,
		Kind:         domain.KindPractice,
		Questions:    refs,
		OptionOrders: orders,
		CreatedAt:    now,
		Deadline:     now.Add(timeLimit),
	}
	if err := s.insert(ctx, ss); err != nil {
		return nil, err
	}

	telemetry.SessionsOpened.WithLabelValues(string(domain.KindPractice)).Inc()

	return ss, nil
}

func (s *Service) insert(ctx context.Context, ss *domain.QuizSession) error {
	id, err := uuid.NewV7()
	if err != nil {
		return errors.Internal(fmt.Errorf("generate session ID: %w", err))
	}
	ss.SessionID = id.String()

	if err := s.store.CreateSession(ctx, ss); err != nil {
		return errors.Internal(err)
	}

	return nil
}

// Get loads a session owned by the caller. Consumed or never-issued sessions
// are indistinguishable from the outside.
func (s *Service) Get(ctx context.Context, sessionID, userID string) (*domain.QuizSession, error) {
	ss, err := s.store.Session(ctx, sessionID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithReason(errors.ReasonSessionNotFound),
			errors.WithMessagef("session not found: %s", sessionID),
		)
	}
	if err != nil {
		return nil, errors.Internal(err)
	}

	if ss.UserID != userID {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithReason(errors.ReasonAccessDenied),
			errors.WithMessagef("session %s belongs to another user", sessionID),
		)
	}

	return ss, nil
}

// Exit deletes the caller's session without grading it.
func (s *Service) Exit(ctx context.Context, sessionID, userID string) error {
	if _, err := s.Get(ctx, sessionID, userID); err != nil {
		return err
	}

	if err := s.store.DeleteSession(ctx, sessionID); err != nil && !stderrors.Is(err, storage.ErrNotFound) {
		return errors.Internal(err)
	}

	return nil
}

type StrikeResult struct {
	Strikes     int
	Limit       int
	Invalidated bool
}

// RecordStrike counts one client-observed suspicious event against the
// session. Reaching the strike limit deletes the session; the client has to
// restart through the access gate.
func (s *Service) RecordStrike(ctx context.Context, sessionID, userID string) (*StrikeResult, error) {
	ss, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	strikes, err := s.store.AddStrike(ctx, sessionID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithReason(errors.ReasonSessionNotFound),
			errors.WithMessagef("session not found: %s", sessionID),
		)
	}
	if err != nil {
		return nil, errors.Internal(err)
	}

	telemetry.IntegrityStrikes.Inc()

	res := &StrikeResult{Strikes: strikes, Limit: s.strikeLimit}
	if strikes < s.strikeLimit {
		return res, nil
	}

	res.Invalidated = true
	if err := s.store.DeleteSession(ctx, sessionID); err != nil && !stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.Internal(err)
	}

	telemetry.SessionsInvalidated.Inc()
	s.eb.Publish(ctx, domain.EventSessionInvalidated{
		SessionID: sessionID,
		UserID:    ss.UserID,
		QuizID:    ss.QuizID,
		Strikes:   strikes,
	})

	return res, nil
}

// Sweep reclaims sessions that expired before the grace window. Correctness
// never depends on it; it only bounds storage growth.
func (s *Service) Sweep(ctx context.Context) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now().Add(-SweepGrace))
	if err != nil {
		slog.ErrorContext(ctx, "session: sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "session: swept expired sessions", "count", n)
	}
}
