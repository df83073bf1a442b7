// Package practice assembles ephemeral review sessions from the mistake and
// bookmark ledgers. There is no separate grading path: practice sessions are
// materialized through the same sanitizer and session store as real quizzes,
// and per-question checks go through the same verifier.
package practice

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edupulse/examd/internal/domain"
	"github.com/edupulse/examd/internal/errors"
	"github.com/edupulse/examd/internal/ledger"
	"github.com/edupulse/examd/internal/quiz"
	"github.com/edupulse/examd/internal/session"
	"github.com/edupulse/examd/internal/verify"
)

const defaultTimePerQuestion = 90 * time.Second

type QuestionStore interface {
	Questions(ctx context.Context, refs []domain.QuestionRef) ([]domain.Question, error)
}

type Config struct {
	Ledger          *ledger.Service
	Questions       QuestionStore
	Sessions        *session.Service
	Verifier        *verify.Service
	ShuffleOptions  bool
	TimePerQuestion time.Duration
}

type Service struct {
	ledger          *ledger.Service
	questions       QuestionStore
	sessions        *session.Service
	verifier        *verify.Service
	shuffleOptions  bool
	timePerQuestion time.Duration
}

func NewService(c Config) *Service {
	if c.TimePerQuestion <= 0 {
		c.TimePerQuestion = defaultTimePerQuestion
	}

	return &Service{
		ledger:          c.Ledger,
		questions:       c.Questions,
		sessions:        c.Sessions,
		verifier:        c.Verifier,
		shuffleOptions:  c.ShuffleOptions,
		timePerQuestion: c.TimePerQuestion,
	}
}

type Source string

const (
	SourceMistakes  Source = "mistakes"
	SourceBookmarks Source = "bookmarks"
	SourceBoth      Source = "both"
)

type BuildRequest struct {
	UserID string
	Source Source
	// UnitTag, when set, keeps only questions with that unit tag.
	UnitTag string
	// Marks, when set, keeps only questions worth exactly that many marks.
	Marks *decimal.Decimal
	// Count caps the sampled pool size.
	Count int
}

type BuildResponse struct {
	Session   *domain.QuizSession
	Questions []domain.ClientQuestion
}

// Build samples a practice pool from the ledgers and materializes it as a
// session. Slots sourced from the mistake ledger carry their record's id so a
// correct answer can resolve it.
func (s *Service) Build(ctx context.Context, req BuildRequest) (*BuildResponse, error) {
	if req.Count <= 0 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonValidation),
			errors.WithMessagef("count must be positive"),
		)
	}

	refs, err := s.candidates(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no practice questions match the filters"),
		)
	}

	rand.Shuffle(len(refs), func(i, j int) { refs[i], refs[j] = refs[j], refs[i] })
	if len(refs) > req.Count {
		refs = refs[:req.Count]
	}

	questions, err := s.questions.Questions(ctx, refs)
	if err != nil {
		return nil, errors.Internal(err)
	}

	clients, orders := quiz.Sanitize(questions, s.shuffleOptions)

	timeLimit := time.Duration(len(refs)) * s.timePerQuestion
	ss, err := s.sessions.CreatePractice(ctx, req.UserID, refs, orders, timeLimit)
	if err != nil {
		return nil, err
	}

	return &BuildResponse{Session: ss, Questions: clients}, nil
}

func (s *Service) candidates(ctx context.Context, req BuildRequest) ([]domain.QuestionRef, error) {
	type key struct {
		quizID string
		index  int
	}

	var refs []domain.QuestionRef
	seen := make(map[key]bool)

	keep := func(marks decimal.Decimal, unit string) bool {
		if req.UnitTag != "" && unit != req.UnitTag {
			return false
		}
		if req.Marks != nil && !marks.Equal(*req.Marks) {
			return false
		}
		return true
	}

	if req.Source == SourceMistakes || req.Source == SourceBoth {
		mistakes, err := s.ledger.ListMistakes(ctx, req.UserID, ledger.MistakeFilter{})
		if err != nil {
			return nil, err
		}
		for _, m := range mistakes {
			if !keep(m.Marks, m.UnitTag) {
				continue
			}
			seen[key{m.QuizID, m.Index}] = true
			refs = append(refs, domain.QuestionRef{QuizID: m.QuizID, Index: m.Index, MistakeID: m.MistakeID})
		}
	}

	if req.Source == SourceBookmarks || req.Source == SourceBoth {
		bookmarks, err := s.ledger.ListBookmarks(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		for _, b := range bookmarks {
			if !keep(b.Marks, b.UnitTag) || seen[key{b.QuizID, b.Index}] {
				continue
			}
			refs = append(refs, domain.QuestionRef{QuizID: b.QuizID, Index: b.Index})
		}
	}

	return refs, nil
}

// CheckAnswer verifies one selection in any session and, when the slot came
// from the mistake ledger and the answer is correct, resolves the backing
// record. Resolution failure never hides the verdict from the user.
func (s *Service) CheckAnswer(ctx context.Context, req verify.Request) (*verify.Verdict, error) {
	verdict, err := s.verifier.Verify(ctx, req)
	if err != nil {
		return nil, err
	}

	if verdict.Correct && verdict.MistakeID != "" {
		if err := s.ledger.ResolveMistake(ctx, req.UserID, verdict.MistakeID); err != nil {
			if errors.Convert(err).Code != errors.CodeNotFound {
				slog.ErrorContext(ctx, "practice: resolve mistake failed",
					"mistake_id", verdict.MistakeID,
					"error", err,
				)
			}
		}
	}

	return verdict, nil
}
