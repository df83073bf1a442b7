// Package verify is the per-question correctness oracle. It is the only path
// by which a correct option or an explanation ever reaches a client, and the
// scorer grades through the same Grade function, so there is exactly one
// source of truth for correctness.
package verify

import (
	"context"
	"time"

	"github.com/edupulse/examd/internal/domain"
	"github.com/edupulse/examd/internal/errors"
	"github.com/edupulse/examd/internal/quiz"
	"github.com/edupulse/examd/internal/session"
)

type Config struct {
	Sessions  *session.Service
	Questions *quiz.Service
	Now       func() time.Time
}

type Service struct {
	sessions  *session.Service
	questions *quiz.Service
	now       func() time.Time
}

func NewService(c Config) *Service {
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Service{
		sessions:  c.Sessions,
		questions: c.Questions,
		now:       c.Now,
	}
}

type Request struct {
	SessionID string
	UserID    string
	// Index is the question's slot within the session (equal to the original
	// index for quiz sessions, whose question order follows the definition).
	Index int
	// Selected is in display space, i.e. the option position the client saw.
	Selected int
}

type Verdict struct {
	Correct bool `json:"is_correct"`
	// CorrectOption is reported in display space so the client can highlight
	// the option it actually rendered.
	CorrectOption int    `json:"correct_option"`
	Explanation   string `json:"explanation"`

	// MistakeID is the ledger record backing this slot in a practice session,
	// never serialized to clients.
	MistakeID string `json:"-"`
}

// Verify checks one selection against the canonical question. Idempotent:
// it persists nothing, and identical calls return identical verdicts.
func (s *Service) Verify(ctx context.Context, req Request) (*Verdict, error) {
	ss, err := s.sessions.Get(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}

	if ss.Expired(s.now()) {
		return nil, errors.New(errors.CodeDeadlineExceeded,
			errors.WithReason(errors.ReasonSessionExpired),
			errors.WithMessagef("session %s deadline has passed", req.SessionID),
		)
	}

	if req.Index < 0 || req.Index >= len(ss.Questions) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonValidation),
			errors.WithMessagef("question index %d out of range", req.Index),
		)
	}
	ref := ss.Questions[req.Index]

	// The canonical question is always re-read; nothing the client holds is
	// trusted.
	q, err := s.questions.Question(ctx, ref.QuizID, ref.Index)
	if err != nil {
		return nil, err
	}

	if req.Selected < 0 || req.Selected >= len(q.Options) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonValidation),
			errors.WithMessagef("selected option %d out of range", req.Selected),
		)
	}

	correct, displayCorrect := Grade(q, ss.OptionOrders[req.Index], req.Selected)

	return &Verdict{
		Correct:       correct,
		CorrectOption: displayCorrect,
		Explanation:   q.Explanation,
		MistakeID:     ref.MistakeID,
	}, nil
}

// Grade compares a display-space selection with the canonical correct option.
// perm maps display position to canonical option; nil means canonical order.
// The returned correct option is in display space. Selected == Unattempted is
// never correct.
func Grade(q *domain.Question, perm []int, selected int) (correct bool, displayCorrect int) {
	displayCorrect = q.CorrectOption
	canonical := selected

	if len(perm) == len(q.Options) {
		if selected >= 0 && selected < len(perm) {
			canonical = perm[selected]
		}
		for display, c := range perm {
			if c == q.CorrectOption {
				displayCorrect = display
				break
			}
		}
	}

	correct = selected != domain.Unattempted && canonical == q.CorrectOption
	return correct, displayCorrect
}
