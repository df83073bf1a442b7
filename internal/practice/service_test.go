package practice_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/edupulse/examd/internal/domain"
	"github.com/edupulse/examd/internal/errors"
	"github.com/edupulse/examd/internal/event"
	"github.com/edupulse/examd/internal/ledger"
	"github.com/edupulse/examd/internal/practice"
	"github.com/edupulse/examd/internal/quiz"
	"github.com/edupulse/examd/internal/session"
	"github.com/edupulse/examd/internal/storage"
	"github.com/edupulse/examd/internal/verify"
)

var base = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func TestService_Build(t *testing.T) {
	t.Run("should build a session from the mistake ledger", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.mistakes["m1"] = domain.MistakeRecord{MistakeID: "m1", UserID: "u1", QuizID: "q1", Index: 0, Marks: decimal.NewFromInt(1), UnitTag: "arith"}
		f.ledger.mistakes["m2"] = domain.MistakeRecord{MistakeID: "m2", UserID: "u1", QuizID: "q1", Index: 1, Marks: decimal.NewFromInt(2), UnitTag: "algebra"}

		resp, err := f.service.Build(context.Background(), practice.BuildRequest{
			UserID: "u1",
			Source: practice.SourceMistakes,
			Count:  10,
		})
		require.NoError(t, err)

		require.Equal(t, domain.KindPractice, resp.Session.Kind)
		require.Empty(t, resp.Session.QuizID)
		require.Len(t, resp.Questions, 2)
		require.Equal(t, base.Add(2*time.Minute), resp.Session.Deadline, "one minute per question")

		ids := make(map[string]bool)
		for slot, ref := range resp.Session.Questions {
			require.Equal(t, slot, resp.Questions[slot].Index, "client index is the slot")
			ids[ref.MistakeID] = true
		}
		require.Equal(t, map[string]bool{"m1": true, "m2": true}, ids)
	})

	t.Run("should filter by unit tag and marks", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.mistakes["m1"] = domain.MistakeRecord{MistakeID: "m1", UserID: "u1", QuizID: "q1", Index: 0, Marks: decimal.NewFromInt(1), UnitTag: "arith"}
		f.ledger.mistakes["m2"] = domain.MistakeRecord{MistakeID: "m2", UserID: "u1", QuizID: "q1", Index: 1, Marks: decimal.NewFromInt(2), UnitTag: "algebra"}

		resp, err := f.service.Build(context.Background(), practice.BuildRequest{
			UserID:  "u1",
			Source:  practice.SourceMistakes,
			UnitTag: "algebra",
			Count:   10,
		})
		require.NoError(t, err)
		require.Len(t, resp.Session.Questions, 1)
		require.Equal(t, "m2", resp.Session.Questions[0].MistakeID)

		one := decimal.NewFromInt(1)
		resp, err = f.service.Build(context.Background(), practice.BuildRequest{
			UserID: "u1",
			Source: practice.SourceMistakes,
			Marks:  &one,
			Count:  10,
		})
		require.NoError(t, err)
		require.Len(t, resp.Session.Questions, 1)
		require.Equal(t, "m1", resp.Session.Questions[0].MistakeID)
	})

	t.Run("should deduplicate a question present in both ledgers", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.mistakes["m1"] = domain.MistakeRecord{MistakeID: "m1", UserID: "u1", QuizID: "q1", Index: 0, Marks: decimal.NewFromInt(1)}
		f.ledger.bookmarks["b1"] = domain.BookmarkRecord{BookmarkID: "b1", UserID: "u1", QuizID: "q1", Index: 0, Marks: decimal.NewFromInt(1)}

		resp, err := f.service.Build(context.Background(), practice.BuildRequest{
			UserID: "u1",
			Source: practice.SourceBoth,
			Count:  10,
		})
		require.NoError(t, err)
		require.Len(t, resp.Session.Questions, 1)
		require.Equal(t, "m1", resp.Session.Questions[0].MistakeID, "the mistake ref wins so a correct answer can resolve it")
	})

	t.Run("should cap the pool at the requested count", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.mistakes["m1"] = domain.MistakeRecord{MistakeID: "m1", UserID: "u1", QuizID: "q1", Index: 0}
		f.ledger.mistakes["m2"] = domain.MistakeRecord{MistakeID: "m2", UserID: "u1", QuizID: "q1", Index: 1}
		f.ledger.mistakes["m3"] = domain.MistakeRecord{MistakeID: "m3", UserID: "u1", QuizID: "q1", Index: 2}

		resp, err := f.service.Build(context.Background(), practice.BuildRequest{
			UserID: "u1",
			Source: practice.SourceMistakes,
			Count:  2,
		})
		require.NoError(t, err)
		require.Len(t, resp.Session.Questions, 2)
		require.Len(t, resp.Questions, 2)
	})

	t.Run("should reject an empty pool", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.service.Build(context.Background(), practice.BuildRequest{
			UserID: "u1",
			Source: practice.SourceMistakes,
			Count:  10,
		})
		require.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
	})

	t.Run("should reject a non-positive count", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.service.Build(context.Background(), practice.BuildRequest{UserID: "u1", Source: practice.SourceMistakes})
		require.True(t, errors.IsReason(err, errors.ReasonValidation))
	})
}

func TestService_CheckAnswer(t *testing.T) {
	t.Run("should resolve the mistake on a correct answer", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.mistakes["m1"] = domain.MistakeRecord{MistakeID: "m1", UserID: "u1", QuizID: "q1", Index: 0}

		resp, err := f.service.Build(context.Background(), practice.BuildRequest{
			UserID: "u1",
			Source: practice.SourceMistakes,
			Count:  1,
		})
		require.NoError(t, err)

		// q1[0] has correct canonical option 1; map it back to display space
		selected := 1
		if perm, ok := resp.Session.OptionOrders[0]; ok {
			for display, canonical := range perm {
				if canonical == 1 {
					selected = display
					break
				}
			}
		}

		v, err := f.service.CheckAnswer(context.Background(), verify.Request{
			SessionID: resp.Session.SessionID,
			UserID:    "u1",
			Index:     0,
			Selected:  selected,
		})
		require.NoError(t, err)
		require.True(t, v.Correct)
		require.NotContains(t, f.ledger.mistakes, "m1", "a correct practice answer resolves the mistake")
	})

	t.Run("should keep the mistake on a wrong answer", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.mistakes["m1"] = domain.MistakeRecord{MistakeID: "m1", UserID: "u1", QuizID: "q1", Index: 0}

		resp, err := f.service.Build(context.Background(), practice.BuildRequest{
			UserID: "u1",
			Source: practice.SourceMistakes,
			Count:  1,
		})
		require.NoError(t, err)

		wrong := 0
		if perm, ok := resp.Session.OptionOrders[0]; ok {
			for display, canonical := range perm {
				if canonical != 1 {
					wrong = display
					break
				}
			}
		}

		v, err := f.service.CheckAnswer(context.Background(), verify.Request{
			SessionID: resp.Session.SessionID,
			UserID:    "u1",
			Index:     0,
			Selected:  wrong,
		})
		require.NoError(t, err)
		require.False(t, v.Correct)
		require.Contains(t, f.ledger.mistakes, "m1")
	})
}

type fixture struct {
	service *practice.Service
	ledger  *memLedger
}

// newFixture wires a practice service over in-memory stores and a three
// question quiz "q1" whose correct option is always 1.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	defs := map[string]*domain.QuizDefinition{
		"q1": {
			QuizID: "q1",
			Questions: []domain.Question{
				{Index: 0, Text: "2+2?", Options: []string{"3", "4", "5"}, CorrectOption: 1, Marks: decimal.NewFromInt(1), UnitTag: "arith"},
				{Index: 1, Text: "3*3?", Options: []string{"6", "9", "12"}, CorrectOption: 1, Marks: decimal.NewFromInt(2), UnitTag: "algebra"},
				{Index: 2, Text: "x+1=2, x?", Options: []string{"0", "1", "2"}, CorrectOption: 1, Marks: decimal.NewFromInt(2), UnitTag: "algebra"},
			},
		},
	}

	quizzes := quiz.NewService(quiz.Config{Store: &memQuizStore{defs: defs}})
	sessions := session.NewService(session.Config{
		Store:    &memSessionStore{sessions: make(map[string]*domain.QuizSession)},
		Quizzes:  quizzes,
		EventBus: event.NewBus(),
		Now:      func() time.Time { return base },
	})
	verifier := verify.NewService(verify.Config{
		Sessions:  sessions,
		Questions: quizzes,
		Now:       func() time.Time { return base },
	})

	lg := newMemLedger()
	svc := practice.NewService(practice.Config{
		Ledger:          ledger.NewService(ledger.Config{Store: lg}),
		Questions:       &memQuizStore{defs: defs},
		Sessions:        sessions,
		Verifier:        verifier,
		ShuffleOptions:  true,
		TimePerQuestion: time.Minute,
	})

	return &fixture{service: svc, ledger: lg}
}

type memQuizStore struct {
	defs map[string]*domain.QuizDefinition
}

func (m *memQuizStore) Quiz(ctx context.Context, quizID string) (*domain.QuizDefinition, error) {
	def, ok := m.defs[quizID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return def, nil
}

func (m *memQuizStore) Question(ctx context.Context, quizID string, index int) (*domain.Question, error) {
	def, ok := m.defs[quizID]
	if !ok || index < 0 || index >= len(def.Questions) {
		return nil, storage.ErrNotFound
	}
	q := def.Questions[index]
	return &q, nil
}

func (m *memQuizStore) Questions(ctx context.Context, refs []domain.QuestionRef) ([]domain.Question, error) {
	out := make([]domain.Question, 0, len(refs))
	for _, ref := range refs {
		q, err := m.Question(ctx, ref.QuizID, ref.Index)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, nil
}

type memLedger struct {
	mistakes  map[string]domain.MistakeRecord
	bookmarks map[string]domain.BookmarkRecord
}

func newMemLedger() *memLedger {
	return &memLedger{
		mistakes:  make(map[string]domain.MistakeRecord),
		bookmarks: make(map[string]domain.BookmarkRecord),
	}
}

func (m *memLedger) Mistakes(ctx context.Context, userID string, latestSets int) ([]domain.MistakeRecord, error) {
	var out []domain.MistakeRecord
	for _, r := range m.mistakes {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memLedger) DeleteMistake(ctx context.Context, userID, mistakeID string) error {
	r, ok := m.mistakes[mistakeID]
	if !ok || r.UserID != userID {
		return storage.ErrNotFound
	}
	delete(m.mistakes, mistakeID)
	return nil
}

func (m *memLedger) Bookmarks(ctx context.Context, userID string) ([]domain.BookmarkRecord, error) {
	var out []domain.BookmarkRecord
	for _, r := range m.bookmarks {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memLedger) DeleteBookmark(ctx context.Context, userID, bookmarkID string) error {
	r, ok := m.bookmarks[bookmarkID]
	if !ok || r.UserID != userID {
		return storage.ErrNotFound
	}
	delete(m.bookmarks, bookmarkID)
	return nil
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.QuizSession
}

func (m *memSessionStore) CreateSession(ctx context.Context, s *domain.QuizSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.SessionID] = &cp
	return nil
}

func (m *memSessionStore) Session(ctx context.Context, sessionID string) (*domain.QuizSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessionStore) SessionByUserQuiz(ctx context.Context, userID, quizID string) (*domain.QuizSession, error) {
	return nil, storage.ErrNotFound
}

func (m *memSessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *memSessionStore) AddStrike(ctx context.Context, sessionID string) (int, error) {
	return 0, storage.ErrNotFound
}

func (m *memSessionStore) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
