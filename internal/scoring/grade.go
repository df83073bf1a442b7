package scoring

import (
	"github.com/shopspring/decimal"

	"github.com/edupulse/examd/internal/domain"
	"github.com/edupulse/examd/internal/errors"
	"github.com/edupulse/examd/internal/verify"
)

// ExpandResponses turns the client's sparse response list into a dense list
// covering every question in the definition, in index order. Questions the
// client never mentioned are unattempted. A duplicate index, an out-of-range
// index, or an out-of-range selection fails the whole payload.
func ExpandResponses(def *domain.QuizDefinition, responses []domain.AttemptResponse) ([]domain.AttemptResponse, error) {
	dense := make([]domain.AttemptResponse, len(def.Questions))
	for i := range dense {
		dense[i] = domain.AttemptResponse{Index: i, Selected: domain.Unattempted}
	}

	seen := make(map[int]bool, len(responses))
	for _, r := range responses {
		if r.Index < 0 || r.Index >= len(def.Questions) {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithReason(errors.ReasonValidation),
				errors.WithMessagef("response index %d out of range", r.Index),
			)
		}
		if seen[r.Index] {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithReason(errors.ReasonValidation),
				errors.WithMessagef("duplicate response for question %d", r.Index),
			)
		}
		seen[r.Index] = true

		if r.Selected != domain.Unattempted &&
			(r.Selected < 0 || r.Selected >= len(def.Questions[r.Index].Options)) {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithReason(errors.ReasonValidation),
				errors.WithMessagef("selected option %d out of range for question %d", r.Selected, r.Index),
			)
		}

		dense[r.Index] = r
	}

	return dense, nil
}

// AttemptedCount counts non-empty responses in a dense list.
func AttemptedCount(dense []domain.AttemptResponse) int {
	n := 0
	for _, r := range dense {
		if r.Selected != domain.Unattempted {
			n++
		}
	}
	return n
}

// Tally is the authoritative grading result over a full dense response list.
type Tally struct {
	Score          decimal.Decimal
	CorrectCount   int
	IncorrectCount int
	TotalTime      int
	Snapshots      []domain.ResponseSnapshot
}

// GradeAll grades every question through verify.Grade: +marks when correct,
// -negativeMarking when incorrect (fixed per-quiz penalty, deliberately not
// scaled by the question's own marks), 0 when unattempted. Selections arrive
// in display space; snapshots store everything in canonical space, since the
// session and its orderings are gone once the attempt is read back.
func GradeAll(def *domain.QuizDefinition, orders map[int][]int, dense []domain.AttemptResponse) Tally {
	t := Tally{Score: decimal.Zero, Snapshots: make([]domain.ResponseSnapshot, 0, len(dense))}

	for i, q := range def.Questions {
		r := dense[i]
		attempted := r.Selected != domain.Unattempted

		correct := false
		canonical := domain.Unattempted
		if attempted {
			correct, _ = verify.Grade(&q, orders[i], r.Selected)
			canonical = r.Selected
			if perm, ok := orders[i]; ok && r.Selected >= 0 && r.Selected < len(perm) {
				canonical = perm[r.Selected]
			}
		}

		switch {
		case correct:
			t.Score = t.Score.Add(q.Marks)
			t.CorrectCount++
		case attempted:
			t.Score = t.Score.Sub(def.NegativeMarking)
			t.IncorrectCount++
		}
		t.TotalTime += r.TimeSpentSeconds

		t.Snapshots = append(t.Snapshots, domain.ResponseSnapshot{
			Index:            q.Index,
			Text:             q.Text,
			ImageURL:         q.ImageURL,
			Options:          q.Options,
			Selected:         canonical,
			CorrectOption:    q.CorrectOption,
			Attempted:        attempted,
			Correct:          correct,
			Marks:            q.Marks,
			Explanation:      q.Explanation,
			UnitTag:          q.UnitTag,
			ChapterTag:       q.ChapterTag,
			Bookmarked:       r.Bookmarked,
			TimeSpentSeconds: r.TimeSpentSeconds,
		})
	}

	return t
}

// BreakdownBy folds graded snapshots into per-tag totals, keeping tags in
// first-appearance order.
func BreakdownBy(snapshots []domain.ResponseSnapshot, tag func(domain.ResponseSnapshot) string) []domain.TagBreakdown {
	index := make(map[string]int)
	var out []domain.TagBreakdown

	for _, s := range snapshots {
		name := tag(s)
		if name == "" {
			continue
		}

		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, domain.TagBreakdown{Tag: name})
		}

		out[i].Total++
		if s.Attempted {
			out[i].Attempted++
			if s.Correct {
				out[i].Correct++
			} else {
				out[i].Wrong++
			}
		}
	}

	return out
}
