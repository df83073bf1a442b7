package scoring_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/edupulse/examd/internal/domain"
	"github.com/edupulse/examd/internal/errors"
	"github.com/edupulse/examd/internal/scoring"
)

// Two-question quiz: 1 mark + 2 marks, fixed 0.5 penalty per wrong answer.
func gradingQuiz() *domain.QuizDefinition {
	return &domain.QuizDefinition{
		QuizID:          "quiz-1",
		NegativeMarking: decimal.NewFromFloat(0.5),
		Questions: []domain.Question{
			{Index: 0, Text: "2+2?", Options: []string{"3", "4", "5"}, CorrectOption: 1, Marks: decimal.NewFromInt(1), UnitTag: "arith", ChapterTag: "ch1"},
			{Index: 1, Text: "3*3?", Options: []string{"6", "9", "12"}, CorrectOption: 1, Marks: decimal.NewFromInt(2), UnitTag: "algebra", ChapterTag: "ch1"},
		},
	}
}

func TestExpandResponses(t *testing.T) {
	def := gradingQuiz()

	t.Run("should fill unmentioned questions as unattempted", func(t *testing.T) {
		dense, err := scoring.ExpandResponses(def, []domain.AttemptResponse{
			{Index: 1, Selected: 0, TimeSpentSeconds: 30},
		})
		require.NoError(t, err)
		require.Len(t, dense, 2)
		require.Equal(t, domain.Unattempted, dense[0].Selected)
		require.Equal(t, 0, dense[1].Selected)
		require.Equal(t, 1, scoring.AttemptedCount(dense))
	})

	t.Run("should reject a duplicate index", func(t *testing.T) {
		_, err := scoring.ExpandResponses(def, []domain.AttemptResponse{
			{Index: 0, Selected: 1},
			{Index: 0, Selected: 2},
		})
		require.True(t, errors.IsReason(err, errors.ReasonValidation))
	})

	t.Run("should reject an out-of-range index", func(t *testing.T) {
		_, err := scoring.ExpandResponses(def, []domain.AttemptResponse{{Index: 7, Selected: 0}})
		require.True(t, errors.IsReason(err, errors.ReasonValidation))
	})

	t.Run("should reject an out-of-range selection", func(t *testing.T) {
		_, err := scoring.ExpandResponses(def, []domain.AttemptResponse{{Index: 0, Selected: 3}})
		require.True(t, errors.IsReason(err, errors.ReasonValidation))
	})

	t.Run("should keep an explicit unattempted response", func(t *testing.T) {
		dense, err := scoring.ExpandResponses(def, []domain.AttemptResponse{
			{Index: 0, Selected: domain.Unattempted, Bookmarked: true},
		})
		require.NoError(t, err)
		require.Equal(t, domain.Unattempted, dense[0].Selected)
		require.True(t, dense[0].Bookmarked)
	})
}

func TestGradeAll(t *testing.T) {
	def := gradingQuiz()

	t.Run("should add marks and subtract the fixed penalty", func(t *testing.T) {
		// question 0 correct (+1), question 1 wrong (-0.5): 0.5 total
		dense := []domain.AttemptResponse{
			{Index: 0, Selected: 1, TimeSpentSeconds: 20},
			{Index: 1, Selected: 0, TimeSpentSeconds: 40},
		}

		tally := scoring.GradeAll(def, nil, dense)
		require.True(t, decimal.NewFromFloat(0.5).Equal(tally.Score), "got score %s", tally.Score)
		require.Equal(t, 1, tally.CorrectCount)
		require.Equal(t, 1, tally.IncorrectCount)
		require.Equal(t, 60, tally.TotalTime)
	})

	t.Run("should not penalize unattempted questions", func(t *testing.T) {
		dense := []domain.AttemptResponse{
			{Index: 0, Selected: domain.Unattempted},
			{Index: 1, Selected: 1},
		}

		tally := scoring.GradeAll(def, nil, dense)
		require.True(t, decimal.NewFromInt(2).Equal(tally.Score))
		require.Equal(t, 1, tally.CorrectCount)
		require.Equal(t, 0, tally.IncorrectCount)
		require.False(t, tally.Snapshots[0].Attempted)
	})

	t.Run("should grade display-space selections through the option orders", func(t *testing.T) {
		// both questions shuffled so the correct canonical option 1 sits at
		// display position 2
		orders := map[int][]int{
			0: {2, 0, 1},
			1: {2, 0, 1},
		}
		dense := []domain.AttemptResponse{
			{Index: 0, Selected: 2},
			{Index: 1, Selected: 0},
		}

		tally := scoring.GradeAll(def, orders, dense)
		require.Equal(t, 1, tally.CorrectCount)
		require.Equal(t, 1, tally.IncorrectCount)

		// snapshots are stored in canonical space
		require.Equal(t, 1, tally.Snapshots[0].Selected)
		require.Equal(t, 2, tally.Snapshots[1].Selected)
		require.Equal(t, 1, tally.Snapshots[0].CorrectOption)
	})

	t.Run("should allow a negative total", func(t *testing.T) {
		dense := []domain.AttemptResponse{
			{Index: 0, Selected: 0},
			{Index: 1, Selected: 0},
		}

		tally := scoring.GradeAll(def, nil, dense)
		require.True(t, decimal.NewFromInt(-1).Equal(tally.Score), "got score %s", tally.Score)
	})
}

func TestBreakdownBy(t *testing.T) {
	def := gradingQuiz()
	dense := []domain.AttemptResponse{
		{Index: 0, Selected: 1},
		{Index: 1, Selected: 0},
	}
	tally := scoring.GradeAll(def, nil, dense)

	byUnit := scoring.BreakdownBy(tally.Snapshots, func(r domain.ResponseSnapshot) string { return r.UnitTag })
	require.Equal(t, []domain.TagBreakdown{
		{Tag: "arith", Total: 1, Attempted: 1, Correct: 1},
		{Tag: "algebra", Total: 1, Attempted: 1, Wrong: 1},
	}, byUnit)

	byChapter := scoring.BreakdownBy(tally.Snapshots, func(r domain.ResponseSnapshot) string { return r.ChapterTag })
	require.Equal(t, []domain.TagBreakdown{
		{Tag: "ch1", Total: 2, Attempted: 2, Correct: 1, Wrong: 1},
	}, byChapter)
}
