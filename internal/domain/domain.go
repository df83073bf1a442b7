package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type QuizMode string

const (
	ModeStandard QuizMode = "STANDARD"
	// ModeLive is a scheduled exam with a fixed start/end window and a single
	// allowed attempt per user.
	ModeLive QuizMode = "LIVE"
)

// QuizDefinition is the authored quiz. Authoring happens outside the engine;
// the engine only reads definitions.
type QuizDefinition struct {
	QuizID           string
	CollectionID     string
	Title            string
	TimeLimitMinutes int
	// NegativeMarking is the fixed penalty per incorrect attempted question,
	// not scaled by the question's own marks.
	NegativeMarking decimal.Decimal
	Mode            QuizMode
	StartTime       *time.Time
	EndTime         *time.Time
	Questions       []Question
}

// Question indexes are 0-based and contiguous within a quiz. CorrectOption and
// Explanation must never reach a client except through the answer verifier,
// after a selection has been submitted.
type Question struct {
	Index         int
	Text          string
	ImageURL      string
	Options       []string
	CorrectOption int
	Marks         decimal.Decimal
	Explanation   string
	UnitTag       string
	ChapterTag    string
}

// ClientQuestion is the sanitized question payload served to clients. It
// deliberately has no field for the correct option or the explanation.
type ClientQuestion struct {
	Index      int             `json:"index"`
	Text       string          `json:"text"`
	ImageURL   string          `json:"image_url,omitempty"`
	Options    []string        `json:"options"`
	Marks      decimal.Decimal `json:"marks"`
	UnitTag    string          `json:"unit_tag,omitempty"`
	ChapterTag string          `json:"chapter_tag,omitempty"`
}

type SessionKind string

const (
	KindQuiz     SessionKind = "quiz"
	KindPractice SessionKind = "practice"
)

// QuestionRef points a session slot at a canonical question. MistakeID is set
// when the slot was sourced from the mistake ledger, so a correct practice
// answer can resolve the backing record.
type QuestionRef struct {
	QuizID    string `json:"quiz_id"`
	Index     int    `json:"index"`
	MistakeID string `json:"mistake_id,omitempty"`
}

// QuizSession is single-use: deleted on submission, on integrity violation,
// on explicit exit, or reclaimed after expiry.
type QuizSession struct {
	SessionID string
	UserID    string
	// QuizID is empty for practice sessions; the per-slot refs carry the
	// originating quiz of each question.
	QuizID    string
	Kind      SessionKind
	Questions []QuestionRef
	// OptionOrders maps a session slot to its option permutation: the option
	// shown at display position i is the canonical option OptionOrders[slot][i].
	// A missing entry means options are served in canonical order.
	OptionOrders map[int][]int
	Strikes      int
	CreatedAt    time.Time
	Deadline     time.Time
}

// Expired reports whether the session deadline has passed at the given time.
func (s *QuizSession) Expired(now time.Time) bool {
	return now.After(s.Deadline)
}

// AttemptResponse is one client-submitted answer. Selected == -1 means the
// question was left unattempted.
type AttemptResponse struct {
	Index            int  `json:"index"`
	Selected         int  `json:"selected"`
	Bookmarked       bool `json:"bookmarked"`
	TimeSpentSeconds int  `json:"time_spent_seconds"`
}

const Unattempted = -1

// ResponseSnapshot is one graded question inside an attempt, with the display
// fields denormalized in so attempt read-back needs no quiz lookup. It only
// ever exists server-side after grading, so carrying the correct option and
// explanation here does not leak them.
type ResponseSnapshot struct {
	Index            int             `json:"index"`
	Text             string          `json:"text"`
	ImageURL         string          `json:"image_url,omitempty"`
	Options          []string        `json:"options"`
	Selected         int             `json:"selected"`
	CorrectOption    int             `json:"correct_option"`
	Attempted        bool            `json:"attempted"`
	Correct          bool            `json:"correct"`
	Marks            decimal.Decimal `json:"marks"`
	Explanation      string          `json:"explanation,omitempty"`
	UnitTag          string          `json:"unit_tag,omitempty"`
	ChapterTag       string          `json:"chapter_tag,omitempty"`
	Bookmarked       bool            `json:"bookmarked"`
	TimeSpentSeconds int             `json:"time_spent_seconds"`
}

// TagBreakdown aggregates graded responses sharing one unit or chapter tag.
type TagBreakdown struct {
	Tag       string `json:"tag"`
	Total     int    `json:"total"`
	Attempted int    `json:"attempted"`
	Correct   int    `json:"correct"`
	Wrong     int    `json:"wrong"`
}

// Attempt is immutable after creation. AttemptNumber is 1-based per
// (user, quiz) and assigned at write time.
type Attempt struct {
	AttemptID        string
	UserID           string
	UserName         string
	QuizID           string
	CollectionID     string
	AttemptNumber    int
	Score            decimal.Decimal
	TotalQuestions   int
	CorrectCount     int
	IncorrectCount   int
	TotalTimeSeconds int
	Responses        []ResponseSnapshot
	ByUnit           []TagBreakdown
	ByChapter        []TagBreakdown
	CreatedAt        time.Time
}

// MistakeRecord is unique per (user, quiz, question index). BatchID is the id
// of the attempt that last recorded this mistake, which is what the
// "latest N sets" listing groups by.
type MistakeRecord struct {
	MistakeID      string
	UserID         string
	QuizID         string
	Index          int
	Marks          decimal.Decimal
	UnitTag        string
	IncorrectCount int
	BatchID        string
	UpdatedAt      time.Time
}

// BookmarkRecord is unique per (user, quiz, question index), independent of
// correctness.
type BookmarkRecord struct {
	BookmarkID string
	UserID     string
	QuizID     string
	Index      int
	Marks      decimal.Decimal
	UnitTag    string
	CreatedAt  time.Time
}

// Leaderboard ranks one quiz's attempts: best attempt per user, score
// descending, total time ascending. Derived on read, never stored.
type Leaderboard struct {
	QuizID  string
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	Rank             int             `json:"rank"`
	UserName         string          `json:"user_name"`
	Score            decimal.Decimal `json:"score"`
	TotalTimeSeconds int             `json:"total_time_seconds"`
}
