// Package api exposes the engine over JSON HTTP. Handlers stay thin: decode,
// call a service, render; every error goes through the shared taxonomy.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/edupulse/examd/internal/domain"
	"github.com/edupulse/examd/internal/errors"
	"github.com/edupulse/examd/internal/event"
	"github.com/edupulse/examd/internal/identity"
	"github.com/edupulse/examd/internal/leaderboard"
	"github.com/edupulse/examd/internal/ledger"
	"github.com/edupulse/examd/internal/practice"
	"github.com/edupulse/examd/internal/scoring"
	"github.com/edupulse/examd/internal/session"
	"github.com/edupulse/examd/internal/verify"
)

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Tokens       *identity.TokenVerifier
	Sessions     *session.Service
	Scoring      *scoring.Service
	Ledger       *ledger.Service
	Practice     *practice.Service
	Leaderboard  *leaderboard.Service
	Redis        Redis
	PubsubPrefix string
}

type API struct {
	sessions    *session.Service
	scoring     *scoring.Service
	ledger      *ledger.Service
	practice    *practice.Service
	leaderboard *leaderboard.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		sessions:    c.Sessions,
		scoring:     c.Scoring,
		ledger:      c.Ledger,
		practice:    c.Practice,
		leaderboard: c.Leaderboard,
		redis:       c.Redis,
		prefix:      c.PubsubPrefix,
	}

	g := c.Engine.Group("/api")
	g.Use(BearerAuth(c.Tokens))

	g.POST("/quizzes/:quizID/sessions", a.openSession)
	g.GET("/quizzes/:quizID/history", a.history)
	g.GET("/quizzes/:quizID/leaderboard", a.rank)

	g.POST("/sessions/:sessionID/verify", a.verifyAnswer)
	g.POST("/sessions/:sessionID/submit", a.submit)
	g.POST("/sessions/:sessionID/strikes", a.recordStrike)
	g.DELETE("/sessions/:sessionID", a.exitSession)

	g.GET("/mistakes", a.listMistakes)
	g.DELETE("/mistakes/:mistakeID", a.resolveMistake)
	g.GET("/bookmarks", a.listBookmarks)
	g.DELETE("/bookmarks/:bookmarkID", a.removeBookmark)

	g.POST("/practice/sessions", a.buildPractice)

	g.GET("/attempts/:attemptID", a.attemptDetail)

	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

type openSessionRequest struct {
	HumanProof string `json:"human_proof"`
}

type sessionPayload struct {
	SessionID string                  `json:"session_id"`
	Questions []domain.ClientQuestion `json:"questions"`
	Deadline  time.Time               `json:"deadline"`
	Resumed   bool                    `json:"resumed,omitempty"`
}

func (a *API) openSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, badPayload(err))
		return
	}

	caller := callerIdentity(c)
	resp, err := a.sessions.Open(c.Request.Context(), session.OpenRequest{
		UserID:     caller.UserID,
		QuizID:     c.Param("quizID"),
		ProofToken: req.HumanProof,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sessionPayload{
		SessionID: resp.Session.SessionID,
		Questions: resp.Questions,
		Deadline:  resp.Session.Deadline,
		Resumed:   resp.Resumed,
	})
}

type verifyRequest struct {
	Index    int `json:"index"`
	Selected int `json:"selected"`
}

func (a *API) verifyAnswer(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, badPayload(err))
		return
	}

	caller := callerIdentity(c)
	verdict, err := a.practice.CheckAnswer(c.Request.Context(), verify.Request{
		SessionID: c.Param("sessionID"),
		UserID:    caller.UserID,
		Index:     req.Index,
		Selected:  req.Selected,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, verdict)
}

type submitRequest struct {
	Responses     []domain.AttemptResponse `json:"responses"`
	AutoSubmitted bool                     `json:"auto_submitted"`
}

func (a *API) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, badPayload(err))
		return
	}

	caller := callerIdentity(c)
	resp, err := a.scoring.Submit(c.Request.Context(), scoring.SubmitRequest{
		SessionID:     c.Param("sessionID"),
		UserID:        caller.UserID,
		UserName:      caller.Name,
		Responses:     req.Responses,
		AutoSubmitted: req.AutoSubmitted,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a *API) recordStrike(c *gin.Context) {
	caller := callerIdentity(c)
	res, err := a.sessions.RecordStrike(c.Request.Context(), c.Param("sessionID"), caller.UserID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"strikes":     res.Strikes,
		"limit":       res.Limit,
		"invalidated": res.Invalidated,
	})
}

func (a *API) exitSession(c *gin.Context) {
	caller := callerIdentity(c)
	if err := a.sessions.Exit(c.Request.Context(), c.Param("sessionID"), caller.UserID); err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) listMistakes(c *gin.Context) {
	var filter ledger.MistakeFilter
	if c.Query("filter") == "latest" {
		filter.LatestSets = 5
		if n, err := strconv.Atoi(c.Query("sets")); err == nil && n > 0 {
			filter.LatestSets = n
		}
	}

	caller := callerIdentity(c)
	mistakes, err := a.ledger.ListMistakes(c.Request.Context(), caller.UserID, filter)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": mistakePayloads(mistakes)})
}

func (a *API) resolveMistake(c *gin.Context) {
	caller := callerIdentity(c)
	if err := a.ledger.ResolveMistake(c.Request.Context(), caller.UserID, c.Param("mistakeID")); err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) listBookmarks(c *gin.Context) {
	caller := callerIdentity(c)
	bookmarks, err := a.ledger.ListBookmarks(c.Request.Context(), caller.UserID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": bookmarkPayloads(bookmarks)})
}

func (a *API) removeBookmark(c *gin.Context) {
	caller := callerIdentity(c)
	if err := a.ledger.RemoveBookmark(c.Request.Context(), caller.UserID, c.Param("bookmarkID")); err != nil {
		renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type buildPracticeRequest struct {
	Source  string           `json:"source"`
	UnitTag string           `json:"unit_tag"`
	Marks   *decimal.Decimal `json:"marks"`
	Count   int              `json:"count"`
}

func (a *API) buildPractice(c *gin.Context) {
	var req buildPracticeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, badPayload(err))
		return
	}

	source := practice.Source(req.Source)
	switch source {
	case practice.SourceMistakes, practice.SourceBookmarks, practice.SourceBoth:
	case "":
		source = practice.SourceMistakes
	default:
		renderError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonValidation),
			errors.WithMessagef("unknown practice source: %s", req.Source),
		))
		return
	}

	caller := callerIdentity(c)
	resp, err := a.practice.Build(c.Request.Context(), practice.BuildRequest{
		UserID:  caller.UserID,
		Source:  source,
		UnitTag: req.UnitTag,
		Marks:   req.Marks,
		Count:   req.Count,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sessionPayload{
		SessionID: resp.Session.SessionID,
		Questions: resp.Questions,
		Deadline:  resp.Session.Deadline,
	})
}

func (a *API) attemptDetail(c *gin.Context) {
	caller := callerIdentity(c)
	att, err := a.scoring.AttemptDetail(c.Request.Context(), c.Param("attemptID"), caller.UserID)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, attemptPayload(att, true))
}

func (a *API) history(c *gin.Context) {
	caller := callerIdentity(c)
	resp, err := a.scoring.History(c.Request.Context(), caller.UserID, c.Param("quizID"))
	if err != nil {
		renderError(c, err)
		return
	}

	attempts := make([]gin.H, 0, len(resp.Attempts))
	for i := range resp.Attempts {
		attempts = append(attempts, attemptPayload(&resp.Attempts[i], false))
	}

	out := gin.H{"attempts": attempts}
	if resp.PersonalBest != nil {
		out["personal_best"] = attemptPayload(resp.PersonalBest, false)
	}

	c.JSON(http.StatusOK, out)
}

func (a *API) rank(c *gin.Context) {
	l, err := a.leaderboard.Rank(c.Request.Context(), c.Param("quizID"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"quiz_id": l.QuizID,
		"entries": l.Entries,
	})
}

func attemptPayload(att *domain.Attempt, withSnapshot bool) gin.H {
	out := gin.H{
		"attempt_id":         att.AttemptID,
		"quiz_id":            att.QuizID,
		"attempt_number":     att.AttemptNumber,
		"score":              att.Score,
		"total_questions":    att.TotalQuestions,
		"correct_count":      att.CorrectCount,
		"incorrect_count":    att.IncorrectCount,
		"total_time_seconds": att.TotalTimeSeconds,
		"created_at":         att.CreatedAt,
	}
	if withSnapshot {
		out["responses"] = att.Responses
		out["by_unit"] = att.ByUnit
		out["by_chapter"] = att.ByChapter
	}
	return out
}

func mistakePayloads(mistakes []domain.MistakeRecord) []gin.H {
	out := make([]gin.H, 0, len(mistakes))
	for _, m := range mistakes {
		out = append(out, gin.H{
			"mistake_id":      m.MistakeID,
			"quiz_id":         m.QuizID,
			"index":           m.Index,
			"marks":           m.Marks,
			"unit_tag":        m.UnitTag,
			"incorrect_count": m.IncorrectCount,
			"updated_at":      m.UpdatedAt,
		})
	}
	return out
}

func bookmarkPayloads(bookmarks []domain.BookmarkRecord) []gin.H {
	out := make([]gin.H, 0, len(bookmarks))
	for _, b := range bookmarks {
		out = append(out, gin.H{
			"bookmark_id": b.BookmarkID,
			"quiz_id":     b.QuizID,
			"index":       b.Index,
			"marks":       b.Marks,
			"unit_tag":    b.UnitTag,
			"created_at":  b.CreatedAt,
		})
	}
	return out
}

func badPayload(err error) error {
	return errors.New(errors.CodeInvalidArgument,
		errors.WithReason(errors.ReasonValidation),
		errors.WithMessagef("malformed request payload"),
		errors.WithCause(err),
	)
}

func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e})
}
