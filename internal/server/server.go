package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/edupulse/examd/internal/api"
	"github.com/edupulse/examd/internal/event"
	"github.com/edupulse/examd/internal/identity"
	"github.com/edupulse/examd/internal/leaderboard"
	"github.com/edupulse/examd/internal/ledger"
	"github.com/edupulse/examd/internal/practice"
	"github.com/edupulse/examd/internal/quiz"
	"github.com/edupulse/examd/internal/scoring"
	"github.com/edupulse/examd/internal/session"
	"github.com/edupulse/examd/internal/storage"
	"github.com/edupulse/examd/internal/telemetry"
	"github.com/edupulse/examd/internal/verify"
)

type Config struct {
	HTTP struct {
		Port           int32
		AllowedOrigins []string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Auth struct {
		JWTSecret string
	}

	Engine struct {
		StrikeLimit           int
		MinAttemptFraction    float64
		ShuffleOptions        bool
		PracticeSecondsPerQ   int
		CollaboratorTimeoutMS int
		SweepIntervalSeconds  int
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	store *storage.DB

	service struct {
		quizzes     *quiz.Service
		sessions    *session.Service
		verifier    *verify.Service
		scoring     *scoring.Service
		ledger      *ledger.Service
		practice    *practice.Service
		leaderboard *leaderboard.Service
	}

	http      *http.Server
	sweepStop chan struct{}
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c, sweepStop: make(chan struct{})}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	s.store = storage.New(s.infra.postgres)
	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	collabTimeout := time.Duration(s.c.Engine.CollaboratorTimeoutMS) * time.Millisecond
	if collabTimeout <= 0 {
		collabTimeout = 2 * time.Second
	}

	s.service.quizzes = quiz.NewService(quiz.Config{
		Store: s.store,
	})

	s.service.sessions = session.NewService(session.Config{
		Store:          s.store,
		Quizzes:        s.service.quizzes,
		Attempts:       s.store,
		Proofs:         identity.NewProofChecker(s.infra.redis, s.c.Redis.Prefix, collabTimeout),
		Access:         identity.NewAccessChecker(s.store, collabTimeout),
		EventBus:       s.eb,
		StrikeLimit:    s.c.Engine.StrikeLimit,
		ShuffleOptions: s.c.Engine.ShuffleOptions,
	})

	s.service.verifier = verify.NewService(verify.Config{
		Sessions:  s.service.sessions,
		Questions: s.service.quizzes,
	})

	s.service.scoring = scoring.NewService(scoring.Config{
		Store:              s.store,
		Sessions:           s.service.sessions,
		Quizzes:            s.service.quizzes,
		EventBus:           s.eb,
		MinAttemptFraction: s.c.Engine.MinAttemptFraction,
	})

	s.service.ledger = ledger.NewService(ledger.Config{
		Store: s.store,
	})

	s.service.practice = practice.NewService(practice.Config{
		Ledger:          s.service.ledger,
		Questions:       s.store,
		Sessions:        s.service.sessions,
		Verifier:        s.service.verifier,
		ShuffleOptions:  s.c.Engine.ShuffleOptions,
		TimePerQuestion: time.Duration(s.c.Engine.PracticeSecondsPerQ) * time.Second,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Store:    s.store,
		Redis:    s.infra.redis,
		Prefix:   s.c.Redis.Prefix,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	if len(s.c.HTTP.AllowedOrigins) > 0 {
		cc := cors.DefaultConfig()
		cc.AllowOrigins = s.c.HTTP.AllowedOrigins
		cc.AllowHeaders = append(cc.AllowHeaders, "Authorization")
		e.Use(cors.New(cc))
	}

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Tokens:       identity.NewTokenVerifier(s.c.Auth.JWTSecret),
		Sessions:     s.service.sessions,
		Scoring:      s.service.scoring,
		Ledger:       s.service.ledger,
		Practice:     s.service.practice,
		Leaderboard:  s.service.leaderboard,
		Redis:        s.infra.redis,
		PubsubPrefix: s.c.Redis.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		s.runSweep(ctx)
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

// runSweep reclaims long-expired sessions. Purely operational; session
// validity is re-checked on every read regardless.
func (s *Server) runSweep(ctx context.Context) {
	interval := time.Duration(s.c.Engine.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			s.service.sessions.Sweep(ctx)
		case <-s.sweepStop:
			return
		}
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	close(s.sweepStop)

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.infra.postgres.Close()
	if err := s.infra.redis.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
