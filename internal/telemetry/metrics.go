package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "examd",
		Name:      "sessions_opened_total",
		Help:      "Quiz and practice sessions issued by the access gate.",
	}, []string{"kind"})

	AttemptsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "examd",
		Name:      "attempts_recorded_total",
		Help:      "Graded attempts persisted by the scorer.",
	})

	IntegrityStrikes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "examd",
		Name:      "integrity_strikes_total",
		Help:      "Client-reported suspicious events accepted by the integrity monitor.",
	})

	SessionsInvalidated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "examd",
		Name:      "sessions_invalidated_total",
		Help:      "Sessions force-deleted after reaching the strike limit.",
	})
)
