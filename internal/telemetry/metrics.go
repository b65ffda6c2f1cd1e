package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qduel_active_sessions",
		Help: "Sessions currently cached on this process.",
	})

	MatchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qduel_matches_started_total",
		Help: "Matches that transitioned to IN_PROGRESS.",
	})

	MatchesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qduel_matches_completed_total",
		Help: "Matches that reached COMPLETED.",
	})

	AnswersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qduel_answers_submitted_total",
		Help: "Scored answer submissions, duplicates excluded.",
	})

	QuestionTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qduel_question_timeouts_total",
		Help: "Question timeouts that forced an advance.",
	})
)
