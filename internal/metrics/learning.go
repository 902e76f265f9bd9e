package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initLearningMetrics(cfg Config) {
	m.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "penny_turns_total",
			Help: "Conversation turns processed by the learning manager, by classified state",
		},
		[]string{"state"},
	)

	m.turnLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "penny_turn_learning_seconds",
			Help:    "Wall-clock time spent learning from one turn",
			Buckets: cfg.TurnLatencyBuckets,
		},
	)

	m.learnerWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "penny_learner_writes_total",
			Help: "Learner writes applied, by learner",
		},
		[]string{"learner"},
	)

	m.budgetSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "penny_budget_skipped_writes_total",
			Help: "Learner writes skipped because the turn budget was exhausted, by reason",
		},
		[]string{"reason"},
	)

	m.stepErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "penny_learning_step_errors_total",
			Help: "Learning steps that failed and were isolated from the turn, by step",
		},
		[]string{"step"},
	)

	m.quarantineEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "penny_quarantine_events_total",
			Help: "Quarantine transitions (staged, promoted, expired, released), by association kind",
		},
		[]string{"kind", "event"},
	)

	m.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "penny_cache_lookups_total",
			Help: "Hot-path cache lookups, by cache and result",
		},
		[]string{"cache", "result"},
	)

	m.associations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "penny_associations",
			Help: "Stored associations per learner, refreshed on stats collection",
		},
		[]string{"learner"},
	)

	m.registry.MustRegister(m.turns)
	m.registry.MustRegister(m.turnLatency)
	m.registry.MustRegister(m.learnerWrites)
	m.registry.MustRegister(m.budgetSkips)
	m.registry.MustRegister(m.stepErrors)
	m.registry.MustRegister(m.quarantineEvents)
	m.registry.MustRegister(m.cacheLookups)
	m.registry.MustRegister(m.associations)
}

func (m *Manager) RecordTurn(state string, latency time.Duration) {
	if !m.Enabled() {
		return
	}
	m.turns.WithLabelValues(state).Inc()
	m.turnLatency.Observe(latency.Seconds())
}

func (m *Manager) RecordLearnerWrite(learner string) {
	if !m.Enabled() {
		return
	}
	m.learnerWrites.WithLabelValues(learner).Inc()
}

func (m *Manager) RecordBudgetSkip(reason string, skipped int) {
	if !m.Enabled() || skipped <= 0 {
		return
	}
	m.budgetSkips.WithLabelValues(reason).Add(float64(skipped))
}

func (m *Manager) RecordStepError(step string) {
	if !m.Enabled() {
		return
	}
	m.stepErrors.WithLabelValues(step).Inc()
}

func (m *Manager) RecordQuarantineEvent(kind, event string, n int) {
	if !m.Enabled() || n <= 0 {
		return
	}
	m.quarantineEvents.WithLabelValues(kind, event).Add(float64(n))
}

func (m *Manager) RecordCacheLookup(cache string, hit bool) {
	if !m.Enabled() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Manager) SetAssociations(learner string, n int) {
	if !m.Enabled() {
		return
	}
	m.associations.WithLabelValues(learner).Set(float64(n))
}
