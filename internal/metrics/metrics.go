package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeNoAction labels crashes that required no mitigation.
	OutcomeNoAction = "no_action"
	// OutcomeMitigated labels crashes that triggered at least one mitigation.
	OutcomeMitigated = "mitigated"
)

var (
	crashesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crashguard",
			Name:      "crashes_total",
			Help:      "Total number of crashes handled by the guard, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	fastCrashRollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crashguard",
			Name:      "fast_crash_rollbacks_total",
			Help:      "Patches rolled back because they crashed repeatedly right after start.",
		},
	)

	hookFrameworkTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crashguard",
			Name:      "hook_framework_total",
			Help:      "Crashes attributed to a runtime hooking framework, partitioned by reason.",
		},
		[]string{"reason"},
	)

	internalFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crashguard",
			Name:      "internal_failures_total",
			Help:      "Failures swallowed inside the guard, partitioned by stage.",
		},
		[]string{"stage"},
	)

	handleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "crashguard",
			Name:      "handle_seconds",
			Help:      "Time spent deciding and mitigating a crash, excluding forwarding.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)
)

// Register attaches crashguard collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		crashesTotal,
		fastCrashRollbacksTotal,
		hookFrameworkTotal,
		internalFailuresTotal,
		handleDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCrash records how long the guard spent on a crash and whether it mitigated anything.
func ObserveCrash(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeMitigated {
		label = OutcomeNoAction
	}
	crashesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	handleDurationSeconds.Observe(duration.Seconds())
}

// ObserveFastCrashRollback counts a rollback triggered by the fast crash limit.
func ObserveFastCrashRollback() {
	fastCrashRollbacksTotal.Inc()
}

// ObserveHookFramework counts a hook framework attribution.
func ObserveHookFramework(reason string) {
	hookFrameworkTotal.WithLabelValues(reason).Inc()
}

// ObserveInternalFailure counts a failure swallowed by the guard at stage.
func ObserveInternalFailure(stage string) {
	internalFailuresTotal.WithLabelValues(stage).Inc()
}
