package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should tolerate duplicates: %v", err)
	}
}

func TestObserveCrashNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(crashesTotal.WithLabelValues(OutcomeNoAction))
	ObserveCrash(-time.Second, "unexpected")
	after := testutil.ToFloat64(crashesTotal.WithLabelValues(OutcomeNoAction))
	if after-before != 1 {
		t.Fatalf("expected unknown outcome to count as no_action, delta %v", after-before)
	}
}

func TestObserveCounters(t *testing.T) {
	before := testutil.ToFloat64(fastCrashRollbacksTotal)
	ObserveFastCrashRollback()
	if got := testutil.ToFloat64(fastCrashRollbacksTotal) - before; got != 1 {
		t.Fatalf("expected rollback counter to increase by 1, got %v", got)
	}

	ObserveHookFramework("hook-framework-confirmed")
	if got := testutil.ToFloat64(hookFrameworkTotal.WithLabelValues("hook-framework-confirmed")); got < 1 {
		t.Fatalf("expected hook framework counter, got %v", got)
	}

	ObserveInternalFailure("fast_crash")
	if got := testutil.ToFloat64(internalFailuresTotal.WithLabelValues("fast_crash")); got < 1 {
		t.Fatalf("expected internal failure counter, got %v", got)
	}
}
