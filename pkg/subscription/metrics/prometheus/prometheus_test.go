package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

var _ subscription.Metrics = (*Metrics)(nil)

func TestPrometheusMetrics_NewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestPrometheusMetrics_RecordReconciliation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordReconciliation("customer.subscription.updated", "applied")
	metrics.RecordReconciliation("customer.subscription.updated", "applied")
	metrics.RecordReconciliation("invoice.payment_failed", "logged")

	got := testutil.ToFloat64(metrics.reconciliationsTotal.WithLabelValues("customer.subscription.updated", "applied"))
	if got != 2 {
		t.Errorf("applied count = %v, want 2", got)
	}
	got = testutil.ToFloat64(metrics.reconciliationsTotal.WithLabelValues("invoice.payment_failed", "logged"))
	if got != 1 {
		t.Errorf("logged count = %v, want 1", got)
	}
}

func TestPrometheusMetrics_RecordStoreOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStoreOperation("update_by_customer_id", 10*time.Millisecond, nil)
	metrics.RecordStoreOperation("update_by_customer_id", 20*time.Millisecond, errors.New("down"))

	if got := testutil.ToFloat64(metrics.storeOpsErrors.WithLabelValues("update_by_customer_id")); got != 1 {
		t.Errorf("store errors = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var histogram *dto.Histogram
	for _, mf := range families {
		if mf.GetName() == "test_subscription_store_operation_duration_seconds" {
			histogram = mf.GetMetric()[0].GetHistogram()
		}
	}
	if histogram == nil {
		t.Fatal("store duration histogram not registered")
	}
	if histogram.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", histogram.GetSampleCount())
	}
}

func TestPrometheusMetrics_StatusAndCircuitBreaker(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStatusTransition("active")
	metrics.RecordStatusTransition("cancelled")
	metrics.RecordCircuitBreakerStateChange("open")
	metrics.RecordReconcileDuration("checkout.session.completed", 5*time.Millisecond)

	if got := testutil.ToFloat64(metrics.statusTransitionsTotal.WithLabelValues("active")); got != 1 {
		t.Errorf("active writes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.circuitBreakerStateChanges.WithLabelValues("open")); got != 1 {
		t.Errorf("open transitions = %v, want 1", got)
	}
}
