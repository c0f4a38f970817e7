package core

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherFamilies(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, fam := range families {
		byName[fam.GetName()] = fam
	}
	return byName
}

func labelValue(metric *dto.Metric, name string) string {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func TestPrometheusMetricsRecorderObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()

	rec.Observe(ctx, opRegisterBlood, true, 15*time.Millisecond)
	rec.Observe(ctx, opRegisterBlood, true, 5*time.Millisecond)
	rec.Observe(ctx, opAllocateBlood, false, 2*time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond) // skipped

	families := gatherFamilies(t, reg)

	counters, ok := families["hemoledger_operations_total"]
	if !ok {
		t.Fatalf("missing operations counter family, got %v", families)
	}
	counts := map[string]float64{}
	for _, metric := range counters.GetMetric() {
		key := labelValue(metric, "operation") + "/" + labelValue(metric, "status")
		counts[key] = metric.GetCounter().GetValue()
	}
	if counts[opRegisterBlood+"/success"] != 2 {
		t.Fatalf("expected 2 register_blood successes, got %v", counts)
	}
	if counts[opAllocateBlood+"/error"] != 1 {
		t.Fatalf("expected 1 allocate_blood error, got %v", counts)
	}
	if len(counts) != 2 {
		t.Fatalf("empty operation must not produce a series, got %v", counts)
	}

	histograms, ok := families["hemoledger_operation_duration_seconds"]
	if !ok {
		t.Fatalf("missing duration histogram family, got %v", families)
	}
	samples := map[string]uint64{}
	for _, metric := range histograms.GetMetric() {
		samples[labelValue(metric, "operation")] = metric.GetHistogram().GetSampleCount()
	}
	if samples[opRegisterBlood] != 2 || samples[opAllocateBlood] != 1 {
		t.Fatalf("unexpected histogram sample counts %v", samples)
	}
}

func TestNewPrometheusMetricsRecorderDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusMetricsRecorder(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestPrometheusMetricsRecorderDrivesService(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	svc := NewInMemoryService(NewDefaultRulesEngine(), WithMetricsRecorder(rec))
	ctx := context.Background()
	if _, _, err := svc.Initialize(ctx, testAdmin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, _, err := svc.Initialize(ctx, testAdmin); err == nil {
		t.Fatalf("expected repeat initialize to fail")
	}

	families := gatherFamilies(t, reg)
	counters := families["hemoledger_operations_total"]
	if counters == nil {
		t.Fatalf("missing operations counter family")
	}
	var success, failure bool
	for _, metric := range counters.GetMetric() {
		if labelValue(metric, "operation") != opInitialize {
			continue
		}
		switch labelValue(metric, "status") {
		case "success":
			success = metric.GetCounter().GetValue() == 1
		case "error":
			failure = metric.GetCounter().GetValue() == 1
		}
	}
	if !success || !failure {
		t.Fatalf("expected one success and one error sample for initialize")
	}
}
