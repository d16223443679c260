package mfakit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricTOTPSuccess)

	if got := m.Value(MetricTOTPSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricTOTPSuccess)
	m.Inc(MetricTOTPSuccess)
	m.Inc(MetricTOTPSuccess)

	if got := m.Value(MetricTOTPSuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricWebAuthnSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricWebAuthnSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricVerifyLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricVerifyLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}

	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricTOTPSuccess)
	m.Inc(MetricTOTPFailure)
	m.Inc(MetricTOTPFailure)
	m.Observe(MetricVerifyLatency, 2*time.Millisecond)

	snap := m.Snapshot()

	if snap.Counters[MetricTOTPSuccess] != 1 {
		t.Fatalf("expected MetricTOTPSuccess=1 got %d", snap.Counters[MetricTOTPSuccess])
	}
	if snap.Counters[MetricTOTPFailure] != 2 {
		t.Fatalf("expected MetricTOTPFailure=2 got %d", snap.Counters[MetricTOTPFailure])
	}
	if len(snap.Histograms[MetricVerifyLatency]) != 8 {
		t.Fatalf("expected histogram length 8")
	}
	if snap.Histograms[MetricVerifyLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricVerifyLatency][0])
	}
}

func TestEngineVerifyLatencyObserved(t *testing.T) {
	cfg := factorTestConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	engine, _, clk, done := newFactorEngine(t, cfg)
	defer done()

	secret, _ := enrollTOTP(t, engine, clk, "u1")
	clk.Advance(30 * time.Second)

	code := codeAt(t, secret, clk.Now(), 30, 0)
	if _, err := engine.VerifyTOTP(context.Background(), "u1", code); err != nil {
		t.Fatalf("VerifyTOTP failed: %v", err)
	}

	snap := engine.MetricsSnapshot()
	var total uint64
	for _, v := range snap.Histograms[MetricVerifyLatency] {
		total += v
	}
	if total != 1 {
		t.Fatalf("expected 1 latency observation, got %d", total)
	}
}
