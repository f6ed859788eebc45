package otel

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	studio "github.com/liestudio/studio"
)

type fakeSource struct {
	mu       sync.RWMutex
	counters map[studio.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() studio.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := studio.MetricsSnapshot{
		Counters:   make(map[studio.MetricID]uint64, len(f.counters)),
		Histograms: map[studio.MetricID][]uint64{},
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	if f.latency != nil {
		out.Histograms[studio.MetricCallLatency] = append([]uint64(nil), f.latency...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterObservesSnapshot(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		counters: map[studio.MetricID]uint64{
			studio.MetricLoginSuccess: 3,
			studio.MetricSessionLost:  1,
		},
		latency: []uint64{1, 2, 0, 0, 0, 0, 0, 4},
		dropped: 2,
	}

	exp, err := NewOTelExporter(provider.Meter("liestudio-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporter: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}()

	got := collect(t, reader)
	for name, want := range map[string]int64{
		"liestudio_login_success_total":                  3,
		"liestudio_session_lost_total":                   1,
		"liestudio_logout_total":                         0,
		"liestudio_call_latency_seconds_bucket_le_0_005": 1,
		"liestudio_call_latency_seconds_bucket_le_0_01":  3,
		"liestudio_call_latency_seconds_bucket_le_inf":   7,
		"liestudio_call_latency_seconds_count":           7,
		"liestudio_login_latency_seconds_count":          0,
		"liestudio_audit_dropped_total":                  2,
	} {
		v, ok := got[name]
		if !ok {
			t.Fatalf("metric %s not collected", name)
		}
		if v != want {
			t.Fatalf("%s = %d, want %d", name, v, want)
		}
	}
}

func TestExporterFollowsSource(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{counters: map[studio.MetricID]uint64{}}
	exp, err := NewOTelExporter(provider.Meter("liestudio-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporter: %v", err)
	}
	defer exp.Close()

	if got := collect(t, reader)["liestudio_logout_total"]; got != 0 {
		t.Fatalf("expected 0 logouts, got %d", got)
	}
	src.mu.Lock()
	src.counters[studio.MetricLogout] = 5
	src.mu.Unlock()
	if got := collect(t, reader)["liestudio_logout_total"]; got != 5 {
		t.Fatalf("expected 5 logouts, got %d", got)
	}
}

func TestNewServerExporterReadsMetrics(t *testing.T) {
	reader, provider := newReader()
	m := studio.NewMetrics(studio.MetricsConfig{Enabled: true})
	m.Inc(studio.MetricSessionCreated)
	m.Inc(studio.MetricSessionCreated)

	exp, err := NewServerExporter(provider.Meter("liestudio-test"), m, nil)
	if err != nil {
		t.Fatalf("NewServerExporter: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	if got["liestudio_session_created_total"] != 2 {
		t.Fatalf("expected 2 sessions created, got %d", got["liestudio_session_created_total"])
	}
	if got["liestudio_audit_dropped_total"] != 0 {
		t.Fatalf("expected no dropped audit events, got %d", got["liestudio_audit_dropped_total"])
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("liestudio-test")

	if _, err := NewOTelExporter(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewOTelExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewServerExporter(meter, nil, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{counters: map[studio.MetricID]uint64{}, latency: []uint64{1}}
	exp, err := NewOTelExporter(provider.Meter("liestudio-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporter: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[studio.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

func TestCloseNilExporter(t *testing.T) {
	var e *OTelExporter
	if err := e.Close(); err != nil {
		t.Fatalf("close nil: %v", err)
	}
}
