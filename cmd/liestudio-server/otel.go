package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/liestudio/studio/metrics/export/otel"
)

// startOtel publishes the server metrics through a periodic OpenTelemetry
// reader whose exports go to the log.
func (s *server) startOtel() error {
	exporter := logExporter{log: s.log.With().Str("component", "otel").Logger()}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(
		sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(s.cfg.OtelInterval)),
	))

	exp, err := otel.NewServerExporter(provider.Meter("github.com/liestudio/studio"), s.metrics, s.audit)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return err
	}
	s.closers = append(s.closers, func() {
		_ = exp.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("otel shutdown")
		}
	})
	return nil
}

// logExporter writes each collection as one log line, skipping zero values.
type logExporter struct {
	log zerolog.Logger
}

func (logExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (logExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (e logExporter) Export(_ context.Context, rm *metricdata.ResourceMetrics) error {
	ev := e.log.Info()
	instruments := 0
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			instruments++
			var v int64
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					v += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					v += dp.Value
				}
			}
			if v != 0 {
				ev = ev.Int64(m.Name, v)
			}
		}
	}
	ev.Int("instruments", instruments).Msg("metrics")
	return nil
}

func (logExporter) ForceFlush(context.Context) error { return nil }

func (logExporter) Shutdown(context.Context) error { return nil }
