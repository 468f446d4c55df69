package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/target/learnhub/config"
	"github.com/target/learnhub/internal/observability/metrics"
	"github.com/target/learnhub/internal/observability/statsd"
	"github.com/target/learnhub/internal/service"
)

// buildMetricsClient returns a StatsD client when metrics are enabled. A dial
// failure is logged and metrics stay off; it never blocks startup.
func buildMetricsClient(cfg config.MetricsConfig, logger *slog.Logger) *statsd.Client {
	if !cfg.IsEnabled() {
		return nil
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.StatsdAddress,
		Prefix:  cfg.Prefix,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		return nil
	}
	return client
}

// reportSessionGauges emits registry gauges every interval until ctx is done.
func reportSessionGauges(ctx context.Context, registry *service.SessionRegistry, sink statsd.Sink, interval time.Duration) {
	if sink == nil || registry == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := registry.Stats()
			metrics.EmitSessionGauges(sink, metrics.SessionGauges{
				Size:      st.Size,
				Capacity:  st.Capacity,
				Created:   st.Created,
				Evictions: st.Evictions,
			})
		}
	}
}
