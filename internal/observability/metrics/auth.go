// Package metrics emits the auth service's metrics through a statsd.Sink.
package metrics

import (
	"time"

	domainauth "github.com/target/learnhub/internal/domain/auth"
	obserrors "github.com/target/learnhub/internal/observability/errors"
	"github.com/target/learnhub/internal/observability/statsd"
)

// Result values for the result tag.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultPartial = "partial"
)

// Operation names for the operation tag.
const (
	OpLogin           = "login"
	OpRegister        = "register"
	OpCompleteProfile = "complete_profile"
	OpLogout          = "logout"
)

// AuthMetric describes one finished auth operation.
type AuthMetric struct {
	Operation string
	Duration  time.Duration
	Err       error
}

// ResultFor derives the result tag from err.
func ResultFor(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case domainauth.KindOf(err) == domainauth.KindPartialRegistration:
		return ResultPartial
	default:
		return ResultError
	}
}

// EmitAuthAttempt counts an auth operation and records its latency.
func EmitAuthAttempt(sink statsd.Sink, in AuthMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"operation": in.Operation,
		"result":    ResultFor(in.Err),
	}
	if in.Err != nil {
		tags["error_class"] = obserrors.Classify(in.Err)
		if domainauth.IsRetryable(in.Err) {
			tags["retryable"] = "true"
		}
	}
	sink.Count("auth.attempt", 1, tags)
	if in.Duration > 0 {
		sink.Timing("auth.duration", in.Duration, map[string]string{"operation": in.Operation})
	}
}

// SessionGauges is a point-in-time view of the browser session registry.
type SessionGauges struct {
	Size      int
	Capacity  int
	Created   uint64
	Evictions uint64
}

// EmitSessionGauges reports registry occupancy and lifetime counters.
func EmitSessionGauges(sink statsd.Sink, g SessionGauges) {
	if sink == nil {
		return
	}
	sink.Gauge("sessions.size", float64(g.Size), nil)
	sink.Gauge("sessions.capacity", float64(g.Capacity), nil)
	sink.Gauge("sessions.created_total", float64(g.Created), nil)
	sink.Gauge("sessions.evictions_total", float64(g.Evictions), nil)
}
