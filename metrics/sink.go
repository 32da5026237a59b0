// Package metrics exports account activity as Prometheus counters.
package metrics

import (
	"context"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink counts activity events by type and target state.
type PrometheusSink struct {
	events *prometheus.CounterVec
}

var _ auth.ActivitySink = (*PrometheusSink)(nil)

// NewPrometheusSink registers its collectors with reg. A nil reg uses the
// default registerer.
func NewPrometheusSink(reg prometheus.Registerer, namespace string) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "auth"
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "activity_events_total",
		Help:      "Account and session activity events.",
	}, []string{"event", "to_state"})

	if err := reg.Register(events); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, err
			}
			events = existing
		} else {
			return nil, err
		}
	}

	return &PrometheusSink{events: events}, nil
}

func (s *PrometheusSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.events.WithLabelValues(string(event.EventType), string(event.ToState)).Inc()
	return nil
}

// Chain fans an event out to every sink, returning the first error.
func Chain(sinks ...auth.ActivitySink) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		var first error
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			if err := sink.Record(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
