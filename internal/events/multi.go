package events

import (
	"context"
	"errors"

	"github.com/KumiProject/chartsets/internal/metrics"
)

// Multi fans envelopes out to several publishers. Every publisher is
// attempted; failures are joined.
type Multi struct {
	publishers []Publisher
	metrics    *metrics.Metrics
}

func NewMulti(m *metrics.Metrics, publishers ...Publisher) *Multi {
	return &Multi{publishers: publishers, metrics: m}
}

func (p *Multi) Connect(ctx context.Context) error {
	var errs []error
	for _, publisher := range p.publishers {
		errs = append(errs, publisher.Connect(ctx))
	}
	return errors.Join(errs...)
}

func (p *Multi) Publish(ctx context.Context, envelope Envelope) error {
	var errs []error
	for _, publisher := range p.publishers {
		errs = append(errs, publisher.Publish(ctx, envelope))
	}
	err := errors.Join(errs...)
	p.metrics.ObserveEventPublish(envelope.Type, err)
	return err
}

func (p *Multi) Close() error {
	var errs []error
	for _, publisher := range p.publishers {
		errs = append(errs, publisher.Close())
	}
	return errors.Join(errs...)
}
