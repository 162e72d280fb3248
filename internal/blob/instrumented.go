package blob

import (
	"context"
	"errors"
	"time"

	"github.com/KumiProject/chartsets/internal/metrics"
)

// Instrumented records operation counts and latency for the wrapped store.
type Instrumented struct {
	Store
	metrics *metrics.Metrics
}

// WithMetrics wraps store so every operation is observed by m.
func WithMetrics(store Store, m *metrics.Metrics) *Instrumented {
	return &Instrumented{Store: store, metrics: m}
}

func (i *Instrumented) Put(ctx context.Context, key string, data []byte) error {
	startedAt := time.Now()
	err := i.Store.Put(ctx, key, data)
	i.metrics.ObserveBlob("put", startedAt, err)
	return err
}

func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	startedAt := time.Now()
	data, err := i.Store.Get(ctx, key)
	observed := err
	if errors.Is(err, ErrNotFound) {
		observed = nil
	}
	i.metrics.ObserveBlob("get", startedAt, observed)
	return data, err
}

func (i *Instrumented) Exists(ctx context.Context, key string) (bool, error) {
	startedAt := time.Now()
	exists, err := i.Store.Exists(ctx, key)
	i.metrics.ObserveBlob("exists", startedAt, err)
	return exists, err
}

func (i *Instrumented) Delete(ctx context.Context, key string) error {
	startedAt := time.Now()
	err := i.Store.Delete(ctx, key)
	i.metrics.ObserveBlob("delete", startedAt, err)
	return err
}
