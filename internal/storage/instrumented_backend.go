package storage

import (
	"context"
	"time"

	mon "keyrelay-go/internal/monitoring"
)

// InstrumentedBackend wraps a Backend and records per-operation latency and
// error counts. Not-found is an expected outcome, not an error.
type InstrumentedBackend struct {
	backend Backend
	name    string
}

// NewInstrumentedBackend wraps backend with Prometheus instrumentation.
func NewInstrumentedBackend(backend Backend, name string) *InstrumentedBackend {
	return &InstrumentedBackend{backend: backend, name: name}
}

func (i *InstrumentedBackend) observe(op string, start time.Time, err error) {
	mon.StorageOperationDuration.WithLabelValues(i.name, op).Observe(time.Since(start).Seconds())
	if err != nil && !IsNotFound(err) {
		mon.StorageErrorsTotal.WithLabelValues(i.name, op).Inc()
	}
}

func (i *InstrumentedBackend) Initialize(ctx context.Context) error {
	start := time.Now()
	err := i.backend.Initialize(ctx)
	i.observe("initialize", start, err)
	return err
}

func (i *InstrumentedBackend) Close() error {
	return i.backend.Close()
}

func (i *InstrumentedBackend) Health(ctx context.Context) error {
	start := time.Now()
	err := i.backend.Health(ctx)
	i.observe("health", start, err)
	return err
}

func (i *InstrumentedBackend) GetToken(ctx context.Context, id string) (map[string]interface{}, error) {
	start := time.Now()
	doc, err := i.backend.GetToken(ctx, id)
	i.observe("get_token", start, err)
	return doc, err
}

func (i *InstrumentedBackend) SetToken(ctx context.Context, id string, doc map[string]interface{}) error {
	start := time.Now()
	err := i.backend.SetToken(ctx, id, doc)
	i.observe("set_token", start, err)
	return err
}

func (i *InstrumentedBackend) DeleteToken(ctx context.Context, id string) error {
	start := time.Now()
	err := i.backend.DeleteToken(ctx, id)
	i.observe("delete_token", start, err)
	return err
}

func (i *InstrumentedBackend) ListTokens(ctx context.Context) (map[string]map[string]interface{}, error) {
	start := time.Now()
	docs, err := i.backend.ListTokens(ctx)
	i.observe("list_tokens", start, err)
	return docs, err
}

func (i *InstrumentedBackend) GetStorageStats(ctx context.Context) (StorageStats, error) {
	start := time.Now()
	stats, err := i.backend.GetStorageStats(ctx)
	i.observe("stats", start, err)
	return stats, err
}
