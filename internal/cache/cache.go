package cache

import (
	"context"
	"time"

	"weaveledger/backend/internal/domain"
)

// ReportCache stores reports under caller-built keys. Callers read the
// generation once per lookup and fold it into the key, so a report computed
// before an Invalidate can never be stored where later reads look.
type ReportCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, key string) (*domain.SalesReport, bool, error)
	Set(ctx context.Context, key string, value *domain.SalesReport, ttl time.Duration) error
	// Invalidate advances the generation, making every stored report unreachable.
	Invalidate(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.SalesReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.SalesReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context) error {
	return nil
}
