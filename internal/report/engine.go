package report

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"weaveledger/backend/internal/cache"
	"weaveledger/backend/internal/domain"
)

// CacheRecorder receives report cache outcomes.
type CacheRecorder interface {
	ObserveReportCache(hit bool)
}

type Loader func(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)

type Engine struct {
	cache    cache.ReportCache
	cacheTTL time.Duration
	recorder CacheRecorder
}

func NewEngine(cacheStore cache.ReportCache, cacheTTL time.Duration, recorder CacheRecorder) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Engine{
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		recorder: recorder,
	}
}

// Report returns the aggregate for filter, serving from cache when possible.
// The generation is read once, before loading, so a sale recorded while the
// load runs leaves the result stored under an already stale key. Cache
// failures degrade to a direct load.
func (e *Engine) Report(ctx context.Context, filter domain.SaleFilter, load Loader) (domain.SalesReport, error) {
	gen, err := e.cache.Generation(ctx)
	if err != nil {
		e.observe(false)
		return e.build(ctx, filter, load)
	}

	key := buildCacheKey(filter, gen)
	if cached, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		e.observe(true)
		return *cached, nil
	}
	e.observe(false)

	report, err := e.build(ctx, filter, load)
	if err != nil {
		return domain.SalesReport{}, err
	}
	_ = e.cache.Set(ctx, key, &report, e.cacheTTL)
	return report, nil
}

func (e *Engine) build(ctx context.Context, filter domain.SaleFilter, load Loader) (domain.SalesReport, error) {
	sales, err := load(ctx, filter)
	if err != nil {
		return domain.SalesReport{}, err
	}
	return Build(sales), nil
}

// Invalidate drops cached reports after the underlying sales change.
func (e *Engine) Invalidate(ctx context.Context) error {
	return e.cache.Invalidate(ctx)
}

func (e *Engine) observe(hit bool) {
	if e.recorder != nil {
		e.recorder.ObserveReportCache(hit)
	}
}

func buildCacheKey(filter domain.SaleFilter, generation int64) string {
	parts := []string{
		formatBound(filter.From),
		formatBound(filter.To),
		strings.ToLower(filter.ProductName),
		strings.ToLower(filter.ReceiverName),
		strings.ToLower(filter.ReceiverExact),
		strings.ToLower(filter.TransportMode),
	}
	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "weaveledger:reports:sales:g" + strconv.FormatInt(generation, 10) + ":" + hex.EncodeToString(hash[:])
}

func formatBound(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
