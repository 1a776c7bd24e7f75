package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weaveledger/backend/internal/domain"
	"weaveledger/backend/internal/report"
	"weaveledger/backend/internal/store"
	"weaveledger/backend/internal/store/memory"
)

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: "admin-1", Email: "admin@test.local", Role: domain.RoleAdmin})
}

func userCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: "user-1", Email: "clerk@test.local", Role: domain.RoleUser})
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	return New(repo, report.NewEngine(nil, time.Minute, nil), nil, nil), repo
}

func createMaterial(t *testing.T, svc *Service, name string, stock int, price int64) domain.Material {
	t.Helper()
	m, err := svc.CreateMaterial(adminCtx(), domain.MaterialRequest{Name: name, Stock: stock, Price: decimal.NewFromInt(price)})
	require.NoError(t, err)
	return m
}

func saleRequest(productID string, qty int) domain.SaleRequest {
	return domain.SaleRequest{
		ProductID:       productID,
		SellStock:       qty,
		UnitPrice:       decimal.NewFromInt(100),
		ReceiverName:    "Ravi Textiles",
		ReceiverContact: "9000000001",
		ReceiverAddress: "12 Market Road",
		TransportMode:   "Road",
		TransportCost:   decimal.NewFromInt(20),
	}
}

func TestCreateMaterialRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateMaterial(userCtx(), domain.MaterialRequest{Name: "Cream Dhothy", Stock: 1})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.CreateMaterial(context.Background(), domain.MaterialRequest{Name: "Cream Dhothy", Stock: 1})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateMaterialValidatesAndRecordsCreator(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateMaterial(adminCtx(), domain.MaterialRequest{Name: "  ", Stock: 1})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = svc.CreateMaterial(adminCtx(), domain.MaterialRequest{Name: "Dhothy", Price: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	m, err := svc.CreateMaterial(adminCtx(), domain.MaterialRequest{Name: " Cream Dhothy ", Stock: 5, Price: decimal.RequireFromString("320.456")})
	require.NoError(t, err)
	assert.Equal(t, "Cream Dhothy", m.Name)
	assert.Equal(t, "admin-1", m.CreatedBy)
	assert.Equal(t, "320.46", m.Price.String())
}

func TestUpdateAndDeleteUnknownMaterialIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	missing := "2b1c3d4e-0000-4000-8000-000000000000"

	_, err := svc.UpdateMaterial(adminCtx(), missing, domain.MaterialRequest{Name: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.EqualError(t, err, "material not found")

	assert.ErrorIs(t, svc.DeleteMaterial(adminCtx(), missing), store.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteMaterial(adminCtx(), "not-a-uuid"), store.ErrNotFound)
}

func TestRecordSaleComputesTotalAndDecrementsStock(t *testing.T) {
	svc, _ := newTestService(t)
	m := createMaterial(t, svc, "Cream Dhothy", 10, 320)

	sale, err := svc.RecordSale(userCtx(), saleRequest(m.ID, 3))
	require.NoError(t, err)

	assert.True(t, sale.TotalAmount.Equal(decimal.NewFromInt(320)))
	assert.Equal(t, int64(1), sale.InvoiceNumber)
	assert.Equal(t, "Cream Dhothy", sale.ProductName)
	assert.Equal(t, "user-1", sale.SoldBy)

	got, err := svc.GetMaterial(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Stock)

	next, err := svc.RecordSale(userCtx(), saleRequest(m.ID, 1))
	require.NoError(t, err)
	assert.Equal(t, sale.InvoiceNumber+1, next.InvoiceNumber)
}

func TestRecordSaleDefaultsUnitPriceToMaterialPrice(t *testing.T) {
	svc, _ := newTestService(t)
	m := createMaterial(t, svc, "Gold Jari White Angavastram", 10, 540)

	req := saleRequest(m.ID, 2)
	req.UnitPrice = decimal.Zero
	req.TransportCost = decimal.Zero
	sale, err := svc.RecordSale(userCtx(), req)
	require.NoError(t, err)

	assert.True(t, sale.UnitPrice.Equal(decimal.NewFromInt(540)))
	assert.True(t, sale.TotalAmount.Equal(decimal.NewFromInt(1080)))
}

func TestRecordSaleRejectsOversellWithRemainingCount(t *testing.T) {
	svc, _ := newTestService(t)
	m := createMaterial(t, svc, "Cream Dhothy", 4, 320)

	_, err := svc.RecordSale(userCtx(), saleRequest(m.ID, 5))
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.EqualError(t, err, "not enough stock available, only 4 left")

	got, err := svc.GetMaterial(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)
}

func TestRecordSaleInputErrors(t *testing.T) {
	svc, _ := newTestService(t)
	m := createMaterial(t, svc, "Cream Dhothy", 4, 320)

	_, err := svc.RecordSale(userCtx(), saleRequest("abc", 1))
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	assert.EqualError(t, err, "invalid product id format")

	_, err = svc.RecordSale(userCtx(), saleRequest("2b1c3d4e-0000-4000-8000-000000000000", 1))
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.EqualError(t, err, "product not found")

	_, err = svc.RecordSale(userCtx(), saleRequest(m.ID, 0))
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	req := saleRequest(m.ID, 1)
	req.TransportCost = decimal.NewFromInt(-5)
	_, err = svc.RecordSale(userCtx(), req)
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	req = saleRequest(m.ID, 1)
	req.ReceiverAddress = " "
	_, err = svc.RecordSale(userCtx(), req)
	assert.EqualError(t, err, "receiverAddress is required")
}

func TestSalesByReceiverAndInvoice(t *testing.T) {
	svc, _ := newTestService(t)
	m := createMaterial(t, svc, "Cream Dhothy", 10, 320)

	first, err := svc.RecordSale(userCtx(), saleRequest(m.ID, 1))
	require.NoError(t, err)
	other := saleRequest(m.ID, 1)
	other.ReceiverName = "Meena Stores"
	_, err = svc.RecordSale(userCtx(), other)
	require.NoError(t, err)

	sales, err := svc.ListSalesByReceiver(context.Background(), "ravi textiles")
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, first.InvoiceNumber, sales[0].InvoiceNumber)

	got, err := svc.GetSaleByInvoice(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = svc.GetSaleByInvoice(context.Background(), "99")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.GetSaleByInvoice(context.Background(), "INV-1")
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestSalesReportOutsideRangeIsEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	m := createMaterial(t, svc, "Cream Dhothy", 10, 320)
	_, err := svc.RecordSale(userCtx(), saleRequest(m.ID, 3))
	require.NoError(t, err)

	rep, err := svc.SalesReport(context.Background(), ReportQuery{From: "2024-01-01", To: "2024-12-31"})
	require.NoError(t, err)
	assert.Empty(t, rep.DailySales)
	assert.Equal(t, 0, rep.OverallSummary.Orders)
	assert.True(t, rep.OverallSummary.TotalRevenue.IsZero())

	rep, err = svc.SalesReport(context.Background(), ReportQuery{From: "2025-03-10", To: "2025-03-10"})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.OverallSummary.Orders)
	assert.True(t, rep.OverallSummary.TotalRevenue.Equal(decimal.NewFromInt(320)))
}

func TestSalesReportSeesNewSalesAfterCaching(t *testing.T) {
	svc, _ := newTestService(t)
	m := createMaterial(t, svc, "Cream Dhothy", 10, 320)

	rep, err := svc.SalesReport(context.Background(), ReportQuery{})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.OverallSummary.Orders)

	_, err = svc.RecordSale(userCtx(), saleRequest(m.ID, 2))
	require.NoError(t, err)

	rep, err = svc.SalesReport(context.Background(), ReportQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.OverallSummary.Orders)
}

type generationCache struct {
	mu         sync.Mutex
	generation int64
	entries    map[string]domain.SalesReport
}

func (c *generationCache) Generation(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *generationCache) Get(_ context.Context, key string) (*domain.SalesReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (c *generationCache) Set(_ context.Context, key string, value *domain.SalesReport, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = *value
	return nil
}

func (c *generationCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return nil
}

// hookedRepo runs afterList once, after a sales listing has been read.
type hookedRepo struct {
	*memory.Store
	afterList func()
}

func (r *hookedRepo) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	sales, err := r.Store.ListSales(ctx, filter)
	if hook := r.afterList; hook != nil {
		r.afterList = nil
		hook()
	}
	return sales, err
}

func TestCachedSalesReportIncludesSaleRecordedDuringLoad(t *testing.T) {
	repo := &hookedRepo{Store: memory.New()}
	c := &generationCache{entries: map[string]domain.SalesReport{}}
	svc := New(repo, report.NewEngine(c, time.Minute, nil), nil, nil)
	m := createMaterial(t, svc, "Cream Dhothy", 10, 320)

	repo.afterList = func() {
		_, err := svc.RecordSale(userCtx(), saleRequest(m.ID, 2))
		require.NoError(t, err)
	}
	rep, err := svc.SalesReport(context.Background(), ReportQuery{})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.OverallSummary.Orders)

	rep, err = svc.SalesReport(context.Background(), ReportQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.OverallSummary.Orders)

	rep, err = svc.SalesReport(context.Background(), ReportQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.OverallSummary.Orders)
	assert.Len(t, c.entries, 2)
}

func TestSalesRecordsFiltersTransportMode(t *testing.T) {
	svc, _ := newTestService(t)
	m := createMaterial(t, svc, "Cream Dhothy", 10, 320)
	_, err := svc.RecordSale(userCtx(), saleRequest(m.ID, 1))
	require.NoError(t, err)
	rail := saleRequest(m.ID, 1)
	rail.TransportMode = "Rail"
	_, err = svc.RecordSale(userCtx(), rail)
	require.NoError(t, err)

	records, err := svc.SalesRecords(context.Background(), ReportQuery{TransportMode: "rail"})
	require.NoError(t, err)
	assert.Equal(t, 1, records.Count)
	assert.Equal(t, "Rail", records.Sales[0].TransportMode)
}

func TestParseReportFilter(t *testing.T) {
	filter, err := ParseReportFilter(ReportQuery{From: "2025-01-01", To: "2025-01-31", ProductName: " dhothy "})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *filter.From)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), *filter.To)
	assert.Equal(t, "dhothy", filter.ProductName)

	filter, err = ParseReportFilter(ReportQuery{From: "2025-01-01T10:00:00+05:30"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 4, 30, 0, 0, time.UTC), *filter.From)
	assert.Nil(t, filter.To)

	filter, err = ParseReportFilter(ReportQuery{To: "2025-01-31T10:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 31, 10, 0, 0, int(time.Microsecond), time.UTC), *filter.To)

	for _, q := range []ReportQuery{
		{From: "01/02/2025"},
		{To: "yesterday"},
		{From: "2025-02-01", To: "2025-01-01"},
	} {
		_, err := ParseReportFilter(q)
		assert.True(t, errors.Is(err, store.ErrInvalidInput), "query %+v", q)
	}
}
