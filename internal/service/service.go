package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"weaveledger/backend/internal/domain"
	"weaveledger/backend/internal/logger"
	"weaveledger/backend/internal/metrics"
	"weaveledger/backend/internal/report"
	"weaveledger/backend/internal/store"
	"weaveledger/backend/internal/xid"
)

// ErrForbidden is returned when the actor's role does not allow the operation.
var ErrForbidden = errors.New("access denied: admins only")

// Error is a user-facing failure. Message is safe to return to clients and
// Kind is one of the store sentinels used for status mapping.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func failure(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo    store.Repository
	reports *report.Engine
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(repo store.Repository, reports *report.Engine, log *logger.Logger, m *metrics.Metrics) *Service {
	if reports == nil {
		reports = report.NewEngine(nil, 0, m)
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Service{
		repo:    repo,
		reports: reports,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.IsAdmin() {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func (s *Service) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	return s.repo.ListMaterials(ctx)
}

func (s *Service) GetMaterial(ctx context.Context, id string) (domain.Material, error) {
	if !xid.Valid(id) {
		return domain.Material{}, failure(store.ErrNotFound, "material not found")
	}
	material, err := s.repo.GetMaterial(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Material{}, failure(store.ErrNotFound, "material not found")
	}
	if err != nil {
		return domain.Material{}, fmt.Errorf("get material %s: %w", id, err)
	}
	return *material, nil
}

// ProductCounts is the public catalog projection: one entry per material with
// its remaining stock.
func (s *Service) ProductCounts(ctx context.Context) ([]domain.ProductCount, error) {
	materials, err := s.repo.ListMaterials(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProductCount, 0, len(materials))
	for _, m := range materials {
		out = append(out, domain.ProductCount{Name: m.Name, Count: m.Stock})
	}
	return out, nil
}

func (s *Service) CreateMaterial(ctx context.Context, req domain.MaterialRequest) (domain.Material, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Material{}, err
	}
	material, err := normalizeMaterial(req)
	if err != nil {
		return domain.Material{}, err
	}
	material.CreatedBy = actor.ID

	created, err := s.repo.CreateMaterial(ctx, material)
	if err != nil {
		return domain.Material{}, fmt.Errorf("create material: %w", err)
	}
	s.log.InfoFields(ctx, "material.created", map[string]any{"material_id": created.ID, "name": created.Name, "stock": created.Stock})
	return *created, nil
}

func (s *Service) UpdateMaterial(ctx context.Context, id string, req domain.MaterialRequest) (domain.Material, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Material{}, err
	}
	if !xid.Valid(id) {
		return domain.Material{}, failure(store.ErrNotFound, "material not found")
	}
	material, err := normalizeMaterial(req)
	if err != nil {
		return domain.Material{}, err
	}
	material.ID = id

	updated, err := s.repo.UpdateMaterial(ctx, material)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Material{}, failure(store.ErrNotFound, "material not found")
	}
	if err != nil {
		return domain.Material{}, fmt.Errorf("update material %s: %w", id, err)
	}
	return *updated, nil
}

func (s *Service) DeleteMaterial(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if !xid.Valid(id) {
		return failure(store.ErrNotFound, "material not found")
	}
	err := s.repo.DeleteMaterial(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return failure(store.ErrNotFound, "material not found")
	}
	if err != nil {
		return fmt.Errorf("delete material %s: %w", id, err)
	}
	s.log.InfoFields(ctx, "material.deleted", map[string]any{"material_id": id})
	return nil
}

func normalizeMaterial(req domain.MaterialRequest) (domain.Material, error) {
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		return domain.Material{}, failure(store.ErrInvalidInput, "name is required")
	case req.Stock < 0:
		return domain.Material{}, failure(store.ErrInvalidInput, "stock must not be negative")
	case req.Price.IsNegative():
		return domain.Material{}, failure(store.ErrInvalidInput, "price must not be negative")
	}
	return domain.Material{
		Name:  name,
		Stock: req.Stock,
		Price: req.Price.Round(2),
	}, nil
}

// RecordSale validates the request against the current material, prices it
// and hands it to the repository, which checks stock, numbers the invoice and
// decrements stock atomically.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	productID := strings.TrimSpace(req.ProductID)
	if !xid.Valid(productID) {
		return domain.Sale{}, failure(store.ErrInvalidInput, "invalid product id format")
	}
	if req.SellStock < 1 {
		return domain.Sale{}, failure(store.ErrInvalidInput, "sellStock must be at least 1")
	}
	if req.UnitPrice.IsNegative() {
		return domain.Sale{}, failure(store.ErrInvalidInput, "unitPrice must not be negative")
	}
	if req.TransportCost.IsNegative() {
		return domain.Sale{}, failure(store.ErrInvalidInput, "transportCost must not be negative")
	}

	receiver := map[string]string{
		"receiverName":    strings.TrimSpace(req.ReceiverName),
		"receiverContact": strings.TrimSpace(req.ReceiverContact),
		"receiverAddress": strings.TrimSpace(req.ReceiverAddress),
		"transportMode":   strings.TrimSpace(req.TransportMode),
	}
	for _, field := range []string{"receiverName", "receiverContact", "receiverAddress", "transportMode"} {
		if receiver[field] == "" {
			return domain.Sale{}, failure(store.ErrInvalidInput, "%s is required", field)
		}
	}

	material, err := s.repo.GetMaterial(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Sale{}, failure(store.ErrNotFound, "product not found")
	}
	if err != nil {
		return domain.Sale{}, fmt.Errorf("load product %s: %w", productID, err)
	}

	productName := strings.TrimSpace(req.ProductName)
	if productName == "" {
		productName = material.Name
	}
	unitPrice := req.UnitPrice.Round(2)
	if unitPrice.IsZero() {
		unitPrice = material.Price.Round(2)
	}
	transportCost := req.TransportCost.Round(2)

	var soldBy string
	if actor, ok := ActorFromContext(ctx); ok {
		soldBy = actor.ID
	}

	sale := domain.Sale{
		ProductID:       material.ID,
		ProductName:     productName,
		SellStock:       req.SellStock,
		UnitPrice:       unitPrice,
		TotalAmount:     SaleTotal(req.SellStock, unitPrice, transportCost),
		ReceiverName:    receiver["receiverName"],
		ReceiverContact: receiver["receiverContact"],
		ReceiverEmail:   strings.TrimSpace(req.ReceiverEmail),
		ReceiverAddress: receiver["receiverAddress"],
		TransportMode:   receiver["transportMode"],
		TransportCost:   transportCost,
		SoldBy:          soldBy,
		Date:            s.now(),
	}

	recorded, err := s.repo.RecordSale(ctx, sale)
	if err != nil {
		var stockErr *store.InsufficientStockError
		switch {
		case errors.As(err, &stockErr):
			return domain.Sale{}, failure(store.ErrInsufficientStock, "not enough stock available, only %d left", stockErr.Available)
		case errors.Is(err, store.ErrNotFound):
			return domain.Sale{}, failure(store.ErrNotFound, "product not found")
		}
		return domain.Sale{}, fmt.Errorf("record sale: %w", err)
	}

	if err := s.reports.Invalidate(ctx); err != nil {
		s.log.Error(ctx, "report cache invalidation failed", err)
	}
	s.metrics.ObserveSale(recorded.ProductName, recorded.SellStock)
	s.log.InfoFields(ctx, "sale.recorded", map[string]any{
		"invoice_number": recorded.InvoiceNumber,
		"product_id":     recorded.ProductID,
		"sell_stock":     recorded.SellStock,
		"total_amount":   recorded.TotalAmount.String(),
	})
	return *recorded, nil
}

// SaleTotal is sellStock × unitPrice + transportCost.
func SaleTotal(sellStock int, unitPrice, transportCost decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(sellStock))).Add(transportCost)
}

func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, domain.SaleFilter{})
}

func (s *Service) ListSalesByReceiver(ctx context.Context, receiverName string) ([]domain.Sale, error) {
	name := strings.TrimSpace(receiverName)
	if name == "" {
		return nil, failure(store.ErrInvalidInput, "receiverName is required")
	}
	return s.repo.ListSales(ctx, domain.SaleFilter{ReceiverExact: name})
}

func (s *Service) GetSaleByInvoice(ctx context.Context, raw string) (domain.Sale, error) {
	invoiceNumber, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || invoiceNumber < 1 {
		return domain.Sale{}, failure(store.ErrInvalidInput, "invalid invoice number")
	}
	sale, err := s.repo.GetSaleByInvoice(ctx, invoiceNumber)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Sale{}, failure(store.ErrNotFound, "sale not found")
	}
	if err != nil {
		return domain.Sale{}, fmt.Errorf("get sale %d: %w", invoiceNumber, err)
	}
	return *sale, nil
}

// ReportQuery carries the raw report filters as received on the query string.
type ReportQuery struct {
	From          string
	To            string
	ProductName   string
	ReceiverName  string
	TransportMode string
}

func (s *Service) SalesReport(ctx context.Context, query ReportQuery) (domain.SalesReport, error) {
	filter, err := ParseReportFilter(query)
	if err != nil {
		return domain.SalesReport{}, err
	}
	rep, err := s.reports.Report(ctx, filter, s.repo.ListSales)
	if err != nil {
		return domain.SalesReport{}, fmt.Errorf("build sales report: %w", err)
	}
	return rep, nil
}

func (s *Service) SalesRecords(ctx context.Context, query ReportQuery) (domain.SaleRecordsResponse, error) {
	filter, err := ParseReportFilter(query)
	if err != nil {
		return domain.SaleRecordsResponse{}, err
	}
	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.SaleRecordsResponse{}, fmt.Errorf("list sale records: %w", err)
	}
	return domain.SaleRecordsResponse{Sales: sales, Count: len(sales)}, nil
}

// ParseReportFilter converts query parameters to a filter. Dates accept
// YYYY-MM-DD (UTC) or RFC3339. A date-only "to" covers the whole day.
func ParseReportFilter(query ReportQuery) (domain.SaleFilter, error) {
	filter := domain.SaleFilter{
		ProductName:   strings.TrimSpace(query.ProductName),
		ReceiverName:  strings.TrimSpace(query.ReceiverName),
		TransportMode: strings.TrimSpace(query.TransportMode),
	}

	if raw := strings.TrimSpace(query.From); raw != "" {
		from, _, err := parseDate(raw)
		if err != nil {
			return domain.SaleFilter{}, failure(store.ErrInvalidInput, "invalid from date %q", raw)
		}
		filter.From = &from
	}
	if raw := strings.TrimSpace(query.To); raw != "" {
		to, dateOnly, err := parseDate(raw)
		if err != nil {
			return domain.SaleFilter{}, failure(store.ErrInvalidInput, "invalid to date %q", raw)
		}
		if dateOnly {
			to = to.AddDate(0, 0, 1)
		} else {
			// Timestamps are stored at microsecond precision.
			to = to.Truncate(time.Microsecond).Add(time.Microsecond)
		}
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return domain.SaleFilter{}, failure(store.ErrInvalidInput, "from must not be after to")
	}
	return filter, nil
}

func parseDate(raw string) (time.Time, bool, error) {
	if t, err := time.ParseInLocation("2006-01-02", raw, time.UTC); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), false, nil
}
