package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weaveledger/backend/internal/domain"
	"weaveledger/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("WEAVELEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set WEAVELEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx, "up"))
	return s
}

func TestRecordSaleDecrementsStockAndNumbersInvoices(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	material, err := s.CreateMaterial(ctx, domain.Material{
		Name:  "Integration Dhothy",
		Stock: 10,
		Price: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	var maxBefore int64
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(invoice_number),0) FROM sales`).Scan(&maxBefore))

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE product_id = $1`, material.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM materials WHERE id = $1`, material.ID)
	})

	sale, err := s.RecordSale(ctx, domain.Sale{
		ProductID:     material.ID,
		ProductName:   material.Name,
		SellStock:     3,
		UnitPrice:     decimal.NewFromInt(100),
		TotalAmount:   decimal.NewFromInt(320),
		TransportCost: decimal.NewFromInt(20),
		TransportMode: "Road",
		ReceiverName:  "Integration Receiver",
	})
	require.NoError(t, err)
	assert.Equal(t, maxBefore+1, sale.InvoiceNumber)

	got, err := s.GetMaterial(ctx, material.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Stock)

	byInvoice, err := s.GetSaleByInvoice(ctx, sale.InvoiceNumber)
	require.NoError(t, err)
	assert.True(t, byInvoice.TotalAmount.Equal(decimal.NewFromInt(320)))

	_, err = s.RecordSale(ctx, domain.Sale{ProductID: material.ID, SellStock: 8})
	var stockErr *store.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 7, stockErr.Available)
}

func TestDeleteMaterialMissing(t *testing.T) {
	s := newIntegrationStore(t)
	err := s.DeleteMaterial(context.Background(), "00000000-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
