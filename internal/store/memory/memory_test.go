package memory

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
	"weaveledger/backend/internal/store"
)

func newMaterial(t *testing.T, s *Store, stock int) domain.Material {
	t.Helper()
	m, err := s.CreateMaterial(context.Background(), domain.Material{
		Name:  "Cream Dhothy",
		Stock: stock,
		Price: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	return *m
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateUser(ctx, domain.UserAccount{Email: "A@Example.com", Password: "hash", Role: domain.RoleUser})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, domain.UserAccount{Email: "a@example.com", Password: "hash", Role: domain.RoleAdmin})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	user, err := s.GetUserByEmail(ctx, "a@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, user.Role)
}

func TestRecordSaleAssignsSequentialInvoices(t *testing.T) {
	s := New()
	m := newMaterial(t, s, 10)
	ctx := context.Background()

	first, err := s.RecordSale(ctx, domain.Sale{ProductID: m.ID, SellStock: 2})
	require.NoError(t, err)
	second, err := s.RecordSale(ctx, domain.Sale{ProductID: m.ID, SellStock: 3})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.InvoiceNumber)
	assert.Equal(t, int64(2), second.InvoiceNumber)

	got, err := s.GetMaterial(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
}

func TestRecordSaleInsufficientStockLeavesStock(t *testing.T) {
	s := New()
	m := newMaterial(t, s, 4)

	_, err := s.RecordSale(context.Background(), domain.Sale{ProductID: m.ID, SellStock: 5})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	var stockErr *store.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 4, stockErr.Available)

	got, err := s.GetMaterial(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)

	sales, err := s.ListSales(context.Background(), domain.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestRecordSaleConcurrentNeverOversells(t *testing.T) {
	s := New()
	m := newMaterial(t, s, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	invoices := map[int64]bool{}
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sale, err := s.RecordSale(context.Background(), domain.Sale{ProductID: m.ID, SellStock: 1})
			if err != nil {
				return
			}
			mu.Lock()
			succeeded++
			invoices[sale.InvoiceNumber] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Len(t, invoices, 10)
	got, err := s.GetMaterial(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
}

func TestListSalesFiltersAndSortsNewestFirst(t *testing.T) {
	s := New()
	m := newMaterial(t, s, 100)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, name := range []string{"Ravi Textiles", "Meena Stores", "ravi traders"} {
		_, err := s.RecordSale(ctx, domain.Sale{
			ProductID:     m.ID,
			ProductName:   m.Name,
			SellStock:     1,
			ReceiverName:  name,
			TransportMode: "Road",
			Date:          base.AddDate(0, 0, i),
		})
		require.NoError(t, err)
	}

	sales, err := s.ListSales(ctx, domain.SaleFilter{ReceiverName: "RAVI"})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "ravi traders", sales[0].ReceiverName)

	from := base.AddDate(0, 0, 1)
	sales, err = s.ListSales(ctx, domain.SaleFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, sales, 2)

	sales, err = s.ListSales(ctx, domain.SaleFilter{ReceiverExact: "meena stores"})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, int64(2), sales[0].InvoiceNumber)
}

func TestDeleteMissingMaterial(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.DeleteMaterial(context.Background(), "missing"), store.ErrNotFound)
}

func TestNewSeededUsesProvidedAdmin(t *testing.T) {
	s, err := NewSeeded(SeedAdmin{Email: "Owner@Shop.local", Password: "s3cret-pass"})
	require.NoError(t, err)

	admin, err := s.GetUserByEmail(context.Background(), "owner@shop.local")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, admin.Role)
	assert.NotEqual(t, "s3cret-pass", admin.Password)

	materials, err := s.ListMaterials(context.Background())
	require.NoError(t, err)
	assert.Len(t, materials, 6)
	assert.Equal(t, "Cotton White Heley Single", materials[0].Name)
}
