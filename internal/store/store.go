package store

import (
	"context"
	"errors"

	"weaveledger/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicate         = errors.New("already exists")
)

// InsufficientStockError reports how much stock was left when a sale was refused.
type InsufficientStockError struct {
	Available int
}

func (e *InsufficientStockError) Error() string {
	return ErrInsufficientStock.Error()
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error)
}

type MaterialRepository interface {
	ListMaterials(ctx context.Context) ([]domain.Material, error)
	GetMaterial(ctx context.Context, id string) (*domain.Material, error)
	CreateMaterial(ctx context.Context, material domain.Material) (*domain.Material, error)
	UpdateMaterial(ctx context.Context, material domain.Material) (*domain.Material, error)
	DeleteMaterial(ctx context.Context, id string) error
}

type SaleRepository interface {
	// RecordSale checks stock, assigns the next invoice number, stores the sale
	// and decrements the material stock as one unit. Sale.InvoiceNumber and
	// Sale.TotalAmount on input are ignored for the number and kept for the total.
	RecordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	GetSaleByInvoice(ctx context.Context, invoiceNumber int64) (*domain.Sale, error)
}

type Repository interface {
	UserRepository
	MaterialRepository
	SaleRepository
}
