package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"weaveledger/backend/internal/domain"
	"weaveledger/backend/internal/store"
	"weaveledger/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	usersByID        map[string]domain.UserAccount
	userIDByEmail    map[string]string
	materials        map[string]domain.Material
	sales            []domain.Sale
	maxInvoiceNumber int64
}

func New() *Store {
	return &Store{
		usersByID:     make(map[string]domain.UserAccount),
		userIDByEmail: make(map[string]string),
		materials:     make(map[string]domain.Material),
		sales:         make([]domain.Sale, 0, 64),
	}
}

// Default dev credentials used by NewSeeded when SeedAdmin fields are empty.
const (
	DefaultSeedEmail    = "admin@weaveledger.local"
	DefaultSeedPassword = "admin123"
)

type SeedAdmin struct {
	Email    string
	Password string
}

// NewSeeded returns a store preloaded with an admin account and a small
// textile catalog.
func NewSeeded(seed SeedAdmin) (*Store, error) {
	s := New()

	email := strings.ToLower(strings.TrimSpace(seed.Email))
	if email == "" {
		email = DefaultSeedEmail
	}
	password := seed.Password
	if password == "" {
		password = DefaultSeedPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash seed password: %w", err)
	}
	now := time.Now().UTC()
	admin := domain.UserAccount{
		ID:        xid.New(),
		Email:     email,
		Password:  string(hash),
		Role:      domain.RoleAdmin,
		CreatedAt: now,
	}
	s.usersByID[admin.ID] = admin
	s.userIDByEmail[admin.Email] = admin.ID

	for _, m := range []struct {
		name  string
		stock int
		price string
	}{
		{"Cream Dhothy", 140, "320"},
		{"Gold Dand Double Dhothy", 80, "650"},
		{"Double Cotton White Dhothy", 120, "480"},
		{"Cotton White Heley Single", 200, "260"},
		{"Gold Jari White Angavastram", 60, "540"},
		{"Gold Saw Cream Angavastram", 45, "590"},
	} {
		id := xid.New()
		s.materials[id] = domain.Material{
			ID:        id,
			Name:      m.name,
			Stock:     m.stock,
			Price:     decimal.RequireFromString(m.price),
			CreatedBy: admin.ID,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	return s, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.ErrInvalidInput
	}
	if user.ID == "" {
		user.ID = xid.New()
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.userIDByEmail[user.Email]; exists {
		return nil, store.ErrDuplicate
	}
	s.usersByID[user.ID] = user
	s.userIDByEmail[user.Email] = user.ID

	created := user
	return &created, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.userIDByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, store.ErrNotFound
	}
	user := s.usersByID[id]
	return &user, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) ListMaterials(_ context.Context) ([]domain.Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	materials := make([]domain.Material, 0, len(s.materials))
	for _, m := range s.materials {
		materials = append(materials, m)
	}
	slices.SortFunc(materials, func(a, b domain.Material) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return materials, nil
}

func (s *Store) GetMaterial(_ context.Context, id string) (*domain.Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	material, ok := s.materials[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &material, nil
}

func (s *Store) CreateMaterial(_ context.Context, material domain.Material) (*domain.Material, error) {
	if err := validateMaterial(material); err != nil {
		return nil, err
	}
	if material.ID == "" {
		material.ID = xid.New()
	}
	now := time.Now().UTC()
	material.CreatedAt = now
	material.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.materials[material.ID]; exists {
		return nil, store.ErrDuplicate
	}
	s.materials[material.ID] = material
	created := material
	return &created, nil
}

func (s *Store) UpdateMaterial(_ context.Context, material domain.Material) (*domain.Material, error) {
	if err := validateMaterial(material); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.materials[material.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	existing.Name = material.Name
	existing.Stock = material.Stock
	existing.Price = material.Price
	existing.UpdatedAt = time.Now().UTC()
	s.materials[existing.ID] = existing

	updated := existing
	return &updated, nil
}

func (s *Store) DeleteMaterial(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.materials[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.materials, id)
	return nil
}

func (s *Store) RecordSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.SellStock < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	material, ok := s.materials[sale.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if material.Stock < sale.SellStock {
		return nil, &store.InsufficientStockError{Available: material.Stock}
	}

	if sale.ID == "" {
		sale.ID = xid.New()
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}
	sale.InvoiceNumber = s.maxInvoiceNumber + 1
	s.maxInvoiceNumber = sale.InvoiceNumber
	s.sales = append(s.sales, sale)

	material.Stock -= sale.SellStock
	material.UpdatedAt = time.Now().UTC()
	s.materials[material.ID] = material

	created := sale
	return &created, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.Matches(sale) {
			sales = append(sales, sale)
		}
	}
	slices.SortStableFunc(sales, func(a, b domain.Sale) int {
		if !a.Date.Equal(b.Date) {
			return b.Date.Compare(a.Date)
		}
		return cmpInt64(b.InvoiceNumber, a.InvoiceNumber)
	})
	return sales, nil
}

func (s *Store) GetSaleByInvoice(_ context.Context, invoiceNumber int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sale := range s.sales {
		if sale.InvoiceNumber == invoiceNumber {
			found := sale
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func validateMaterial(material domain.Material) error {
	if strings.TrimSpace(material.Name) == "" || material.Stock < 0 || material.Price.IsNegative() {
		return store.ErrInvalidInput
	}
	return nil
}

func cmpInt64(a int64, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
