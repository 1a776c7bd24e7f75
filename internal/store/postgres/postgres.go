package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"weaveledger/backend/internal/domain"
	"weaveledger/backend/internal/store"
	"weaveledger/backend/internal/xid"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// invoiceLockKey serialises invoice numbering across connections.
const invoiceLockKey int64 = 0x5a1e5

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs a goose command (up, down, status, redo, reset, version)
// against the embedded migrations.
func (s *Store) Migrate(ctx context.Context, command string, args ...string) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.RunContext(ctx, command, s.db, migrationsDir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, email, password, role, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.ID, user.Email, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := user
	return &created, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	return s.getUser(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error) {
	if !xid.Valid(id) {
		return nil, store.ErrNotFound
	}
	return s.getUser(ctx, "id", id)
}

func (s *Store) getUser(ctx context.Context, column string, value string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password, role, created_at
		FROM app_users
		WHERE `+column+` = $1
	`, value).Scan(&user.ID, &user.Email, &user.Password, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

const materialColumns = `id, name, stock, price, created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMaterial(row rowScanner) (*domain.Material, error) {
	var m domain.Material
	var createdBy sql.NullString
	if err := row.Scan(&m.ID, &m.Name, &m.Stock, &m.Price, &createdBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.CreatedBy = createdBy.String
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func (s *Store) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+materialColumns+`
		FROM materials
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	materials := make([]domain.Material, 0, 64)
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		materials = append(materials, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return materials, nil
}

func (s *Store) GetMaterial(ctx context.Context, id string) (*domain.Material, error) {
	if !xid.Valid(id) {
		return nil, store.ErrNotFound
	}
	m, err := scanMaterial(s.db.QueryRowContext(ctx, `
		SELECT `+materialColumns+`
		FROM materials
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) CreateMaterial(ctx context.Context, material domain.Material) (*domain.Material, error) {
	if err := validateMaterial(material); err != nil {
		return nil, err
	}
	if material.ID == "" {
		material.ID = xid.New()
	}

	m, err := scanMaterial(s.db.QueryRowContext(ctx, `
		INSERT INTO materials (id, name, stock, price, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
		RETURNING `+materialColumns+`
	`, material.ID, material.Name, material.Stock, material.Price, nullIfEmpty(material.CreatedBy)))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) UpdateMaterial(ctx context.Context, material domain.Material) (*domain.Material, error) {
	if err := validateMaterial(material); err != nil {
		return nil, err
	}
	if !xid.Valid(material.ID) {
		return nil, store.ErrNotFound
	}

	m, err := scanMaterial(s.db.QueryRowContext(ctx, `
		UPDATE materials
		SET name = $2, stock = $3, price = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+materialColumns+`
	`, material.ID, material.Name, material.Stock, material.Price))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) DeleteMaterial(ctx context.Context, id string) error {
	if !xid.Valid(id) {
		return store.ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM materials WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RecordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.SellStock < 1 {
		return nil, store.ErrInvalidInput
	}
	if !xid.Valid(sale.ProductID) {
		return nil, store.ErrNotFound
	}
	if sale.ID == "" {
		sale.ID = xid.New()
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := pgTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, invoiceLockKey); err != nil {
		return nil, err
	}

	var stock int
	err = pgTx.QueryRowContext(ctx, `
		SELECT stock
		FROM materials
		WHERE id = $1
		FOR UPDATE
	`, sale.ProductID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if stock < sale.SellStock {
		return nil, &store.InsufficientStockError{Available: stock}
	}

	if err := pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(invoice_number), 0) + 1 FROM sales
	`).Scan(&sale.InvoiceNumber); err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, product_id, product_name, sell_stock, unit_price, total_amount,
			receiver_name, receiver_contact, receiver_email, receiver_address,
			transport_mode, transport_cost, invoice_number, sold_by, sold_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		sale.ID, sale.ProductID, sale.ProductName, sale.SellStock, sale.UnitPrice, sale.TotalAmount,
		sale.ReceiverName, sale.ReceiverContact, sale.ReceiverEmail, sale.ReceiverAddress,
		sale.TransportMode, sale.TransportCost, sale.InvoiceNumber, nullIfEmpty(sale.SoldBy), sale.Date,
	)
	if err != nil {
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE materials
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1
	`, sale.ProductID, sale.SellStock); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

const saleColumns = `
	id, product_id, product_name, sell_stock, unit_price, total_amount,
	receiver_name, receiver_contact, receiver_email, receiver_address,
	transport_mode, transport_cost, invoice_number, sold_by, sold_at`

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var soldBy sql.NullString
	if err := row.Scan(
		&sale.ID, &sale.ProductID, &sale.ProductName, &sale.SellStock, &sale.UnitPrice, &sale.TotalAmount,
		&sale.ReceiverName, &sale.ReceiverContact, &sale.ReceiverEmail, &sale.ReceiverAddress,
		&sale.TransportMode, &sale.TransportCost, &sale.InvoiceNumber, &soldBy, &sale.Date,
	); err != nil {
		return nil, err
	}
	sale.SoldBy = soldBy.String
	sale.Date = sale.Date.UTC()
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	where, args := buildSaleWhere(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		`+where+`
		ORDER BY sold_at DESC, invoice_number DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 128)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSaleByInvoice(ctx context.Context, invoiceNumber int64) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE invoice_number = $1
	`, invoiceNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return sale, nil
}

func buildSaleWhere(filter domain.SaleFilter) (string, []any) {
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 6)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(args))))
	}

	if filter.From != nil {
		add("sold_at >= ?", *filter.From)
	}
	if filter.To != nil {
		add("sold_at < ?", *filter.To)
	}
	if filter.ProductName != "" {
		add("product_name ILIKE ?", containsPattern(filter.ProductName))
	}
	if filter.ReceiverName != "" {
		add("receiver_name ILIKE ?", containsPattern(filter.ReceiverName))
	}
	if filter.ReceiverExact != "" {
		add("lower(btrim(receiver_name)) = lower(?)", filter.ReceiverExact)
	}
	if filter.TransportMode != "" {
		add("lower(transport_mode) = lower(?)", filter.TransportMode)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// containsPattern escapes LIKE metacharacters so user input matches literally.
func containsPattern(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(value) + "%"
}

func validateMaterial(material domain.Material) error {
	if strings.TrimSpace(material.Name) == "" || material.Stock < 0 || material.Price.IsNegative() {
		return store.ErrInvalidInput
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
