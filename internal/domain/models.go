package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices go over the wire as JSON numbers; the frontend does arithmetic on them.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type UserAccount struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type PublicUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type SignupRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	Role     string `json:"role" validate:"omitempty,oneof=admin user"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type AuthResponse struct {
	Message   string     `json:"message"`
	Token     string     `json:"token"`
	ExpiresAt string     `json:"expiresAt"`
	User      PublicUser `json:"user"`
}

type Material struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Stock     int             `json:"stock"`
	Price     decimal.Decimal `json:"price"`
	CreatedBy string          `json:"createdBy,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type MaterialRequest struct {
	Name  string          `json:"name" validate:"required,max=200"`
	Stock int             `json:"stock" validate:"gte=0"`
	Price decimal.Decimal `json:"price"`
}

// ProductCount is the public catalog projection used by the landing page.
type ProductCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Sale struct {
	ID              string          `json:"id"`
	ProductID       string          `json:"productId"`
	ProductName     string          `json:"productName"`
	SellStock       int             `json:"sellStock"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	ReceiverName    string          `json:"receiverName"`
	ReceiverContact string          `json:"receiverContact"`
	ReceiverEmail   string          `json:"receiverEmail"`
	ReceiverAddress string          `json:"receiverAddress"`
	TransportMode   string          `json:"transportMode"`
	TransportCost   decimal.Decimal `json:"transportCost"`
	InvoiceNumber   int64           `json:"invoiceNumber"`
	SoldBy          string          `json:"soldBy,omitempty"`
	Date            time.Time       `json:"date"`
}

type SaleRequest struct {
	ProductID       string          `json:"productId" validate:"required"`
	ProductName     string          `json:"productName" validate:"max=200"`
	SellStock       int             `json:"sellStock" validate:"required,gte=1"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	ReceiverName    string          `json:"receiverName" validate:"required,max=200"`
	ReceiverContact string          `json:"receiverContact" validate:"required,max=64"`
	ReceiverEmail   string          `json:"receiverEmail" validate:"omitempty,email,max=254"`
	ReceiverAddress string          `json:"receiverAddress" validate:"required,max=500"`
	TransportMode   string          `json:"transportMode" validate:"required,max=32"`
	TransportCost   decimal.Decimal `json:"transportCost"`
}

type MaterialResponse struct {
	Message  string   `json:"message"`
	Material Material `json:"material"`
}

type SaleResponse struct {
	Message string `json:"message"`
	Sale    Sale   `json:"sale"`
}

// SaleFilter narrows a sale listing. Zero values disable a criterion.
// From is inclusive, To is exclusive.
type SaleFilter struct {
	From          *time.Time
	To            *time.Time
	ProductName   string
	ReceiverName  string
	ReceiverExact string
	TransportMode string
}

type DailySales struct {
	Date         string          `json:"date"`
	TotalSold    int             `json:"totalSold"`
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
}

type ProductSales struct {
	ProductName  string          `json:"productName"`
	TotalSold    int             `json:"totalSold"`
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
}

type ProductRevenue struct {
	ProductName string          `json:"productName"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type TransportStat struct {
	TransportMode      string          `json:"transportMode"`
	TotalTransportCost decimal.Decimal `json:"totalTransportCost"`
	Usage              int             `json:"usage"`
}

type ProductDailyTrend struct {
	Date        string `json:"date"`
	ProductName string `json:"productName"`
	TotalSold   int    `json:"totalSold"`
}

type CustomerSpend struct {
	ReceiverName   string          `json:"receiverName"`
	Contact        string          `json:"contact"`
	TotalPurchased decimal.Decimal `json:"totalPurchased"`
}

type MonthlySummary struct {
	Month        string          `json:"month"`
	TotalSales   int             `json:"totalSales"`
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
}

type OverallSummary struct {
	TotalRevenue   decimal.Decimal `json:"totalRevenue"`
	TotalSold      int             `json:"totalSold"`
	TotalTransport decimal.Decimal `json:"totalTransport"`
	Orders         int             `json:"orders"`
}

type SalesReport struct {
	DailySales        []DailySales        `json:"dailySales"`
	TopProducts       []ProductSales      `json:"topProducts"`
	RevenueByProduct  []ProductRevenue    `json:"revenueByProduct"`
	TransportStats    []TransportStat     `json:"transportStats"`
	ProductDailyTrend []ProductDailyTrend `json:"productDailyTrend"`
	TopCustomers      []CustomerSpend     `json:"topCustomers"`
	MonthlySummary    []MonthlySummary    `json:"monthlySummary"`
	OverallSummary    OverallSummary      `json:"overallSummary"`
}

type SaleRecordsResponse struct {
	Sales []Sale `json:"sales"`
	Count int    `json:"count"`
}

// Matches reports whether a sale passes every criterion set on the filter.
func (f SaleFilter) Matches(s Sale) bool {
	if f.From != nil && s.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && !s.Date.Before(*f.To) {
		return false
	}
	if f.ProductName != "" && !containsFold(s.ProductName, f.ProductName) {
		return false
	}
	if f.ReceiverName != "" && !containsFold(s.ReceiverName, f.ReceiverName) {
		return false
	}
	if f.ReceiverExact != "" && !strings.EqualFold(strings.TrimSpace(s.ReceiverName), f.ReceiverExact) {
		return false
	}
	if f.TransportMode != "" && !strings.EqualFold(s.TransportMode, f.TransportMode) {
		return false
	}
	return true
}

func containsFold(value string, needle string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(needle))
}
