package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weaveledger/backend/internal/domain"
	"weaveledger/backend/internal/logger"
	"weaveledger/backend/internal/metrics"
	"weaveledger/backend/internal/service"
	"weaveledger/backend/internal/store"
)

type Options struct {
	AllowedOrigin string
	Logger        *logger.Logger
	Metrics       *metrics.Metrics
	// Gatherer backs /metrics. The route is not mounted when nil.
	Gatherer prometheus.Gatherer
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	log           *logger.Logger
	metrics       *metrics.Metrics
	gatherer      prometheus.Gatherer
	allowedOrigin string
	loginLimiter  *attemptLimiter
	signupLimiter *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	logg := opts.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		log:           logg,
		metrics:       opts.Metrics,
		gatherer:      opts.Gatherer,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		signupLimiter: newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func (l *attemptLimiter) middleware(a *API, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientKey(r)) {
				a.writeError(w, r, http.StatusTooManyRequests, errors.New(message))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		recoverer(a.log),
		requestID(a.log),
		requestLogger(a.log, a.metrics),
		securityHeaders,
		corsPolicy(a.allowedOrigin),
		limitBody,
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Get("/healthz", a.handleHealth)
	if a.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.With(a.signupLimiter.middleware(a, "too many signup attempts")).Post("/signup", a.handleSignup)
		r.With(a.loginLimiter.middleware(a, "too many login attempts")).Post("/login", a.handleLogin)
	})

	r.Get("/api/products", a.handleProductCounts)

	r.Route("/api/materials", func(r chi.Router) {
		r.Get("/", a.handleListMaterials)
		r.Get("/{id}", a.handleGetMaterial)
		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth, a.requireRole(domain.RoleAdmin))
			r.Post("/", a.handleCreateMaterial)
			r.Put("/{id}", a.handleUpdateMaterial)
			r.Delete("/{id}", a.handleDeleteMaterial)
		})
	})

	r.Route("/api/sales", func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Post("/", a.handleRecordSale)
		r.Get("/", a.handleListSales)
		r.Get("/transactions", a.handleListSales)
		r.Get("/receiver/{receiverName}", a.handleSalesByReceiver)
		r.Get("/invoice/{invoiceNumber}", a.handleSaleByInvoice)
	})

	r.Route("/api/reports", func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Get("/sales", a.handleSalesReport)
		r.Get("/sales/records", a.handleSalesRecords)
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req domain.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Signup(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProductCounts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ProductCounts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	materials, err := a.service.ListMaterials(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, materials)
}

func (a *API) handleGetMaterial(w http.ResponseWriter, r *http.Request) {
	material, err := a.service.GetMaterial(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, material)
}

func (a *API) handleCreateMaterial(w http.ResponseWriter, r *http.Request) {
	var req domain.MaterialRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	material, err := a.service.CreateMaterial(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.MaterialResponse{Message: "material added successfully", Material: material})
}

func (a *API) handleUpdateMaterial(w http.ResponseWriter, r *http.Request) {
	var req domain.MaterialRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	material, err := a.service.UpdateMaterial(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.MaterialResponse{Message: "material updated successfully", Material: material})
}

func (a *API) handleDeleteMaterial(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteMaterial(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "material deleted"})
}

func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.RecordSale(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.SaleResponse{Message: "sale recorded successfully", Sale: sale})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.ListSales(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleSalesByReceiver(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.ListSalesByReceiver(r.Context(), chi.URLParam(r, "receiverName"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleSaleByInvoice(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSaleByInvoice(r.Context(), chi.URLParam(r, "invoiceNumber"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	rep, err := a.service.SalesReport(r.Context(), reportQuery(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) handleSalesRecords(w http.ResponseWriter, r *http.Request) {
	records, err := a.service.SalesRecords(r.Context(), reportQuery(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func reportQuery(r *http.Request) service.ReportQuery {
	q := r.URL.Query()
	return service.ReportQuery{
		From:          q.Get("from"),
		To:            q.Get("to"),
		ProductName:   q.Get("productName"),
		ReceiverName:  q.Get("receiverName"),
		TransportMode: q.Get("transportMode"),
	}
}

// fail maps a service or auth error to its HTTP status.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	a.writeError(w, r, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errUserExists),
		errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrInsufficientStock):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	// 5xx causes are logged and replaced with a fixed message.
	msg := err.Error()
	if status >= 500 {
		a.log.Error(r.Context(), "request failed", err)
		msg = "internal server error"
	}
	payload := map[string]any{"error": msg}
	var vErr *validationError
	if errors.As(err, &vErr) {
		payload["details"] = vErr.details
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
