package report

import (
	"slices"
	"strings"

	"weaveledger/backend/internal/domain"
)

const topN = 5

// Build aggregates sale records into the dashboard report. Days and months are
// bucketed in UTC. Every list is non-nil so it encodes as [] when empty.
func Build(sales []domain.Sale) domain.SalesReport {
	ordered := slices.Clone(sales)
	slices.SortStableFunc(ordered, func(a, b domain.Sale) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmpInt64(a.InvoiceNumber, b.InvoiceNumber)
	})

	daily := map[string]*domain.DailySales{}
	monthly := map[string]*domain.MonthlySummary{}
	products := map[string]*domain.ProductSales{}
	transport := map[string]*domain.TransportStat{}
	trend := map[[2]string]*domain.ProductDailyTrend{}
	customers := map[string]*domain.CustomerSpend{}

	overall := domain.OverallSummary{}

	for _, sale := range ordered {
		day := sale.Date.UTC().Format("2006-01-02")
		month := sale.Date.UTC().Format("2006-01")

		d, ok := daily[day]
		if !ok {
			d = &domain.DailySales{Date: day}
			daily[day] = d
		}
		d.TotalSold += sale.SellStock
		d.TotalRevenue = d.TotalRevenue.Add(sale.TotalAmount)

		m, ok := monthly[month]
		if !ok {
			m = &domain.MonthlySummary{Month: month}
			monthly[month] = m
		}
		m.TotalSales += sale.SellStock
		m.TotalRevenue = m.TotalRevenue.Add(sale.TotalAmount)

		p, ok := products[sale.ProductName]
		if !ok {
			p = &domain.ProductSales{ProductName: sale.ProductName}
			products[sale.ProductName] = p
		}
		p.TotalSold += sale.SellStock
		p.TotalRevenue = p.TotalRevenue.Add(sale.TotalAmount)

		t, ok := transport[sale.TransportMode]
		if !ok {
			t = &domain.TransportStat{TransportMode: sale.TransportMode}
			transport[sale.TransportMode] = t
		}
		t.TotalTransportCost = t.TotalTransportCost.Add(sale.TransportCost)
		t.Usage++

		trendKey := [2]string{day, sale.ProductName}
		tr, ok := trend[trendKey]
		if !ok {
			tr = &domain.ProductDailyTrend{Date: day, ProductName: sale.ProductName}
			trend[trendKey] = tr
		}
		tr.TotalSold += sale.SellStock

		c, ok := customers[sale.ReceiverName]
		if !ok {
			// Contact is taken from the customer's earliest sale.
			c = &domain.CustomerSpend{ReceiverName: sale.ReceiverName, Contact: sale.ReceiverContact}
			customers[sale.ReceiverName] = c
		}
		c.TotalPurchased = c.TotalPurchased.Add(sale.TotalAmount)

		overall.TotalRevenue = overall.TotalRevenue.Add(sale.TotalAmount)
		overall.TotalSold += sale.SellStock
		overall.TotalTransport = overall.TotalTransport.Add(sale.TransportCost)
		overall.Orders++
	}

	dailySales := values(daily)
	slices.SortFunc(dailySales, func(a, b domain.DailySales) int { return strings.Compare(a.Date, b.Date) })

	monthlySummary := values(monthly)
	slices.SortFunc(monthlySummary, func(a, b domain.MonthlySummary) int { return strings.Compare(a.Month, b.Month) })

	productSales := values(products)
	slices.SortFunc(productSales, func(a, b domain.ProductSales) int {
		if a.TotalSold != b.TotalSold {
			return b.TotalSold - a.TotalSold
		}
		return strings.Compare(a.ProductName, b.ProductName)
	})

	revenueByProduct := make([]domain.ProductRevenue, 0, len(productSales))
	for _, p := range productSales {
		revenueByProduct = append(revenueByProduct, domain.ProductRevenue{ProductName: p.ProductName, Revenue: p.TotalRevenue})
	}
	slices.SortFunc(revenueByProduct, func(a, b domain.ProductRevenue) int { return strings.Compare(a.ProductName, b.ProductName) })

	transportStats := values(transport)
	slices.SortFunc(transportStats, func(a, b domain.TransportStat) int { return strings.Compare(a.TransportMode, b.TransportMode) })

	productTrend := values(trend)
	slices.SortFunc(productTrend, func(a, b domain.ProductDailyTrend) int {
		if c := strings.Compare(a.Date, b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.ProductName, b.ProductName)
	})

	topCustomers := values(customers)
	slices.SortFunc(topCustomers, func(a, b domain.CustomerSpend) int {
		if c := b.TotalPurchased.Cmp(a.TotalPurchased); c != 0 {
			return c
		}
		return strings.Compare(a.ReceiverName, b.ReceiverName)
	})

	return domain.SalesReport{
		DailySales:        dailySales,
		TopProducts:       limit(productSales, topN),
		RevenueByProduct:  revenueByProduct,
		TransportStats:    transportStats,
		ProductDailyTrend: productTrend,
		TopCustomers:      limit(topCustomers, topN),
		MonthlySummary:    monthlySummary,
		OverallSummary:    overall,
	}
}

func values[K comparable, V any](m map[K]*V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, *v)
	}
	return out
}

func limit[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
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
