package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"whaleTracker/internal/domain"
)

// Summarize computes per-market buy/sell totals for the trades of one window.
// Trades outside the window are ignored. The result does not depend on the order of trades:
// markets are sorted by total USD volume descending, ties broken by market identifier.
// ID and GeneratedAt are left for the caller.
func Summarize(account string, w domain.Window, trades []*domain.Trade) *domain.Report {
	report := &domain.Report{
		Account:      account,
		Window:       w,
		Markets:      []domain.MarketStats{},
		TotalBuyUSD:  decimal.Zero,
		TotalSellUSD: decimal.Zero,
	}

	byMarket := make(map[string]*domain.MarketStats)
	seen := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		if t == nil || !w.Contains(t.ExecutedAt) {
			continue
		}
		// The store already de-duplicates, this keeps Summarize safe on raw input.
		if _, dup := seen[t.Key()]; dup {
			continue
		}
		seen[t.Key()] = struct{}{}

		stats, ok := byMarket[t.Market]
		if !ok {
			stats = &domain.MarketStats{Market: t.Market, BuyUSD: decimal.Zero, SellUSD: decimal.Zero}
			byMarket[t.Market] = stats
		}
		switch t.Side {
		case domain.Buy:
			stats.BuyUSD = stats.BuyUSD.Add(t.USDValue)
			stats.BuyCount++
			report.TotalBuyUSD = report.TotalBuyUSD.Add(t.USDValue)
		case domain.Sell:
			stats.SellUSD = stats.SellUSD.Add(t.USDValue)
			stats.SellCount++
			report.TotalSellUSD = report.TotalSellUSD.Add(t.USDValue)
		default:
			continue
		}
		report.TradeCount++
	}

	for _, stats := range byMarket {
		if stats.BuyCount+stats.SellCount == 0 {
			continue
		}
		report.Markets = append(report.Markets, *stats)
	}
	sort.Slice(report.Markets, func(i, j int) bool {
		if c := report.Markets[i].TotalUSD().Cmp(report.Markets[j].TotalUSD()); c != 0 {
			return c > 0
		}
		return report.Markets[i].Market < report.Markets[j].Market
	})
	return report
}
