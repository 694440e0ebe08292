// Package analytics derives spending insights from transaction history.
package analytics

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pma-pay/pma_pay/internal/wallet"
)

// Insight types drive the presentation of each message.
const (
	InsightWarning = "warning"
	InsightInfo    = "info"
	InsightSuccess = "success"
	InsightTip     = "tip"
)

// Insight is one personalized observation about spending behaviour.
type Insight struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Trend summarizes recent spending direction.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

var (
	largeAverageThreshold = decimal.NewFromInt(500)
	spendingSpikeRatio    = decimal.NewFromFloat(1.5)
	trendUpRatio          = decimal.NewFromFloat(1.1)
	trendDownRatio        = decimal.NewFromFloat(0.9)
)

// spending filters the confirmed outgoing transactions insights run on.
func spending(txs []wallet.Transaction) []wallet.Transaction {
	var out []wallet.Transaction
	for _, tx := range txs {
		if tx.Status != wallet.StatusConfirmed {
			continue
		}
		if tx.Kind == wallet.TxSend || tx.Kind == wallet.TxBankTransfer {
			out = append(out, tx)
		}
	}
	return out
}

func sumBetween(txs []wallet.Transaction, from, to time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if !tx.Timestamp.Before(from) && tx.Timestamp.Before(to) {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// GenerateInsights produces the personalized insight feed for a
// transaction history, evaluated at now.
func GenerateInsights(txs []wallet.Transaction, now time.Time) []Insight {
	spent := spending(txs)
	if len(spent) == 0 {
		return []Insight{{
			ID:      "no-data",
			Type:    InsightInfo,
			Title:   "Start Tracking",
			Message: "Make some transactions to see personalized insights",
		}}
	}

	var insights []Insight
	thisStart := monthStart(now)
	lastStart := monthStart(thisStart.AddDate(0, 0, -1))
	thisMonth := sumBetween(spent, thisStart, now)
	lastMonth := sumBetween(spent, lastStart, thisStart)

	if lastMonth.IsPositive() && thisMonth.GreaterThan(lastMonth.Mul(spendingSpikeRatio)) {
		pct := thisMonth.Div(lastMonth).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Round(0)
		insights = append(insights, Insight{
			ID:      "high-spending",
			Type:    InsightWarning,
			Title:   "High Spending Alert",
			Message: fmt.Sprintf("You've spent %s%% more than last month", pct),
		})
	}

	total := decimal.Zero
	for _, tx := range spent {
		total = total.Add(tx.Amount)
	}
	average := total.Div(decimal.NewFromInt(int64(len(spent))))
	if average.GreaterThan(largeAverageThreshold) {
		insights = append(insights, Insight{
			ID:      "large-transactions",
			Type:    InsightInfo,
			Title:   "Large Transactions",
			Message: fmt.Sprintf("Your average transaction is $%s. Consider smaller, frequent payments.", average.Round(0)),
		})
	}

	currencies := make(map[wallet.Currency]struct{})
	for _, tx := range spent {
		currencies[tx.Currency] = struct{}{}
	}
	if len(currencies) == 1 {
		insights = append(insights, Insight{
			ID:      "currency-tip",
			Type:    InsightTip,
			Title:   "Currency Tip",
			Message: "Consider diversifying your spending across different currencies",
		})
	}

	if lastMonth.IsPositive() && thisMonth.LessThan(lastMonth) {
		pct := decimal.NewFromInt(1).Sub(thisMonth.Div(lastMonth)).Mul(decimal.NewFromInt(100)).Round(0)
		insights = append(insights, Insight{
			ID:      "good-control",
			Type:    InsightSuccess,
			Title:   "Great Control!",
			Message: fmt.Sprintf("You've reduced spending by %s%% this month", pct),
		})
	}

	return insights
}

// PredictMonthlySpending projects this month's total from the daily
// average so far.
func PredictMonthlySpending(txs []wallet.Transaction, now time.Time) decimal.Decimal {
	spent := spending(txs)
	start := monthStart(now)
	sofar := sumBetween(spent, start, now)
	if sofar.IsZero() {
		return decimal.Zero
	}

	day := decimal.NewFromInt(int64(now.Day()))
	daysInMonth := decimal.NewFromInt(int64(start.AddDate(0, 1, -1).Day()))
	return sofar.Div(day).Mul(daysInMonth)
}

// SpendingTrend compares the last window days against the window before
// it.
func SpendingTrend(txs []wallet.Transaction, now time.Time, window int) Trend {
	spent := spending(txs)
	weekAgo := now.AddDate(0, 0, -window)
	twoWeeksAgo := now.AddDate(0, 0, -2*window)

	recent := sumBetween(spent, weekAgo, now)
	previous := sumBetween(spent, twoWeeksAgo, weekAgo)

	switch {
	case recent.GreaterThan(previous.Mul(trendUpRatio)):
		return TrendUp
	case recent.LessThan(previous.Mul(trendDownRatio)):
		return TrendDown
	default:
		return TrendStable
	}
}

// Summary aggregates a month of confirmed spending for the analytics
// screen.
type Summary struct {
	Month      string                               `json:"month"`
	Total      decimal.Decimal                      `json:"total"`
	ByCurrency map[wallet.Currency]decimal.Decimal `json:"by_currency"`
	Count      int                                  `json:"count"`
	Projected  decimal.Decimal                      `json:"projected"`
	Trend      Trend                                `json:"trend"`
}

// MonthlySummary computes the current month's spending rollup.
func MonthlySummary(txs []wallet.Transaction, now time.Time) Summary {
	spent := spending(txs)
	start := monthStart(now)

	summary := Summary{
		Month:      start.Format("2006-01"),
		Total:      decimal.Zero,
		ByCurrency: make(map[wallet.Currency]decimal.Decimal),
		Projected:  PredictMonthlySpending(txs, now),
		Trend:      SpendingTrend(txs, now, 7),
	}
	for _, c := range wallet.Currencies() {
		summary.ByCurrency[c] = decimal.Zero
	}
	for _, tx := range spent {
		if tx.Timestamp.Before(start) || !tx.Timestamp.Before(now) {
			continue
		}
		summary.Total = summary.Total.Add(tx.Amount)
		summary.ByCurrency[tx.Currency] = summary.ByCurrency[tx.Currency].Add(tx.Amount)
		summary.Count++
	}
	return summary
}
