package core

import "sort"

// CategoryAmount is a spend total aggregated under one category label.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// MonthSummary is a compact spending overview for one calendar month.
type MonthSummary struct {
	Year       int
	Month      int // 1-12
	Total      Money
	ByCategory []CategoryAmount
}

// SummarizeMonth aggregates the expenses falling in the given month.
// Categories are ordered by total descending, ties by name.
func SummarizeMonth(expenses []Expense, year, month int) MonthSummary {
	totals := make(map[string]int64)
	var total int64

	for _, e := range expenses {
		if e.Date.Year != year || e.Date.Month != month {
			continue
		}
		totals[e.Category] += e.Amount.Cents
		total += e.Amount.Cents
	}

	byCategory := make([]CategoryAmount, 0, len(totals))
	for name, cents := range totals {
		byCategory = append(byCategory, CategoryAmount{Name: name, Amount: Money{Cents: cents}})
	}
	sort.Slice(byCategory, func(i, j int) bool {
		if byCategory[i].Amount.Cents != byCategory[j].Amount.Cents {
			return byCategory[i].Amount.Cents > byCategory[j].Amount.Cents
		}
		return byCategory[i].Name < byCategory[j].Name
	})

	return MonthSummary{
		Year:       year,
		Month:      month,
		Total:      Money{Cents: total},
		ByCategory: byCategory,
	}
}
