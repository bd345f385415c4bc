package http

import (
	"encoding/json"

	"tally/internal/core"
)

// Amount accepts a monetary amount from the wire as either a decimal
// string ("12.34") or a JSON number.
type Amount string

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*a = Amount(n.String())
	return nil
}

// Cents parses the amount into cents, rejecting non-positive values.
func (a Amount) Cents() (int64, error) {
	return core.ParseDecimalToCents(string(a))
}

type expenseJSON struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	AmountCents int64  `json:"amount_cents"`
	Category    string `json:"category"`
	Date        string `json:"date"`
	Description string `json:"description"`
}

func toExpenseJSON(e core.Expense) expenseJSON {
	return expenseJSON{
		ID:          e.ID,
		Amount:      core.FormatCents(e.Amount.Cents),
		AmountCents: e.Amount.Cents,
		Category:    e.Category,
		Date:        e.Date.String(),
		Description: e.Description,
	}
}

func toExpenseListJSON(list []core.Expense) []expenseJSON {
	out := make([]expenseJSON, len(list))
	for i, e := range list {
		out[i] = toExpenseJSON(e)
	}
	return out
}

type userJSON struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	FullName     string `json:"full_name,omitempty"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role"`
	Balance      string `json:"balance"`
	BalanceCents int64  `json:"balance_cents"`
}

func toUserJSON(u core.User) userJSON {
	return userJSON{
		ID:           u.ID,
		Username:     u.Username,
		FullName:     u.FullName,
		Email:        u.Email,
		Role:         string(u.Role),
		Balance:      core.FormatCents(u.Balance.Cents),
		BalanceCents: u.Balance.Cents,
	}
}

type categoryJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type categoryAmountJSON struct {
	Name        string `json:"name"`
	Amount      string `json:"amount"`
	AmountCents int64  `json:"amount_cents"`
}

type summaryJSON struct {
	Year       int                  `json:"year"`
	Month      int                  `json:"month"`
	Total      string               `json:"total"`
	TotalCents int64                `json:"total_cents"`
	ByCategory []categoryAmountJSON `json:"by_category"`
}

func toSummaryJSON(s core.MonthSummary) summaryJSON {
	byCategory := make([]categoryAmountJSON, len(s.ByCategory))
	for i, c := range s.ByCategory {
		byCategory[i] = categoryAmountJSON{
			Name:        c.Name,
			Amount:      core.FormatCents(c.Amount.Cents),
			AmountCents: c.Amount.Cents,
		}
	}
	return summaryJSON{
		Year:       s.Year,
		Month:      s.Month,
		Total:      core.FormatCents(s.Total.Cents),
		TotalCents: s.Total.Cents,
		ByCategory: byCategory,
	}
}

type balanceJSON struct {
	NewBalance      string `json:"new_balance"`
	NewBalanceCents int64  `json:"new_balance_cents"`
}

func toBalanceJSON(cents int64) balanceJSON {
	return balanceJSON{
		NewBalance:      core.FormatCents(cents),
		NewBalanceCents: cents,
	}
}
