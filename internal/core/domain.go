package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type (
	// Role is the coarse authorization level of a user account.
	Role string

	// Date is a calendar label (no time component, no timezone). Expenses
	// carry one for grouping and ordering only.
	Date struct {
		Year  int
		Month int
		Day   int
	}

	Money struct {
		Cents int64
	}

	// User is an account holding a spendable balance. The balance is only
	// ever mutated through the balance engine.
	User struct {
		ID           string
		Username     string
		FullName     string
		Email        string
		PasswordHash string
		Role         Role
		Balance      Money
	}

	Expense struct {
		ID          string
		Owner       string // user ID
		Amount      Money
		Category    string
		Date        Date
		Description string
	}

	Category struct {
		ID   string
		Name string
	}

	// ExpensePatch carries the optional fields of an expense update. A nil
	// field is left untouched.
	ExpensePatch struct {
		Amount      *Money
		Category    *string
		Date        *Date
		Description *string
	}

	// ExpenseFilter narrows a listing; fields are conjunctive, zero values
	// mean "no constraint".
	ExpenseFilter struct {
		Category string
		Start    Date
		End      Date
	}
)

// ParseDate parses a YYYY-MM-DD calendar label.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}, nil
}

// NewDate builds a Date from its parts without validation.
func NewDate(year, month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// String renders the ISO form, which also sorts chronologically as text.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) Validate() error {
	if d.Month < 1 || d.Month > 12 {
		return ErrInvalidMonth
	}
	if d.Day < 1 || d.Day > 31 {
		return ErrInvalidDay
	}
	// Reject labels like Feb 30 that survive the range checks.
	t := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	if t.Day() != d.Day || int(t.Month()) != d.Month {
		return ErrInvalidDay
	}
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

func (e Expense) Validate() error {
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return fmt.Errorf("%w: description too long (max 200 characters)", ErrInvalidRequest)
	}
	return nil
}

// IsEmpty reports whether the patch carries no fields at all; such a patch
// is rejected before any storage access.
func (p ExpensePatch) IsEmpty() bool {
	return p.Amount == nil && p.Category == nil && p.Date == nil && p.Description == nil
}

func (p ExpensePatch) Validate() error {
	if p.IsEmpty() {
		return ErrInvalidRequest
	}
	if p.Amount != nil {
		if err := p.Amount.Validate(); err != nil {
			return err
		}
	}
	if p.Category != nil && strings.TrimSpace(*p.Category) == "" {
		return ErrEmptyCategory
	}
	if p.Date != nil {
		if err := p.Date.Validate(); err != nil {
			return err
		}
	}
	if p.Description != nil {
		if len(strings.TrimSpace(*p.Description)) == 0 {
			return ErrEmptyDescription
		}
		if len(*p.Description) > 200 {
			return fmt.Errorf("%w: description too long (max 200 characters)", ErrInvalidRequest)
		}
	}
	return nil
}

// Apply returns a copy of e with the patch fields substituted.
func (p ExpensePatch) Apply(e Expense) Expense {
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	return e
}

// Matches reports whether the expense satisfies every filter constraint.
// Date bounds are inclusive, compared as calendar labels.
func (f ExpenseFilter) Matches(e Expense) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if !f.Start.IsZero() && e.Date.String() < f.Start.String() {
		return false
	}
	if !f.End.IsZero() && e.Date.String() > f.End.String() {
		return false
	}
	return true
}
