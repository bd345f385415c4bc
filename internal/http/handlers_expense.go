package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tally/internal/core"
)

type fundsRequest struct {
	Amount Amount `json:"amount"`
}

func (s *Server) handleAddFunds(w http.ResponseWriter, r *http.Request) {
	var req fundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrInvalidRequest))
		return
	}

	cents, err := req.Amount.Cents()
	if err != nil {
		writeError(w, r, err)
		return
	}

	claims := claimsFrom(r.Context())
	newBalance, err := s.engine.AddFunds(r.Context(), claims.UserID, core.Money{Cents: cents})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceJSON(newBalance))
}

type createExpenseRequest struct {
	Amount      Amount `json:"amount"`
	Category    string `json:"category"`
	Date        string `json:"date"`
	Description string `json:"description"`
}

type createExpenseResponse struct {
	ExpenseID       string `json:"expense_id"`
	NewBalance      string `json:"new_balance"`
	NewBalanceCents int64  `json:"new_balance_cents"`
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req createExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrInvalidRequest))
		return
	}

	cents, err := req.Amount.Cents()
	if err != nil {
		writeError(w, r, err)
		return
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		writeError(w, r, err)
		return
	}

	claims := claimsFrom(r.Context())
	created, newBalance, err := s.engine.CreateExpense(r.Context(), claims.UserID, core.Expense{
		Amount:      core.Money{Cents: cents},
		Category:    strings.TrimSpace(req.Category),
		Date:        date,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createExpenseResponse{
		ExpenseID:       created.ID,
		NewBalance:      core.FormatCents(newBalance),
		NewBalanceCents: newBalance,
	})
}

// filterFromQuery builds an expense filter from ?category=&start=&end=.
func filterFromQuery(r *http.Request) (core.ExpenseFilter, error) {
	var f core.ExpenseFilter
	q := r.URL.Query()

	f.Category = strings.TrimSpace(q.Get("category"))
	if v := strings.TrimSpace(q.Get("start")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return f, err
		}
		f.Start = d
	}
	if v := strings.TrimSpace(q.Get("end")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return f, err
		}
		f.End = d
	}
	return f, nil
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	claims := claimsFrom(r.Context())
	list, err := s.engine.ListExpenses(r.Context(), claims.UserID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toExpenseListJSON(list))
}

func (s *Server) handleMonthSummary(w http.ResponseWriter, r *http.Request) {
	month := strings.TrimSpace(r.URL.Query().Get("month"))
	t, err := time.Parse("2006-01", month)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: month must be YYYY-MM", core.ErrInvalidRequest))
		return
	}

	claims := claimsFrom(r.Context())
	summary, err := s.engine.MonthSummary(r.Context(), claims.UserID, t.Year(), int(t.Month()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSummaryJSON(summary))
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	e, err := s.engine.GetExpense(r.Context(), claims.UserID, r.PathValue("ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toExpenseJSON(e))
}

type updateExpenseRequest struct {
	Amount      *Amount `json:"amount"`
	Category    *string `json:"category"`
	Date        *string `json:"date"`
	Description *string `json:"description"`
}

func (req updateExpenseRequest) toPatch() (core.ExpensePatch, error) {
	var p core.ExpensePatch

	if req.Amount != nil {
		cents, err := req.Amount.Cents()
		if err != nil {
			return p, err
		}
		p.Amount = &core.Money{Cents: cents}
	}
	if req.Category != nil {
		c := strings.TrimSpace(*req.Category)
		p.Category = &c
	}
	if req.Date != nil {
		d, err := core.ParseDate(*req.Date)
		if err != nil {
			return p, err
		}
		p.Date = &d
	}
	if req.Description != nil {
		d := strings.TrimSpace(*req.Description)
		p.Description = &d
	}
	return p, nil
}

type okResponse struct {
	OK              bool   `json:"ok"`
	NewBalance      string `json:"new_balance"`
	NewBalanceCents int64  `json:"new_balance_cents"`
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req updateExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrInvalidRequest))
		return
	}

	patch, err := req.toPatch()
	if err != nil {
		writeError(w, r, err)
		return
	}

	claims := claimsFrom(r.Context())
	_, newBalance, err := s.engine.UpdateExpense(r.Context(), claims.UserID, r.PathValue("ref"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{
		OK:              true,
		NewBalance:      core.FormatCents(newBalance),
		NewBalanceCents: newBalance,
	})
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	_, newBalance, err := s.engine.DeleteExpense(r.Context(), claims.UserID, r.PathValue("ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{
		OK:              true,
		NewBalance:      core.FormatCents(newBalance),
		NewBalanceCents: newBalance,
	})
}
