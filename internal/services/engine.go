package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/metrics"
)

// Store is the persistence surface the engine drives. Every mutation that
// touches both an expense row and a balance must be atomic inside the
// implementation.
type Store interface {
	GetBalance(ctx context.Context, owner string) (int64, error)
	AddFunds(ctx context.Context, owner string, cents int64) (int64, error)
	GetExpense(ctx context.Context, owner, id string) (core.Expense, error)
	ListExpenses(ctx context.Context, owner string) ([]core.Expense, error)
	ListAllExpenses(ctx context.Context) ([]core.Expense, error)
	CreateExpenseDebit(ctx context.Context, e core.Expense) (int64, error)
	UpdateExpenseAdjust(ctx context.Context, e core.Expense, deltaCents int64) (int64, error)
	DeleteExpenseCredit(ctx context.Context, owner, id string) (core.Expense, int64, error)
}

// CategoryValidator reports whether a category label is known.
type CategoryValidator interface {
	Validate(ctx context.Context, name string) error
}

// EventPublisher pushes balance change notifications to interested
// consumers. Publishing is best effort and never fails an operation.
type EventPublisher interface {
	PublishBalanceEvent(ctx context.Context, msg *amqp.BalanceEventMessage) error
}

// Engine owns every balance mutation. Operations for the same user are
// serialized so the affordability check and the write it guards cannot
// interleave with another writer.
type Engine struct {
	store      Store
	categories CategoryValidator
	publisher  EventPublisher
	logger     *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(store Store, categories CategoryValidator, publisher EventPublisher, logger *log.Logger) *Engine {
	return &Engine{
		store:      store,
		categories: categories,
		publisher:  publisher,
		logger:     logger.WithComponent(log.ComponentEngine),
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing operations for one user. Locks
// are never removed; the map grows with the number of distinct users.
func (e *Engine) lockFor(owner string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[owner]
	if !ok {
		l = &sync.Mutex{}
		e.locks[owner] = l
	}
	return l
}

// Balance returns the user's current spendable balance in cents.
func (e *Engine) Balance(ctx context.Context, owner string) (int64, error) {
	return e.store.GetBalance(ctx, owner)
}

// AddFunds credits the user's balance and returns the new balance.
func (e *Engine) AddFunds(ctx context.Context, owner string, amount core.Money) (newBalance int64, err error) {
	defer func() { metrics.ObserveEngineOp(log.OpAddFunds, err) }()

	if err = amount.Validate(); err != nil {
		return 0, err
	}

	l := e.lockFor(owner)
	l.Lock()
	defer l.Unlock()

	newBalance, err = e.store.AddFunds(ctx, owner, amount.Cents)
	if err != nil {
		return 0, err
	}

	e.logger.InfoContext(ctx, "Funds added",
		log.FieldUserID, owner,
		log.FieldAmountCents, amount.Cents,
		log.FieldBalanceCents, newBalance)
	e.publish(ctx, amqp.EventFundsAdded, owner, "", amount.Cents, newBalance)
	return newBalance, nil
}

// CreateExpense records a new expense after checking the user can afford
// it. Spending the balance down to exactly zero is allowed.
func (e *Engine) CreateExpense(ctx context.Context, owner string, exp core.Expense) (created core.Expense, newBalance int64, err error) {
	defer func() { metrics.ObserveEngineOp(log.OpCreate, err) }()

	exp.ID = uuid.NewString()
	exp.Owner = owner
	if err = exp.Validate(); err != nil {
		return core.Expense{}, 0, err
	}
	if err = e.categories.Validate(ctx, exp.Category); err != nil {
		return core.Expense{}, 0, err
	}

	l := e.lockFor(owner)
	l.Lock()
	defer l.Unlock()

	balance, err := e.store.GetBalance(ctx, owner)
	if err != nil {
		return core.Expense{}, 0, err
	}
	if exp.Amount.Cents > balance {
		return core.Expense{}, 0, fmt.Errorf("%w: amount %d exceeds balance %d",
			core.ErrInsufficientFunds, exp.Amount.Cents, balance)
	}

	newBalance, err = e.store.CreateExpenseDebit(ctx, exp)
	if err != nil {
		return core.Expense{}, 0, err
	}

	e.logger.InfoContext(ctx, "Expense created",
		log.FieldUserID, owner,
		log.FieldExpenseID, exp.ID,
		log.FieldAmountCents, exp.Amount.Cents,
		log.FieldCategory, exp.Category,
		log.FieldBalanceCents, newBalance)
	e.publish(ctx, amqp.EventExpenseCreated, owner, exp.ID, exp.Amount.Cents, newBalance)
	return exp, newBalance, nil
}

// GetExpense resolves an expense by id or by position in the user's
// current listing.
func (e *Engine) GetExpense(ctx context.Context, owner, ref string) (core.Expense, error) {
	return e.resolve(ctx, owner, ref)
}

// UpdateExpense applies a partial update. An amount increase is only
// allowed when the user can afford the difference; decreases always
// succeed and free up balance.
func (e *Engine) UpdateExpense(ctx context.Context, owner, ref string, patch core.ExpensePatch) (updated core.Expense, newBalance int64, err error) {
	defer func() { metrics.ObserveEngineOp(log.OpUpdate, err) }()

	if err = patch.Validate(); err != nil {
		return core.Expense{}, 0, err
	}

	l := e.lockFor(owner)
	l.Lock()
	defer l.Unlock()

	// Resolve first so an unknown expense reports NotFound even when the
	// patch also carries an unknown category.
	current, err := e.resolve(ctx, owner, ref)
	if err != nil {
		return core.Expense{}, 0, err
	}

	if patch.Category != nil {
		if err = e.categories.Validate(ctx, *patch.Category); err != nil {
			return core.Expense{}, 0, err
		}
	}

	updated = patch.Apply(current)
	delta := updated.Amount.Cents - current.Amount.Cents
	if delta > 0 {
		balance, err := e.store.GetBalance(ctx, owner)
		if err != nil {
			return core.Expense{}, 0, err
		}
		if delta > balance {
			return core.Expense{}, 0, fmt.Errorf("%w: increase %d exceeds balance %d",
				core.ErrInsufficientFunds, delta, balance)
		}
	}

	newBalance, err = e.store.UpdateExpenseAdjust(ctx, updated, delta)
	if err != nil {
		return core.Expense{}, 0, err
	}

	e.logger.InfoContext(ctx, "Expense updated",
		log.FieldUserID, owner,
		log.FieldExpenseID, updated.ID,
		log.FieldAmountCents, updated.Amount.Cents,
		log.FieldBalanceCents, newBalance)
	e.publish(ctx, amqp.EventExpenseUpdated, owner, updated.ID, updated.Amount.Cents, newBalance)
	return updated, newBalance, nil
}

// DeleteExpense removes an expense and credits its amount back to the
// user's balance.
func (e *Engine) DeleteExpense(ctx context.Context, owner, ref string) (deleted core.Expense, newBalance int64, err error) {
	defer func() { metrics.ObserveEngineOp(log.OpDelete, err) }()

	l := e.lockFor(owner)
	l.Lock()
	defer l.Unlock()

	current, err := e.resolve(ctx, owner, ref)
	if err != nil {
		return core.Expense{}, 0, err
	}

	deleted, newBalance, err = e.store.DeleteExpenseCredit(ctx, owner, current.ID)
	if err != nil {
		return core.Expense{}, 0, err
	}

	e.logger.InfoContext(ctx, "Expense deleted",
		log.FieldUserID, owner,
		log.FieldExpenseID, deleted.ID,
		log.FieldAmountCents, deleted.Amount.Cents,
		log.FieldBalanceCents, newBalance)
	e.publish(ctx, amqp.EventExpenseDeleted, owner, deleted.ID, deleted.Amount.Cents, newBalance)
	return deleted, newBalance, nil
}

// ListExpenses returns the user's expenses newest first, narrowed by the
// filter. Filtering happens after the listing so positional indexes keep
// referring to the unfiltered order.
func (e *Engine) ListExpenses(ctx context.Context, owner string, filter core.ExpenseFilter) ([]core.Expense, error) {
	list, err := e.store.ListExpenses(ctx, owner)
	if err != nil {
		return nil, err
	}
	if filter == (core.ExpenseFilter{}) {
		return list, nil
	}

	filtered := make([]core.Expense, 0, len(list))
	for _, exp := range list {
		if filter.Matches(exp) {
			filtered = append(filtered, exp)
		}
	}
	return filtered, nil
}

// MonthSummary aggregates the user's spending for one calendar month.
func (e *Engine) MonthSummary(ctx context.Context, owner string, year, month int) (core.MonthSummary, error) {
	if month < 1 || month > 12 {
		return core.MonthSummary{}, core.ErrInvalidMonth
	}

	list, err := e.store.ListExpenses(ctx, owner)
	if err != nil {
		return core.MonthSummary{}, err
	}
	return core.SummarizeMonth(list, year, month), nil
}

// ListAllExpenses returns every user's expenses newest first, narrowed
// by the filter.
func (e *Engine) ListAllExpenses(ctx context.Context, filter core.ExpenseFilter) ([]core.Expense, error) {
	list, err := e.store.ListAllExpenses(ctx)
	if err != nil {
		return nil, err
	}
	if filter == (core.ExpenseFilter{}) {
		return list, nil
	}

	filtered := make([]core.Expense, 0, len(list))
	for _, exp := range list {
		if filter.Matches(exp) {
			filtered = append(filtered, exp)
		}
	}
	return filtered, nil
}

// resolve turns an expense reference into a concrete expense. A UUID is
// looked up directly; a non-negative integer is a zero-based position in
// the user's current date-descending listing. The listing is re-read on
// every call, indexes are never cached.
func (e *Engine) resolve(ctx context.Context, owner, ref string) (core.Expense, error) {
	if _, err := uuid.Parse(ref); err == nil {
		return e.store.GetExpense(ctx, owner, ref)
	}

	if idx, err := strconv.Atoi(ref); err == nil && idx >= 0 {
		list, err := e.store.ListExpenses(ctx, owner)
		if err != nil {
			return core.Expense{}, err
		}
		if idx >= len(list) {
			return core.Expense{}, fmt.Errorf("%w: index %d, %d expenses", core.ErrOutOfRange, idx, len(list))
		}
		return list[idx], nil
	}

	return core.Expense{}, fmt.Errorf("%w: expense reference must be an id or a non-negative index", core.ErrInvalidRequest)
}

func (e *Engine) publish(ctx context.Context, event, owner, expenseID string, amountCents, balanceCents int64) {
	if e.publisher == nil {
		return
	}

	msg := amqp.NewBalanceEventMessage(event, owner, expenseID, amountCents, balanceCents)
	if err := e.publisher.PublishBalanceEvent(ctx, msg); err != nil {
		// The balance change is already committed; a lost event must
		// not fail the operation.
		metrics.EventsPublished.WithLabelValues("error").Inc()
		e.logger.ErrorContext(ctx, "Failed to publish balance event",
			"event", event, log.FieldUserID, owner, log.FieldError, err)
		return
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
}
