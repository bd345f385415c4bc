package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.BalanceEventMessage
	fail   bool
}

func (p *recordingPublisher) PublishBalanceEvent(_ context.Context, msg *amqp.BalanceEventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, msg)
	return nil
}

func (p *recordingPublisher) eventNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.events))
	for i, e := range p.events {
		names[i] = e.Event
	}
	return names
}

func testLogger() *log.Logger {
	return log.New(log.Config{
		Component: "test",
		Handler:   slog.NewTextHandler(io.Discard, nil),
	})
}

type EngineSuite struct {
	suite.Suite
	repo      *storage.SQLiteRepository
	engine    *Engine
	publisher *recordingPublisher
	user      core.User
	ctx       context.Context
}

func (s *EngineSuite) SetupTest() {
	repo, err := storage.NewSQLiteRepository(filepath.Join(s.T().TempDir(), "tally.db"))
	require.NoError(s.T(), err)
	s.repo = repo
	s.ctx = context.Background()

	logger := testLogger()
	s.publisher = &recordingPublisher{}
	s.engine = NewEngine(repo, NewCategoryService(repo, logger), s.publisher, logger)

	s.user = core.User{
		ID:           uuid.NewString(),
		Username:     "alice",
		PasswordHash: "x",
		Role:         core.RoleUser,
	}
	require.NoError(s.T(), repo.CreateUser(s.ctx, s.user))
}

func (s *EngineSuite) TearDownTest() {
	require.NoError(s.T(), s.repo.Close())
}

func (s *EngineSuite) addFunds(cents int64) int64 {
	balance, err := s.engine.AddFunds(s.ctx, s.user.ID, core.Money{Cents: cents})
	s.Require().NoError(err)
	return balance
}

func (s *EngineSuite) create(cents int64, date core.Date) core.Expense {
	created, _, err := s.engine.CreateExpense(s.ctx, s.user.ID, core.Expense{
		Amount:      core.Money{Cents: cents},
		Category:    "Food",
		Date:        date,
		Description: "test expense",
	})
	s.Require().NoError(err)
	return created
}

// checkInvariant asserts balance == funds added minus the sum of live
// expense amounts.
func (s *EngineSuite) checkInvariant(fundsAdded int64) {
	list, err := s.engine.ListExpenses(s.ctx, s.user.ID, core.ExpenseFilter{})
	s.Require().NoError(err)
	var spent int64
	for _, e := range list {
		spent += e.Amount.Cents
	}
	balance, err := s.engine.Balance(s.ctx, s.user.ID)
	s.Require().NoError(err)
	s.EqualValues(fundsAdded-spent, balance)
}

func (s *EngineSuite) TestAddFunds() {
	s.EqualValues(1000, s.addFunds(1000))
	s.EqualValues(1500, s.addFunds(500))

	_, err := s.engine.AddFunds(s.ctx, s.user.ID, core.Money{Cents: 0})
	s.True(errors.Is(err, core.ErrInvalidAmount))
	_, err = s.engine.AddFunds(s.ctx, s.user.ID, core.Money{Cents: -100})
	s.True(errors.Is(err, core.ErrInvalidAmount))

	s.Equal([]string{amqp.EventFundsAdded, amqp.EventFundsAdded}, s.publisher.eventNames())
}

func (s *EngineSuite) TestCreateExpenseDebitsBalance() {
	s.addFunds(1000)
	created := s.create(300, core.NewDate(2025, 6, 1))

	s.NotEmpty(created.ID)
	s.Equal(s.user.ID, created.Owner)

	balance, err := s.engine.Balance(s.ctx, s.user.ID)
	s.Require().NoError(err)
	s.EqualValues(700, balance)
	s.checkInvariant(1000)
}

func (s *EngineSuite) TestCreateExpenseInsufficientFunds() {
	s.addFunds(100)

	_, _, err := s.engine.CreateExpense(s.ctx, s.user.ID, core.Expense{
		Amount:      core.Money{Cents: 101},
		Category:    "Food",
		Date:        core.NewDate(2025, 6, 1),
		Description: "too expensive",
	})
	s.True(errors.Is(err, core.ErrInsufficientFunds))

	// The failed attempt must leave no trace.
	list, err := s.engine.ListExpenses(s.ctx, s.user.ID, core.ExpenseFilter{})
	s.Require().NoError(err)
	s.Empty(list)
	s.checkInvariant(100)
}

func (s *EngineSuite) TestCreateExpenseExactBalance() {
	s.addFunds(100)

	// Spending down to exactly zero is allowed.
	s.create(100, core.NewDate(2025, 6, 1))
	balance, err := s.engine.Balance(s.ctx, s.user.ID)
	s.Require().NoError(err)
	s.EqualValues(0, balance)

	// One more cent is not.
	_, _, err = s.engine.CreateExpense(s.ctx, s.user.ID, core.Expense{
		Amount:      core.Money{Cents: 1},
		Category:    "Food",
		Date:        core.NewDate(2025, 6, 1),
		Description: "one cent too far",
	})
	s.True(errors.Is(err, core.ErrInsufficientFunds))
}

func (s *EngineSuite) TestCreateExpenseUnknownCategory() {
	s.addFunds(1000)

	_, _, err := s.engine.CreateExpense(s.ctx, s.user.ID, core.Expense{
		Amount:      core.Money{Cents: 100},
		Category:    "Nonexistent",
		Date:        core.NewDate(2025, 6, 1),
		Description: "bad label",
	})
	s.True(errors.Is(err, core.ErrInvalidCategory))
}

func (s *EngineSuite) TestCreateExpenseInvalidAmount() {
	s.addFunds(1000)

	_, _, err := s.engine.CreateExpense(s.ctx, s.user.ID, core.Expense{
		Amount:      core.Money{Cents: 0},
		Category:    "Food",
		Date:        core.NewDate(2025, 6, 1),
		Description: "free lunch",
	})
	s.True(errors.Is(err, core.ErrInvalidAmount))
}

func (s *EngineSuite) TestUpdateExpenseDecrease() {
	s.addFunds(1000)
	e := s.create(500, core.NewDate(2025, 6, 1))

	amt := core.Money{Cents: 200}
	updated, balance, err := s.engine.UpdateExpense(s.ctx, s.user.ID, e.ID, core.ExpensePatch{Amount: &amt})
	s.Require().NoError(err)
	s.EqualValues(200, updated.Amount.Cents)
	s.EqualValues(800, balance)
	s.checkInvariant(1000)
}

func (s *EngineSuite) TestUpdateExpenseIncreaseBeyondBalance() {
	s.addFunds(1000)
	e := s.create(500, core.NewDate(2025, 6, 1))

	// Balance is 500; an increase of 600 cannot be afforded.
	amt := core.Money{Cents: 1100}
	_, _, err := s.engine.UpdateExpense(s.ctx, s.user.ID, e.ID, core.ExpensePatch{Amount: &amt})
	s.True(errors.Is(err, core.ErrInsufficientFunds))

	// State unchanged.
	got, err := s.engine.GetExpense(s.ctx, s.user.ID, e.ID)
	s.Require().NoError(err)
	s.EqualValues(500, got.Amount.Cents)
	s.checkInvariant(1000)
}

func (s *EngineSuite) TestUpdateExpenseIncreaseToExactBalance() {
	s.addFunds(1000)
	e := s.create(500, core.NewDate(2025, 6, 1))

	// Increase of exactly the remaining balance is allowed.
	amt := core.Money{Cents: 1000}
	_, balance, err := s.engine.UpdateExpense(s.ctx, s.user.ID, e.ID, core.ExpensePatch{Amount: &amt})
	s.Require().NoError(err)
	s.EqualValues(0, balance)
	s.checkInvariant(1000)
}

func (s *EngineSuite) TestUpdateExpenseEmptyPatch() {
	s.addFunds(1000)
	e := s.create(500, core.NewDate(2025, 6, 1))

	_, _, err := s.engine.UpdateExpense(s.ctx, s.user.ID, e.ID, core.ExpensePatch{})
	s.True(errors.Is(err, core.ErrInvalidRequest))
}

func (s *EngineSuite) TestDeleteExpenseRestoresBalance() {
	s.addFunds(1000)
	e := s.create(300, core.NewDate(2025, 6, 1))

	deleted, balance, err := s.engine.DeleteExpense(s.ctx, s.user.ID, e.ID)
	s.Require().NoError(err)
	s.Equal(e.ID, deleted.ID)
	s.EqualValues(1000, balance)
	s.checkInvariant(1000)

	_, _, err = s.engine.DeleteExpense(s.ctx, s.user.ID, e.ID)
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *EngineSuite) TestCreateDeleteRoundTrip() {
	s.addFunds(1000)

	// A create followed by a delete is a no-op on the balance.
	for i := 0; i < 5; i++ {
		e := s.create(250, core.NewDate(2025, 6, 1))
		_, _, err := s.engine.DeleteExpense(s.ctx, s.user.ID, e.ID)
		s.Require().NoError(err)
	}

	balance, err := s.engine.Balance(s.ctx, s.user.ID)
	s.Require().NoError(err)
	s.EqualValues(1000, balance)
}

func (s *EngineSuite) TestResolveByIndex() {
	s.addFunds(10000)
	oldest := s.create(100, core.NewDate(2025, 1, 1))
	middle := s.create(200, core.NewDate(2025, 2, 1))
	newest := s.create(300, core.NewDate(2025, 3, 1))

	got, err := s.engine.GetExpense(s.ctx, s.user.ID, "0")
	s.Require().NoError(err)
	s.Equal(newest.ID, got.ID)

	got, err = s.engine.GetExpense(s.ctx, s.user.ID, "1")
	s.Require().NoError(err)
	s.Equal(middle.ID, got.ID)

	got, err = s.engine.GetExpense(s.ctx, s.user.ID, "2")
	s.Require().NoError(err)
	s.Equal(oldest.ID, got.ID)

	_, err = s.engine.GetExpense(s.ctx, s.user.ID, "3")
	s.True(errors.Is(err, core.ErrOutOfRange))
}

func (s *EngineSuite) TestResolveIndexShiftsAfterDelete() {
	s.addFunds(10000)
	s.create(100, core.NewDate(2025, 1, 1))
	newest := s.create(300, core.NewDate(2025, 3, 1))

	// Deleting index 0 (the newest) promotes the older expense to 0.
	deleted, _, err := s.engine.DeleteExpense(s.ctx, s.user.ID, "0")
	s.Require().NoError(err)
	s.Equal(newest.ID, deleted.ID)

	got, err := s.engine.GetExpense(s.ctx, s.user.ID, "0")
	s.Require().NoError(err)
	s.EqualValues(100, got.Amount.Cents)
}

func (s *EngineSuite) TestResolveBadReferences() {
	s.addFunds(1000)
	s.create(100, core.NewDate(2025, 6, 1))

	_, err := s.engine.GetExpense(s.ctx, s.user.ID, "abc")
	s.True(errors.Is(err, core.ErrInvalidRequest))

	_, err = s.engine.GetExpense(s.ctx, s.user.ID, "-1")
	s.True(errors.Is(err, core.ErrInvalidRequest))

	_, err = s.engine.GetExpense(s.ctx, s.user.ID, uuid.NewString())
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *EngineSuite) TestListExpensesFilter() {
	s.addFunds(10000)
	s.create(100, core.NewDate(2025, 1, 15))
	s.create(200, core.NewDate(2025, 2, 15))
	s.create(300, core.NewDate(2025, 3, 15))

	list, err := s.engine.ListExpenses(s.ctx, s.user.ID, core.ExpenseFilter{
		Start: core.NewDate(2025, 2, 1),
		End:   core.NewDate(2025, 2, 28),
	})
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.EqualValues(200, list[0].Amount.Cents)

	list, err = s.engine.ListExpenses(s.ctx, s.user.ID, core.ExpenseFilter{Category: "Travel"})
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *EngineSuite) TestConcurrentCreatesSameUser() {
	s.addFunds(100)

	// Only one of the racing creates can be afforded.
	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.engine.CreateExpense(s.ctx, s.user.ID, core.Expense{
				Amount:      core.Money{Cents: 100},
				Category:    "Food",
				Date:        core.NewDate(2025, 6, 1),
				Description: "racing expense",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, insufficient int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, core.ErrInsufficientFunds):
			insufficient++
		default:
			s.T().Fatalf("unexpected error: %v", err)
		}
	}
	s.Equal(1, succeeded)
	s.Equal(workers-1, insufficient)

	balance, err := s.engine.Balance(s.ctx, s.user.ID)
	s.Require().NoError(err)
	s.EqualValues(0, balance)
	s.checkInvariant(100)
}

func (s *EngineSuite) TestPublisherFailureDoesNotFailOperation() {
	s.publisher.fail = true

	balance, err := s.engine.AddFunds(s.ctx, s.user.ID, core.Money{Cents: 1000})
	s.Require().NoError(err)
	s.EqualValues(1000, balance)
}

func (s *EngineSuite) TestEventSequence() {
	s.addFunds(1000)
	e := s.create(300, core.NewDate(2025, 6, 1))
	amt := core.Money{Cents: 400}
	_, _, err := s.engine.UpdateExpense(s.ctx, s.user.ID, e.ID, core.ExpensePatch{Amount: &amt})
	s.Require().NoError(err)
	_, _, err = s.engine.DeleteExpense(s.ctx, s.user.ID, e.ID)
	s.Require().NoError(err)

	s.Equal([]string{
		amqp.EventFundsAdded,
		amqp.EventExpenseCreated,
		amqp.EventExpenseUpdated,
		amqp.EventExpenseDeleted,
	}, s.publisher.eventNames())
}

func (s *EngineSuite) TestUpdateUnknownExpenseReportsNotFound() {
	s.addFunds(1000)
	e := s.create(300, core.NewDate(2025, 6, 1))

	// An unknown expense wins over an unknown category in the patch.
	cat := "NoSuchCategory"
	_, _, err := s.engine.UpdateExpense(s.ctx, s.user.ID, uuid.NewString(), core.ExpensePatch{Category: &cat})
	s.ErrorIs(err, core.ErrNotFound)

	// The category is still checked once the expense exists.
	_, _, err = s.engine.UpdateExpense(s.ctx, s.user.ID, e.ID, core.ExpensePatch{Category: &cat})
	s.ErrorIs(err, core.ErrInvalidCategory)
}

func (s *EngineSuite) TestListExpensesReadIdempotent() {
	s.addFunds(10000)
	s.create(1000, core.NewDate(2025, 6, 1))
	s.create(500, core.NewDate(2025, 6, 15))
	s.create(2000, core.NewDate(2025, 6, 15))

	first, err := s.engine.ListExpenses(s.ctx, s.user.ID, core.ExpenseFilter{})
	s.Require().NoError(err)
	second, err := s.engine.ListExpenses(s.ctx, s.user.ID, core.ExpenseFilter{})
	s.Require().NoError(err)

	s.Equal(first, second)
}

func (s *EngineSuite) TestMonthSummary() {
	s.addFunds(10000)
	s.create(1000, core.NewDate(2025, 6, 1))
	s.create(500, core.NewDate(2025, 6, 15))
	s.create(2000, core.NewDate(2025, 5, 30))

	summary, err := s.engine.MonthSummary(s.ctx, s.user.ID, 2025, 6)
	s.Require().NoError(err)
	s.EqualValues(1500, summary.Total.Cents)
	s.Require().Len(summary.ByCategory, 1)
	s.Equal("Food", summary.ByCategory[0].Name)

	_, err = s.engine.MonthSummary(s.ctx, s.user.ID, 2025, 13)
	s.ErrorIs(err, core.ErrInvalidMonth)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}
