package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"tally/internal/core"
)

type RepositorySuite struct {
	suite.Suite
	repo *SQLiteRepository
	ctx  context.Context
}

func (s *RepositorySuite) SetupTest() {
	dbPath := filepath.Join(s.T().TempDir(), "tally.db")
	repo, err := NewSQLiteRepository(dbPath)
	require.NoError(s.T(), err)
	s.repo = repo
	s.ctx = context.Background()
}

func (s *RepositorySuite) TearDownTest() {
	require.NoError(s.T(), s.repo.Close())
}

func (s *RepositorySuite) newUser(username string) core.User {
	u := core.User{
		ID:           uuid.NewString(),
		Username:     username,
		FullName:     "Test User",
		Email:        username + "@example.com",
		PasswordHash: "$2a$10$fakefakefakefakefakefake",
		Role:         core.RoleUser,
	}
	require.NoError(s.T(), s.repo.CreateUser(s.ctx, u))
	return u
}

func (s *RepositorySuite) newExpense(owner string, cents int64, date core.Date) core.Expense {
	return core.Expense{
		ID:          uuid.NewString(),
		Owner:       owner,
		Amount:      core.Money{Cents: cents},
		Category:    "Food",
		Date:        date,
		Description: "test expense",
	}
}

func (s *RepositorySuite) TestCreateAndGetUser() {
	u := s.newUser("alice")

	got, err := s.repo.GetUserByID(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Equal(u.Username, got.Username)
	s.Equal(core.RoleUser, got.Role)
	s.EqualValues(0, got.Balance.Cents)

	byName, err := s.repo.GetUserByUsername(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(u.ID, byName.ID)
}

func (s *RepositorySuite) TestCreateUserDuplicateUsername() {
	s.newUser("alice")

	dup := core.User{ID: uuid.NewString(), Username: "alice", PasswordHash: "x", Role: core.RoleUser}
	err := s.repo.CreateUser(s.ctx, dup)
	s.Require().Error(err)
	s.True(errors.Is(err, core.ErrInvalidRequest))
}

func (s *RepositorySuite) TestGetUserNotFound() {
	_, err := s.repo.GetUserByID(s.ctx, uuid.NewString())
	s.True(errors.Is(err, core.ErrNotFound))

	_, err = s.repo.GetUserByUsername(s.ctx, "nobody")
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *RepositorySuite) TestSetUserRole() {
	u := s.newUser("alice")

	s.Require().NoError(s.repo.SetUserRole(s.ctx, u.ID, core.RoleAdmin))
	got, err := s.repo.GetUserByID(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Equal(core.RoleAdmin, got.Role)

	err = s.repo.SetUserRole(s.ctx, uuid.NewString(), core.RoleAdmin)
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *RepositorySuite) TestAddFundsAndGetBalance() {
	u := s.newUser("alice")

	balance, err := s.repo.AddFunds(s.ctx, u.ID, 1000)
	s.Require().NoError(err)
	s.EqualValues(1000, balance)

	balance, err = s.repo.AddFunds(s.ctx, u.ID, 250)
	s.Require().NoError(err)
	s.EqualValues(1250, balance)

	got, err := s.repo.GetBalance(s.ctx, u.ID)
	s.Require().NoError(err)
	s.EqualValues(1250, got)

	_, err = s.repo.AddFunds(s.ctx, uuid.NewString(), 100)
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *RepositorySuite) TestCreateExpenseDebit() {
	u := s.newUser("alice")
	_, err := s.repo.AddFunds(s.ctx, u.ID, 1000)
	s.Require().NoError(err)

	e := s.newExpense(u.ID, 300, core.NewDate(2025, 6, 1))
	balance, err := s.repo.CreateExpenseDebit(s.ctx, e)
	s.Require().NoError(err)
	s.EqualValues(700, balance)

	got, err := s.repo.GetExpense(s.ctx, u.ID, e.ID)
	s.Require().NoError(err)
	s.Equal(e.Description, got.Description)
	s.Equal(e.Date, got.Date)
	s.EqualValues(300, got.Amount.Cents)
}

func (s *RepositorySuite) TestCreateExpenseDebitUnknownOwnerRollsBack() {
	e := s.newExpense(uuid.NewString(), 300, core.NewDate(2025, 6, 1))
	_, err := s.repo.CreateExpenseDebit(s.ctx, e)
	s.Require().Error(err)

	// The insert must not survive the failed debit.
	_, err = s.repo.GetExpense(s.ctx, e.Owner, e.ID)
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *RepositorySuite) TestUpdateExpenseAdjust() {
	u := s.newUser("alice")
	_, err := s.repo.AddFunds(s.ctx, u.ID, 1000)
	s.Require().NoError(err)

	e := s.newExpense(u.ID, 300, core.NewDate(2025, 6, 1))
	_, err = s.repo.CreateExpenseDebit(s.ctx, e)
	s.Require().NoError(err)

	e.Amount = core.Money{Cents: 500}
	e.Description = "updated"
	balance, err := s.repo.UpdateExpenseAdjust(s.ctx, e, 200)
	s.Require().NoError(err)
	s.EqualValues(500, balance)

	got, err := s.repo.GetExpense(s.ctx, u.ID, e.ID)
	s.Require().NoError(err)
	s.EqualValues(500, got.Amount.Cents)
	s.Equal("updated", got.Description)
}

func (s *RepositorySuite) TestDeleteExpenseCredit() {
	u := s.newUser("alice")
	_, err := s.repo.AddFunds(s.ctx, u.ID, 1000)
	s.Require().NoError(err)

	e := s.newExpense(u.ID, 300, core.NewDate(2025, 6, 1))
	_, err = s.repo.CreateExpenseDebit(s.ctx, e)
	s.Require().NoError(err)

	deleted, balance, err := s.repo.DeleteExpenseCredit(s.ctx, u.ID, e.ID)
	s.Require().NoError(err)
	s.EqualValues(300, deleted.Amount.Cents)
	s.EqualValues(1000, balance)

	_, err = s.repo.GetExpense(s.ctx, u.ID, e.ID)
	s.True(errors.Is(err, core.ErrNotFound))

	_, _, err = s.repo.DeleteExpenseCredit(s.ctx, u.ID, e.ID)
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *RepositorySuite) TestListExpensesOrdering() {
	u := s.newUser("alice")
	_, err := s.repo.AddFunds(s.ctx, u.ID, 10000)
	s.Require().NoError(err)

	older := s.newExpense(u.ID, 100, core.NewDate(2025, 1, 10))
	newer := s.newExpense(u.ID, 200, core.NewDate(2025, 3, 5))
	middle := s.newExpense(u.ID, 300, core.NewDate(2025, 2, 1))
	for _, e := range []core.Expense{older, newer, middle} {
		_, err := s.repo.CreateExpenseDebit(s.ctx, e)
		s.Require().NoError(err)
	}

	list, err := s.repo.ListExpenses(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	s.Equal(newer.ID, list[0].ID)
	s.Equal(middle.ID, list[1].ID)
	s.Equal(older.ID, list[2].ID)
}

func (s *RepositorySuite) TestListExpensesScopedToOwner() {
	alice := s.newUser("alice")
	bob := s.newUser("bob")
	for _, u := range []core.User{alice, bob} {
		_, err := s.repo.AddFunds(s.ctx, u.ID, 1000)
		s.Require().NoError(err)
	}

	ea := s.newExpense(alice.ID, 100, core.NewDate(2025, 6, 1))
	eb := s.newExpense(bob.ID, 200, core.NewDate(2025, 6, 2))
	_, err := s.repo.CreateExpenseDebit(s.ctx, ea)
	s.Require().NoError(err)
	_, err = s.repo.CreateExpenseDebit(s.ctx, eb)
	s.Require().NoError(err)

	list, err := s.repo.ListExpenses(s.ctx, alice.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(ea.ID, list[0].ID)

	// Cross-owner lookup must miss.
	_, err = s.repo.GetExpense(s.ctx, alice.ID, eb.ID)
	s.True(errors.Is(err, core.ErrNotFound))

	all, err := s.repo.ListAllExpenses(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *RepositorySuite) TestDeleteUserCascades() {
	u := s.newUser("alice")
	_, err := s.repo.AddFunds(s.ctx, u.ID, 1000)
	s.Require().NoError(err)
	e := s.newExpense(u.ID, 100, core.NewDate(2025, 6, 1))
	_, err = s.repo.CreateExpenseDebit(s.ctx, e)
	s.Require().NoError(err)

	s.Require().NoError(s.repo.DeleteUser(s.ctx, u.ID))

	_, err = s.repo.GetUserByID(s.ctx, u.ID)
	s.True(errors.Is(err, core.ErrNotFound))
	all, err := s.repo.ListAllExpenses(s.ctx)
	s.Require().NoError(err)
	s.Empty(all)

	err = s.repo.DeleteUser(s.ctx, u.ID)
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *RepositorySuite) TestCategories() {
	// Seeded defaults are present.
	exists, err := s.repo.CategoryExists(s.ctx, "Food")
	s.Require().NoError(err)
	s.True(exists)

	exists, err = s.repo.CategoryExists(s.ctx, "Gadgets")
	s.Require().NoError(err)
	s.False(exists)

	c := core.Category{ID: uuid.NewString(), Name: "Gadgets"}
	s.Require().NoError(s.repo.CreateCategory(s.ctx, c))

	err = s.repo.CreateCategory(s.ctx, core.Category{ID: uuid.NewString(), Name: "Gadgets"})
	s.True(errors.Is(err, core.ErrInvalidRequest))

	got, err := s.repo.GetCategory(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal("Gadgets", got.Name)

	s.Require().NoError(s.repo.UpdateCategory(s.ctx, c.ID, "Electronics"))
	exists, err = s.repo.CategoryExists(s.ctx, "Electronics")
	s.Require().NoError(err)
	s.True(exists)

	s.Require().NoError(s.repo.DeleteCategory(s.ctx, c.ID))
	err = s.repo.DeleteCategory(s.ctx, c.ID)
	s.True(errors.Is(err, core.ErrNotFound))
}

func (s *RepositorySuite) TestListCategoriesSorted() {
	list, err := s.repo.ListCategories(s.ctx)
	s.Require().NoError(err)
	s.Require().NotEmpty(list)
	for i := 1; i < len(list); i++ {
		s.LessOrEqual(list[i-1].Name, list[i].Name)
	}
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}
