package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tally/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// SQLite allows a single writer; serializing access through one
	// connection avoids SQLITE_BUSY under concurrent transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return wrapStorage("ping", err)
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// wrapStorage tags infrastructure failures so callers can map them to a
// storage error kind while keeping the underlying cause in the message.
func wrapStorage(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", core.ErrStorage, op, err)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- users ---

const userColumns = "id, username, full_name, email, password_hash, role, balance_cents"

func scanUser(row interface{ Scan(...any) error }) (core.User, error) {
	var u core.User
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.PasswordHash, &role, &u.Balance.Cents)
	if err != nil {
		return core.User{}, err
	}
	u.Role = core.Role(role)
	return u, nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, full_name, email, password_hash, role, balance_cents)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.FullName, u.Email, u.PasswordHash, string(u.Role), u.Balance.Cents)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: username already taken", core.ErrInvalidRequest)
	}
	if err != nil {
		return wrapStorage("create user", err)
	}
	return nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (core.User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, fmt.Errorf("%w: user %s", core.ErrNotFound, id)
	}
	if err != nil {
		return core.User{}, wrapStorage("get user by id", err)
	}
	return u, nil
}

func (r *SQLiteRepository) GetUserByUsername(ctx context.Context, username string) (core.User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, fmt.Errorf("%w: user %s", core.ErrNotFound, username)
	}
	if err != nil {
		return core.User{}, wrapStorage("get user by username", err)
	}
	return u, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY username")
	if err != nil {
		return nil, wrapStorage("list users", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrapStorage("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("list users", err)
	}
	return users, nil
}

func (r *SQLiteRepository) SetUserRole(ctx context.Context, id string, role core.Role) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET role = ? WHERE id = ?", string(role), id)
	if err != nil {
		return wrapStorage("set user role", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStorage("set user role", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: user %s", core.ErrNotFound, id)
	}
	return nil
}

// DeleteUser removes a user together with every expense they own.
func (r *SQLiteRepository) DeleteUser(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorage("begin delete user", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM expenses WHERE owner = ?", id); err != nil {
		return wrapStorage("delete user expenses", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return wrapStorage("delete user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStorage("delete user", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: user %s", core.ErrNotFound, id)
	}

	if err := tx.Commit(); err != nil {
		return wrapStorage("commit delete user", err)
	}
	return nil
}

// --- balance ---

func (r *SQLiteRepository) GetBalance(ctx context.Context, owner string) (int64, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, "SELECT balance_cents FROM users WHERE id = ?", owner).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: user %s", core.ErrNotFound, owner)
	}
	if err != nil {
		return 0, wrapStorage("get balance", err)
	}
	return cents, nil
}

// AddFunds credits the owner's balance and returns the new balance.
func (r *SQLiteRepository) AddFunds(ctx context.Context, owner string, cents int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapStorage("begin add funds", err)
	}
	defer tx.Rollback()

	newBalance, err := adjustBalance(ctx, tx, owner, cents)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapStorage("commit add funds", err)
	}
	return newBalance, nil
}

func adjustBalance(ctx context.Context, tx *sql.Tx, owner string, deltaCents int64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE users SET balance_cents = balance_cents + ? WHERE id = ?", deltaCents, owner)
	if err != nil {
		return 0, wrapStorage("adjust balance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapStorage("adjust balance", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: user %s", core.ErrNotFound, owner)
	}

	var cents int64
	if err := tx.QueryRowContext(ctx, "SELECT balance_cents FROM users WHERE id = ?", owner).Scan(&cents); err != nil {
		return 0, wrapStorage("read balance", err)
	}
	return cents, nil
}

// --- expenses ---

const expenseColumns = "id, owner, amount_cents, category, date, description"

func scanExpense(row interface{ Scan(...any) error }) (core.Expense, error) {
	var e core.Expense
	var date string
	err := row.Scan(&e.ID, &e.Owner, &e.Amount.Cents, &e.Category, &date, &e.Description)
	if err != nil {
		return core.Expense{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("stored date %q: %w", date, err)
	}
	e.Date = d
	return e, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, owner, id string) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE id = ? AND owner = ?", id, owner)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("%w: expense %s", core.ErrNotFound, id)
	}
	if err != nil {
		return core.Expense{}, wrapStorage("get expense", err)
	}
	return e, nil
}

// ListExpenses returns the owner's expenses newest first. Ties on the
// calendar date fall back to insertion order, newest first, so the
// positional index of an expense is stable between calls.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, owner string) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE owner = ? ORDER BY date DESC, created_at DESC, id DESC", owner)
	if err != nil {
		return nil, wrapStorage("list expenses", err)
	}
	defer rows.Close()
	return collectExpenses(rows)
}

// ListAllExpenses returns every expense in the system, newest first.
func (r *SQLiteRepository) ListAllExpenses(ctx context.Context) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses ORDER BY date DESC, created_at DESC, id DESC")
	if err != nil {
		return nil, wrapStorage("list all expenses", err)
	}
	defer rows.Close()
	return collectExpenses(rows)
}

func collectExpenses(rows *sql.Rows) ([]core.Expense, error) {
	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, wrapStorage("scan expense", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("iterate expenses", err)
	}
	return expenses, nil
}

// CreateExpenseDebit records the expense and debits its amount from the
// owner's balance in one transaction. It returns the new balance.
func (r *SQLiteRepository) CreateExpenseDebit(ctx context.Context, e core.Expense) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapStorage("begin create expense", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO expenses (id, owner, amount_cents, category, date, description)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Owner, e.Amount.Cents, e.Category, e.Date.String(), e.Description); err != nil {
		return 0, wrapStorage("insert expense", err)
	}

	newBalance, err := adjustBalance(ctx, tx, e.Owner, -e.Amount.Cents)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapStorage("commit create expense", err)
	}
	return newBalance, nil
}

// UpdateExpenseAdjust rewrites the expense and applies the amount delta
// to the owner's balance in one transaction. It returns the new balance.
func (r *SQLiteRepository) UpdateExpenseAdjust(ctx context.Context, e core.Expense, deltaCents int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapStorage("begin update expense", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE expenses SET amount_cents = ?, category = ?, date = ?, description = ?
		 WHERE id = ? AND owner = ?`,
		e.Amount.Cents, e.Category, e.Date.String(), e.Description, e.ID, e.Owner)
	if err != nil {
		return 0, wrapStorage("update expense", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapStorage("update expense", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: expense %s", core.ErrNotFound, e.ID)
	}

	newBalance, err := adjustBalance(ctx, tx, e.Owner, -deltaCents)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapStorage("commit update expense", err)
	}
	return newBalance, nil
}

// DeleteExpenseCredit removes the expense and credits its amount back to
// the owner's balance in one transaction. It returns the deleted expense
// and the new balance.
func (r *SQLiteRepository) DeleteExpenseCredit(ctx context.Context, owner, id string) (core.Expense, int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Expense{}, 0, wrapStorage("begin delete expense", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE id = ? AND owner = ?", id, owner)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, 0, fmt.Errorf("%w: expense %s", core.ErrNotFound, id)
	}
	if err != nil {
		return core.Expense{}, 0, wrapStorage("read expense", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", id); err != nil {
		return core.Expense{}, 0, wrapStorage("delete expense", err)
	}

	newBalance, err := adjustBalance(ctx, tx, owner, e.Amount.Cents)
	if err != nil {
		return core.Expense{}, 0, err
	}

	if err := tx.Commit(); err != nil {
		return core.Expense{}, 0, wrapStorage("commit delete expense", err)
	}
	return e, newBalance, nil
}

// --- categories ---

func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO categories (id, name) VALUES (?, ?)", c.ID, c.Name)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: category %q already exists", core.ErrInvalidRequest, c.Name)
	}
	if err != nil {
		return wrapStorage("create category", err)
	}
	return nil
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id string) (core.Category, error) {
	var c core.Category
	err := r.db.QueryRowContext(ctx, "SELECT id, name FROM categories WHERE id = ?", id).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("%w: category %s", core.ErrNotFound, id)
	}
	if err != nil {
		return core.Category{}, wrapStorage("get category", err)
	}
	return c, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name FROM categories ORDER BY name")
	if err != nil {
		return nil, wrapStorage("list categories", err)
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, wrapStorage("scan category", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("list categories", err)
	}
	return categories, nil
}

func (r *SQLiteRepository) CategoryExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM categories WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapStorage("category exists", err)
	}
	return true, nil
}

func (r *SQLiteRepository) UpdateCategory(ctx context.Context, id, name string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE categories SET name = ? WHERE id = ?", name, id)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: category %q already exists", core.ErrInvalidRequest, name)
	}
	if err != nil {
		return wrapStorage("update category", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStorage("update category", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: category %s", core.ErrNotFound, id)
	}
	return nil
}

// DeleteCategory removes the category definition. Expenses already
// labeled with it keep their label.
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		return wrapStorage("delete category", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStorage("delete category", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: category %s", core.ErrNotFound, id)
	}
	return nil
}
