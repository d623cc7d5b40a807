// Package storage is the sqlite persistence of the development REST backend.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fincon/internal/core"
	"fincon/internal/log"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")
	// ErrAmountOutOfRange marks amounts that cannot be stored as whole cents.
	ErrAmountOutOfRange = errors.New("amount cannot be stored")
)

// User is an account of the development backend.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type SQLiteRepository struct {
	db       *sql.DB
	currency string
	logger   *log.Logger
}

// NewSQLiteRepository opens (creating if needed) and migrates the database
// at dbPath. Amounts are reported in currency.
func NewSQLiteRepository(dbPath, currency string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger = logger.WithComponent(log.ComponentStorage)
	logger.Debug("Database ready", "path", dbPath, "schema_version", version)
	return &SQLiteRepository{
		db:       db,
		currency: currency,
		logger:   logger,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

var maxCents = decimal.NewFromInt(math.MaxInt64)

// toCents converts d to whole cents. Fractions of a cent and values outside
// int64 are rejected rather than rounded or wrapped.
func toCents(d decimal.Decimal) (int64, error) {
	cents := d.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() || cents.Abs().GreaterThan(maxCents) {
		return 0, fmt.Errorf("%s: %w", d, ErrAmountOutOfRange)
	}
	return cents.IntPart(), nil
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func (r *SQLiteRepository) money(cents int64) core.Money {
	return core.NewMoney(fromCents(cents), r.currency)
}

// CreateUser registers a user with their salary and the six default goals.
func (r *SQLiteRepository) CreateUser(ctx context.Context, email, passwordHash string, salary decimal.Decimal) (User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE email = ?`, email).Scan(&exists)
	switch {
	case err == nil:
		return User{}, ErrEmailTaken
	case !errors.Is(err, sql.ErrNoRows):
		return User{}, fmt.Errorf("check email: %w", err)
	}

	u := User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	salaryCents, err := toCents(salary)
	if err != nil {
		return User{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO salaries (user_id, amount_cents) VALUES (?, ?)`,
		u.ID, salaryCents); err != nil {
		return User{}, fmt.Errorf("insert salary: %w", err)
	}
	for _, name := range core.GoalOrder {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO goals (user_id, name, percentage) VALUES (?, ?, ?)`,
			u.ID, name, core.DefaultGoalPercentages[name]); err != nil {
			return User{}, fmt.Errorf("insert goal %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit: %w", err)
	}

	r.logger.InfoContext(ctx, "User created", log.FieldUserID, u.ID)
	return u, nil
}

func (r *SQLiteRepository) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) Goals(ctx context.Context, userID string) ([]core.Goal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, percentage FROM goals WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	goals := []core.Goal{}
	for rows.Next() {
		var g core.Goal
		if err := rows.Scan(&g.ID, &g.Name, &g.Percentage); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// UpdateGoals sets every given percentage in one transaction. An id not
// owned by the user aborts the whole update with ErrNotFound.
func (r *SQLiteRepository) UpdateGoals(ctx context.Context, userID string, ps []core.GoalPercentage) ([]core.Goal, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, p := range ps {
		res, err := tx.ExecContext(ctx,
			`UPDATE goals SET percentage = ? WHERE id = ? AND user_id = ?`,
			p.Percentage, p.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("update goal %d: %w", p.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("goal %d: %w", p.ID, ErrNotFound)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return r.Goals(ctx, userID)
}

func (r *SQLiteRepository) Salary(ctx context.Context, userID string) (core.Salary, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `SELECT amount_cents FROM salaries WHERE user_id = ?`, userID).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Salary{}, ErrNotFound
	}
	if err != nil {
		return core.Salary{}, fmt.Errorf("get salary: %w", err)
	}
	return core.Salary{Amount: r.money(cents)}, nil
}

func (r *SQLiteRepository) UpdateSalary(ctx context.Context, userID string, amount decimal.Decimal) (core.Salary, error) {
	cents, err := toCents(amount)
	if err != nil {
		return core.Salary{}, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO salaries (user_id, amount_cents, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id) DO UPDATE SET amount_cents = excluded.amount_cents, updated_at = CURRENT_TIMESTAMP`,
		userID, cents)
	if err != nil {
		return core.Salary{}, fmt.Errorf("update salary: %w", err)
	}
	return core.Salary{Amount: r.money(cents)}, nil
}

func ownsGoal(ctx context.Context, tx *sql.Tx, userID string, goalID int64) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM goals WHERE id = ? AND user_id = ?`, goalID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("goal %d: %w", goalID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check goal: %w", err)
	}
	return nil
}

// CreateExpenses inserts expenses atomically and returns them with ids.
func (r *SQLiteRepository) CreateExpenses(ctx context.Context, userID string, es []core.Expense) ([]core.Expense, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	checked := map[int64]bool{}
	out := make([]core.Expense, 0, len(es))
	for _, e := range es {
		if !checked[e.GoalID] {
			if err := ownsGoal(ctx, tx, userID, e.GoalID); err != nil {
				return nil, err
			}
			checked[e.GoalID] = true
		}
		cents, err := toCents(e.Value.Amount)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO expenses (user_id, goal_id, name, value_cents, date) VALUES (?, ?, ?, ?, ?)`,
			userID, e.GoalID, e.Name, cents, e.Date.String())
		if err != nil {
			return nil, fmt.Errorf("insert expense: %w", err)
		}
		if e.ID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("expense id: %w", err)
		}
		e.Value = r.money(cents)
		out = append(out, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	for _, e := range out {
		r.logger.InfoContext(ctx, "Expense saved to SQLite",
			log.FieldExpenseID, e.ID,
			log.FieldGoalID, e.GoalID,
			log.FieldAmount, e.Value.Amount.StringFixed(2),
			"date", e.Date.String())
	}
	return out, nil
}

const expenseColumns = `id, goal_id, name, value_cents, date`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanExpense(s rowScanner) (core.Expense, error) {
	var (
		e     core.Expense
		cents int64
		date  string
	)
	if err := s.Scan(&e.ID, &e.GoalID, &e.Name, &cents, &date); err != nil {
		return core.Expense{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %d: %w", e.ID, err)
	}
	e.Date = d
	e.Value = r.money(cents)
	return e, nil
}

func (r *SQLiteRepository) Expense(ctx context.Context, userID string, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = ? AND user_id = ?`, id, userID)
	e, err := r.scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) UpdateExpense(ctx context.Context, userID string, id int64, u core.ExpenseUpdate) (core.Expense, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Expense{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cents, err := toCents(u.Value)
	if err != nil {
		return core.Expense{}, err
	}
	if err := ownsGoal(ctx, tx, userID, u.GoalID); err != nil {
		return core.Expense{}, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE expenses SET name = ?, value_cents = ?, date = ?, goal_id = ? WHERE id = ? AND user_id = ?`,
		u.Name, cents, u.Date.String(), u.GoalID, id, userID)
	if err != nil {
		return core.Expense{}, fmt.Errorf("update expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Expense{}, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return core.Expense{}, fmt.Errorf("commit: %w", err)
	}

	return core.Expense{
		ID:     id,
		Name:   u.Name,
		Value:  r.money(cents),
		Date:   u.Date,
		GoalID: u.GoalID,
	}, nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, userID string, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func monthRange(m core.Month) (string, string) {
	return m.FirstDay().String(), m.AddMonths(1).FirstDay().String()
}

// ExpensesByGoal lists a goal's expenses dated within m, oldest first.
func (r *SQLiteRepository) ExpensesByGoal(ctx context.Context, userID string, goalID int64, m core.Month) ([]core.Expense, error) {
	from, to := monthRange(m)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses
		 WHERE user_id = ? AND goal_id = ? AND date >= ? AND date < ?
		 ORDER BY date, id`,
		userID, goalID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	out := []core.Expense{}
	for rows.Next() {
		e, err := r.scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SpentByGoal sums the month's expenses per goal id.
func (r *SQLiteRepository) SpentByGoal(ctx context.Context, userID string, m core.Month) (map[int64]decimal.Decimal, error) {
	from, to := monthRange(m)
	rows, err := r.db.QueryContext(ctx,
		`SELECT goal_id, SUM(value_cents) FROM expenses
		 WHERE user_id = ? AND date >= ? AND date < ?
		 GROUP BY goal_id`,
		userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("sum expenses: %w", err)
	}
	defer rows.Close()

	out := map[int64]decimal.Decimal{}
	for rows.Next() {
		var (
			goalID int64
			cents  int64
		)
		if err := rows.Scan(&goalID, &cents); err != nil {
			return nil, fmt.Errorf("scan sum: %w", err)
		}
		out[goalID] = fromCents(cents)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// MatchingNames returns up to limit distinct expense names containing
// query, case-insensitively.
func (r *SQLiteRepository) MatchingNames(ctx context.Context, userID, query string, limit int) ([]string, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT name FROM expenses
		 WHERE user_id = ? AND LOWER(name) LIKE ? ESCAPE '\'
		 ORDER BY name LIMIT ?`,
		userID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("matching names: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
