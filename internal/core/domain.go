package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type (
	// Date is a calendar day; it travels as "YYYY-MM-DD".
	Date struct {
		time.Time
	}

	// Month identifies the period a dashboard or summary covers.
	Month struct {
		Year  int
		Month time.Month
	}

	Goal struct {
		ID         int64  `json:"id"`
		Name       string `json:"name"`
		Percentage int    `json:"percentage"`
	}

	// GoalPercentage is one entry of a bulk goal update.
	GoalPercentage struct {
		ID         int64 `json:"id"`
		Percentage int   `json:"percentage"`
	}

	Expense struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		Value  Money  `json:"value"`
		Date   Date   `json:"date"`
		GoalID int64  `json:"goal_id"`
	}

	// NewExpense is the create payload. Installments > 1 splits the
	// expense into one record per month.
	NewExpense struct {
		Name         string
		Value        decimal.Decimal
		Date         Date
		GoalID       int64
		Installments int
	}

	ExpenseUpdate struct {
		Name   string
		Value  decimal.Decimal
		Date   Date
		GoalID int64
	}

	Salary struct {
		Amount Money `json:"amount"`
	}
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrAmountTooLarge      = errors.New("amount too large")
	ErrInvalidDate         = errors.New("invalid date")
	ErrInvalidMonth        = errors.New("invalid month")
	ErrEmptyName           = errors.New("empty name")
	ErrNameTooLong         = errors.New("name too long (max 200 characters)")
	ErrInvalidGoal         = errors.New("invalid goal")
	ErrInvalidInstallments = errors.New("installments must be between 1 and 48")
	ErrInvalidPercentage   = errors.New("percentage must be between 0 and 100")
	ErrGoalSumNot100       = errors.New("the sum of all percentages must be equal to 100")
)

// MaxInstallments bounds how many monthly records a single create may produce.
const MaxInstallments = 48

// NewDate creates a new Date from year, month, day
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(dateLayout)
}

// Month returns the period the date falls in.
func (d Date) Month() Month {
	return Month{Year: d.Year(), Month: d.Time.Month()}
}

// AddMonthsNoOverflow moves the date n months forward, clamping the day to
// the last day of the target month (Jan 31 + 1 month = Feb 28/29).
func (d Date) AddMonthsNoOverflow(n int) Date {
	first := time.Date(d.Year(), d.Time.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	day := d.Day()
	if day > last {
		day = last
	}
	return NewDate(first.Year(), first.Month(), day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts YYYY-MM-DD and RFC 3339 timestamps.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode date: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		*d = Date{Time: t}
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	*d = NewDate(t.Year(), t.Month(), t.Day())
	return nil
}

// CurrentMonth returns the month containing now.
func CurrentMonth(now time.Time) Month {
	return Month{Year: now.Year(), Month: now.Month()}
}

// Validate checks the month is within 1-12 and the year is plausible.
func (m Month) Validate() error {
	if m.Month < time.January || m.Month > time.December {
		return ErrInvalidMonth
	}
	if m.Year < 1970 || m.Year > 9999 {
		return ErrInvalidMonth
	}
	return nil
}

// FirstDay returns the first day of the month.
func (m Month) FirstDay() Date {
	return NewDate(m.Year, m.Month, 1)
}

// AddMonths returns the month n months away.
func (m Month) AddMonths(n int) Month {
	t := time.Date(m.Year, m.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return Month{Year: t.Year(), Month: t.Month()}
}

// String formats the month as YYYY-MM.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// GoalName implements Named.
func (g Goal) GoalName() string { return g.Name }

// InstallmentMonths lists the months an expense with the given installments touches.
func (e NewExpense) InstallmentMonths() []Month {
	n := e.Installments
	if n < 1 {
		n = 1
	}
	months := make([]Month, 0, n)
	for i := 0; i < n; i++ {
		months = append(months, e.Date.AddMonthsNoOverflow(i).Month())
	}
	return months
}

// Split expands the expense into one record per installment, named "Name (i/N)".
func (e NewExpense) Split(currency string) []Expense {
	n := e.Installments
	if n < 1 {
		n = 1
	}
	out := make([]Expense, 0, n)
	for i := 0; i < n; i++ {
		exp := Expense{
			Name:   e.Name,
			Value:  NewMoney(e.Value, currency),
			Date:   e.Date,
			GoalID: e.GoalID,
		}
		if n > 1 {
			exp.Name = fmt.Sprintf("%s (%d/%d)", e.Name, i+1, n)
			exp.Date = e.Date.AddMonthsNoOverflow(i)
		}
		out = append(out, exp)
	}
	return out
}
