package core

import (
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// FieldErrors maps a form field to its validation messages.
type FieldErrors map[string][]string

// Add records a message for field.
func (fe FieldErrors) Add(field, msg string) {
	fe[field] = append(fe[field], msg)
}

// Has reports whether field has at least one message.
func (fe FieldErrors) Has(field string) bool {
	return len(fe[field]) > 0
}

// First returns the first message for field, or "".
func (fe FieldErrors) First(field string) string {
	if msgs := fe[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

func (fe FieldErrors) Empty() bool {
	return len(fe) == 0
}

// Error joins all messages, sorted by field for stable output.
func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(fe[f], ", "))
	}
	return strings.Join(parts, "; ")
}

var minExpenseValue = decimal.NewFromInt(1)

const tooLargeMessage = "must be at most 1000000000000"

// ExpenseForm is the raw expense form as submitted by the browser.
type ExpenseForm struct {
	Name         string
	Value        string
	Date         string
	GoalID       string
	Installments string
}

func (f ExpenseForm) parseCommon(fe FieldErrors) (name string, value decimal.Decimal, date Date, goalID int64) {
	name = strings.TrimSpace(f.Name)
	switch n := utf8.RuneCountInString(name); {
	case n < 2:
		fe.Add("name", "must have at least 2 characters")
	case n > 200:
		fe.Add("name", ErrNameTooLong.Error())
	}

	value, err := ParseAmount(f.Value)
	switch {
	case errors.Is(err, ErrAmountTooLarge):
		fe.Add("value", tooLargeMessage)
	case err != nil || value.LessThan(minExpenseValue):
		fe.Add("value", "must be a number greater than or equal to 1")
	}

	date, err = ParseDate(f.Date)
	if err != nil {
		fe.Add("date", "must be a valid date (YYYY-MM-DD)")
	}

	goalID, err = strconv.ParseInt(strings.TrimSpace(f.GoalID), 10, 64)
	if err != nil || goalID <= 0 {
		fe.Add("goal_id", "must reference a goal")
	}
	return name, value, date, goalID
}

// ParseNew validates the form for creation.
func (f ExpenseForm) ParseNew() (NewExpense, FieldErrors) {
	fe := FieldErrors{}
	name, value, date, goalID := f.parseCommon(fe)

	installments := 1
	if s := strings.TrimSpace(f.Installments); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxInstallments {
			fe.Add("installments", ErrInvalidInstallments.Error())
		} else {
			installments = n
		}
	}

	return NewExpense{
		Name:         name,
		Value:        value,
		Date:         date,
		GoalID:       goalID,
		Installments: installments,
	}, fe
}

// ParseUpdate validates the form for editing. Installments are ignored.
func (f ExpenseForm) ParseUpdate() (ExpenseUpdate, FieldErrors) {
	fe := FieldErrors{}
	name, value, date, goalID := f.parseCommon(fe)
	return ExpenseUpdate{Name: name, Value: value, Date: date, GoalID: goalID}, fe
}

// ParseSalary validates a salary amount (at least 1).
func ParseSalary(s string) (decimal.Decimal, FieldErrors) {
	fe := FieldErrors{}
	amount, err := ParseAmount(s)
	switch {
	case errors.Is(err, ErrAmountTooLarge):
		fe.Add("amount", tooLargeMessage)
	case err != nil || amount.LessThan(decimal.NewFromInt(1)):
		fe.Add("amount", "must be a number greater than or equal to 1")
	}
	return amount, fe
}

// GoalSum returns the sum of all percentages.
func GoalSum(ps []GoalPercentage) int {
	sum := 0
	for _, p := range ps {
		sum += p.Percentage
	}
	return sum
}

// CanSaveGoals reports whether the percentages may be submitted: each in
// 0-100 and the sum exactly 100.
func CanSaveGoals(ps []GoalPercentage) bool {
	return ValidateGoalPercentages(ps).Empty()
}

// ValidateGoalPercentages checks a bulk goal update before it is sent.
func ValidateGoalPercentages(ps []GoalPercentage) FieldErrors {
	fe := FieldErrors{}
	if len(ps) == 0 {
		fe.Add("goals", "at least one goal is required")
		return fe
	}
	for _, p := range ps {
		if p.Percentage < 0 || p.Percentage > 100 {
			fe.Add(fmt.Sprintf("goal_%d", p.ID), ErrInvalidPercentage.Error())
		}
	}
	if GoalSum(ps) != 100 {
		fe.Add("goals", ErrGoalSumNot100.Error())
	}
	return fe
}

// Credentials are the login inputs.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ValidateCredentials checks login inputs are present and well formed.
func ValidateCredentials(c Credentials) FieldErrors {
	fe := FieldErrors{}
	if _, err := mail.ParseAddress(strings.TrimSpace(c.Email)); err != nil {
		fe.Add("email", "must be a valid email")
	}
	if c.Password == "" {
		fe.Add("password", "is required")
	}
	return fe
}

// ValidateSignUp checks sign-up inputs: valid email, password of at least
// 8 characters and a salary of at least 1.
func ValidateSignUp(c Credentials, salary string) (decimal.Decimal, FieldErrors) {
	fe := ValidateCredentials(c)
	if c.Password != "" && utf8.RuneCountInString(c.Password) < 8 {
		fe.Add("password", "must have at least 8 characters")
	}
	amount, sfe := ParseSalary(salary)
	for _, msg := range sfe["amount"] {
		fe.Add("salary", msg)
	}
	return amount, fe
}
