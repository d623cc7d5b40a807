package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"fincon/internal/core"
)

// MinMatchingQuery is the shortest autocomplete query sent to the backend.
const MinMatchingQuery = 2

type expenseRequest struct {
	Name         string          `json:"name"`
	Value        decimal.Decimal `json:"value"`
	Date         string          `json:"date"`
	GoalID       int64           `json:"goal_id"`
	Installments int             `json:"installments,omitempty"`
}

type createdExpenses struct {
	Data []core.Expense `json:"data"`
}

// Expenses lists a goal's expenses for a month (GET /goals/{id}/expenses).
func (c *Client) Expenses(ctx context.Context, goalID int64, m core.Month) ([]core.Expense, error) {
	var out []core.Expense
	q := url.Values{
		"year":  {strconv.Itoa(m.Year)},
		"month": {strconv.Itoa(int(m.Month))},
	}
	path := "/goals/" + strconv.FormatInt(goalID, 10) + "/expenses"
	if err := c.do(ctx, call{method: http.MethodGet, path: path, query: q, out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateExpense creates an expense (POST /expenses). With installments the
// backend returns one record per month.
func (c *Client) CreateExpense(ctx context.Context, e core.NewExpense) ([]core.Expense, error) {
	var out createdExpenses
	in := expenseRequest{
		Name:         e.Name,
		Value:        e.Value,
		Date:         e.Date.String(),
		GoalID:       e.GoalID,
		Installments: e.Installments,
	}
	if err := c.do(ctx, call{method: http.MethodPost, path: "/expenses", in: in, out: &out}); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// UpdateExpense edits an expense (PATCH /expenses/{id}).
func (c *Client) UpdateExpense(ctx context.Context, id int64, u core.ExpenseUpdate) (core.Expense, error) {
	var out core.Expense
	in := expenseRequest{
		Name:   u.Name,
		Value:  u.Value,
		Date:   u.Date.String(),
		GoalID: u.GoalID,
	}
	path := "/expenses/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, call{method: http.MethodPatch, path: path, in: in, out: &out}); err != nil {
		return core.Expense{}, err
	}
	return out, nil
}

// DeleteExpense removes an expense (DELETE /expenses/{id}).
func (c *Client) DeleteExpense(ctx context.Context, id int64) error {
	path := "/expenses/" + strconv.FormatInt(id, 10)
	return c.do(ctx, call{method: http.MethodDelete, path: path})
}

// MatchingNames returns previously used expense names containing query.
// Queries shorter than MinMatchingQuery return nil without a request.
func (c *Client) MatchingNames(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinMatchingQuery {
		return nil, nil
	}
	var out []string
	q := url.Values{"query": {query}}
	if err := c.do(ctx, call{method: http.MethodGet, path: "/expenses/matching-names", query: q, out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}
