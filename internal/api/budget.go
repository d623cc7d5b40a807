package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"fincon/internal/core"
)

// Goals lists the user's goals (GET /goals).
func (c *Client) Goals(ctx context.Context) ([]core.Goal, error) {
	var out []core.Goal
	if err := c.do(ctx, call{method: http.MethodGet, path: "/goals", out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateGoals replaces every goal percentage in one call (POST /goals).
// The backend applies all or none of the changes.
func (c *Client) UpdateGoals(ctx context.Context, ps []core.GoalPercentage) ([]core.Goal, error) {
	var out []core.Goal
	if err := c.do(ctx, call{method: http.MethodPost, path: "/goals", in: ps, out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}

// Salary reads the salary singleton (GET /salary).
func (c *Client) Salary(ctx context.Context) (core.Salary, error) {
	var out core.Salary
	if err := c.do(ctx, call{method: http.MethodGet, path: "/salary", out: &out}); err != nil {
		return core.Salary{}, err
	}
	return out, nil
}

type salaryRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// UpdateSalary edits the salary in place (PATCH /salary).
func (c *Client) UpdateSalary(ctx context.Context, amount decimal.Decimal) (core.Salary, error) {
	var out core.Salary
	err := c.do(ctx, call{method: http.MethodPatch, path: "/salary", in: salaryRequest{Amount: amount}, out: &out})
	if err != nil {
		return core.Salary{}, err
	}
	return out, nil
}

// Summary fetches the month aggregate (GET /expenses/summary?date=).
func (c *Client) Summary(ctx context.Context, m core.Month) (core.Summary, error) {
	var out core.Summary
	q := url.Values{"date": {m.FirstDay().String()}}
	if err := c.do(ctx, call{method: http.MethodGet, path: "/expenses/summary", query: q, out: &out}); err != nil {
		return core.Summary{}, err
	}
	return out, nil
}
