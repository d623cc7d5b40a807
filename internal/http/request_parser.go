package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fincon/internal/core"
	"fincon/internal/dashboard"
	"fincon/internal/services"
)

const maxFormBody = 64 << 10

var errBodyTooLarge = errors.New("request body too large")

// RequestBodyParser reads a url-encoded (htmx) or JSON (scripted client)
// body into one set of string fields. Fields absent from the body are
// looked up in the URL query, where htmx puts DELETE parameters.
type RequestBodyParser struct {
	raw    []byte
	query  url.Values
	fields url.Values
	json   bool
	done   bool
	err    error
}

// NewRequestBodyParser buffers at most maxFormBody bytes of r's body.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{query: r.URL.Query(), fields: url.Values{}}
	if r.Body == nil {
		return p
	}
	p.raw, p.err = io.ReadAll(io.LimitReader(r.Body, maxFormBody+1))
	if p.err == nil && len(p.raw) > maxFormBody {
		p.err = errBodyTooLarge
	}
	return p
}

// Parse decodes the body once; later calls return the first result.
func (p *RequestBodyParser) Parse() error {
	if p.done || p.err != nil {
		p.done = true
		return p.err
	}
	p.done = true

	trimmed := bytes.TrimSpace(p.raw)
	switch {
	case len(trimmed) == 0:
	case trimmed[0] == '{':
		p.json = true
		p.err = p.decodeJSON(trimmed)
	default:
		p.fields, p.err = url.ParseQuery(string(trimmed))
	}
	return p.err
}

func (p *RequestBodyParser) decodeJSON(b []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	for k, v := range obj {
		switch v := v.(type) {
		case string:
			p.fields.Set(k, v)
		case float64:
			p.fields.Set(k, strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			p.fields.Set(k, strconv.FormatBool(v))
		default:
			p.fields.Set(k, "")
		}
	}
	return nil
}

// Get returns the cleaned value of key from the body, else the query.
func (p *RequestBodyParser) Get(key string) string {
	if p.fields.Has(key) {
		return clean(p.fields.Get(key))
	}
	return clean(p.query.Get(key))
}

// IsJSON reports whether the body was a JSON object.
func (p *RequestBodyParser) IsJSON() bool { return p.json }

// ExpenseForm collects the expense fields.
func (p *RequestBodyParser) ExpenseForm() core.ExpenseForm {
	return core.ExpenseForm{
		Name:         p.Get("name"),
		Value:        p.Get("value"),
		Date:         p.Get("date"),
		GoalID:       p.Get("goal_id"),
		Installments: p.Get("installments"),
	}
}

// GoalPercentages reads one "goal_<id>" field per goal. Every goal must be
// present so the bulk update never drops one.
func (p *RequestBodyParser) GoalPercentages(goals []core.Goal) ([]core.GoalPercentage, core.FieldErrors) {
	fe := core.FieldErrors{}
	out := make([]core.GoalPercentage, 0, len(goals))
	for _, g := range goals {
		field := goalField(g.ID)
		raw := p.Get(field)
		n, err := strconv.Atoi(raw)
		if err != nil {
			fe.Add(field, "must be a whole number between 0 and 100")
			n = 0
		}
		out = append(out, core.GoalPercentage{ID: g.ID, Percentage: n})
	}
	for field, msgs := range core.ValidateGoalPercentages(out) {
		if !fe.Has(field) {
			fe[field] = msgs
		}
	}
	return out, fe
}

// Location reads where an expense was displayed when the user acted on it
// (from_goal_id, from_year, from_month). Missing values yield an unknown
// location.
func (p *RequestBodyParser) Location() services.Location {
	goalID, _ := strconv.ParseInt(p.Get("from_goal_id"), 10, 64)
	year, _ := strconv.Atoi(p.Get("from_year"))
	month, _ := strconv.Atoi(p.Get("from_month"))
	return services.Location{GoalID: goalID, Month: core.Month{Year: year, Month: time.Month(month)}}
}

func goalField(id int64) string {
	return fmt.Sprintf("goal_%d", id)
}

// monthFromQuery resolves ?year=&month=, defaulting to the current month.
func monthFromQuery(r *http.Request, now time.Time) core.Month {
	q := r.URL.Query()
	return dashboard.ResolveMonth(strings.TrimSpace(q.Get("year")), strings.TrimSpace(q.Get("month")), now)
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// clean trims s and drops control characters other than tab, CR and LF.
func clean(s string) string {
	return strings.Map(func(r rune) rune {
		if r < ' ' && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
