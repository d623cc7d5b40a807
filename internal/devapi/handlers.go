package devapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fincon/internal/core"
	"fincon/internal/log"
	"fincon/internal/storage"
)

const (
	maxBodyBytes       = 1 << 20
	matchingNamesLimit = 10
	msgBadLogin        = "Invalid email or password."
)

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return &ValidationError{Message: "invalid JSON body"}
	}
	return nil
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &ValidationError{Message: "invalid id"}
	}
	return id, nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string          `json:"email"`
		Password string          `json:"password"`
		Salary   decimal.Decimal `json:"salary"`
	}
	if err := decode(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	creds := core.Credentials{Email: strings.ToLower(strings.TrimSpace(in.Email)), Password: in.Password}
	salary, fe := core.ValidateSignUp(creds, in.Salary.String())
	if len(in.Password) > maxPasswordBytes {
		fe.Add("password", fmt.Sprintf("must have at most %d bytes", maxPasswordBytes))
	}
	if !fe.Empty() {
		s.fail(w, r, invalid(fe))
		return
	}

	hash, err := hashPassword(creds.Password, s.passwordCost)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.store.CreateUser(r.Context(), creds.Email, hash, salary)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "User signed up",
		log.FieldUserID, user.ID,
		log.FieldOperation, log.OpSignUp)
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds core.Credentials
	if err := decode(w, r, &creds); err != nil {
		s.fail(w, r, err)
		return
	}
	creds.Email = strings.ToLower(strings.TrimSpace(creds.Email))
	if fe := core.ValidateCredentials(creds); !fe.Empty() {
		s.fail(w, r, invalid(fe))
		return
	}

	user, err := s.store.UserByEmail(r.Context(), creds.Email)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !checkPassword(user.PasswordHash, creds.Password)) {
		writeError(w, http.StatusUnauthorized, msgBadLogin)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := s.store.Goals(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, core.SortGoals(goals))
}

// handleUpdateGoals applies a bulk percentage update. Every goal must be
// present exactly once and the percentages must sum to 100.
func (s *Server) handleUpdateGoals(w http.ResponseWriter, r *http.Request) {
	var ps []core.GoalPercentage
	if err := decode(w, r, &ps); err != nil {
		s.fail(w, r, err)
		return
	}

	userID := userFrom(r.Context())
	goals, err := s.store.Goals(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	fe := core.ValidateGoalPercentages(ps)
	seen := make(map[int64]bool, len(ps))
	for _, p := range ps {
		if seen[p.ID] {
			fe.Add("goals", fmt.Sprintf("goal %d is listed more than once", p.ID))
		}
		seen[p.ID] = true
	}
	for _, g := range goals {
		if !seen[g.ID] {
			fe.Add("goals", "every goal must be present")
			break
		}
	}
	if len(seen) > len(goals) {
		fe.Add("goals", "unknown goal")
	}
	if !fe.Empty() {
		s.fail(w, r, invalid(fe))
		return
	}

	updated, err := s.store.UpdateGoals(r.Context(), userID, ps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, core.SortGoals(updated))
}

func (s *Server) handleGoalExpenses(w http.ResponseWriter, r *http.Request) {
	goalID, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	year, yerr := strconv.Atoi(r.URL.Query().Get("year"))
	month, merr := strconv.Atoi(r.URL.Query().Get("month"))
	m := core.Month{Year: year, Month: time.Month(month)}
	if yerr != nil || merr != nil || m.Validate() != nil {
		writeError(w, http.StatusBadRequest, "invalid year or month")
		return
	}

	userID := userFrom(r.Context())
	goals, err := s.store.Goals(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	owned := false
	for _, g := range goals {
		if g.ID == goalID {
			owned = true
			break
		}
	}
	if !owned {
		s.fail(w, r, storage.ErrNotFound)
		return
	}

	expenses, err := s.store.ExpensesByGoal(r.Context(), userID, goalID, m)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

func (s *Server) handleSalary(w http.ResponseWriter, r *http.Request) {
	salary, err := s.store.Salary(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, salary)
}

func (s *Server) handleUpdateSalary(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decode(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, fe := core.ParseSalary(in.Amount.String())
	if !fe.Empty() {
		s.fail(w, r, invalid(fe))
		return
	}

	salary, err := s.store.UpdateSalary(r.Context(), userFrom(r.Context()), amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, salary)
}

type expenseRequest struct {
	Name         string          `json:"name"`
	Value        decimal.Decimal `json:"value"`
	Date         string          `json:"date"`
	GoalID       int64           `json:"goal_id"`
	Installments int             `json:"installments"`
}

func (in expenseRequest) form() core.ExpenseForm {
	f := core.ExpenseForm{
		Name:   in.Name,
		Value:  in.Value.String(),
		Date:   in.Date,
		GoalID: strconv.FormatInt(in.GoalID, 10),
	}
	if in.Installments != 0 {
		f.Installments = strconv.Itoa(in.Installments)
	}
	return f
}

// handleCreateExpense stores one record per installment, each in its own
// month, and returns them all.
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var in expenseRequest
	if err := decode(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	e, fe := in.form().ParseNew()
	if !fe.Empty() {
		s.fail(w, r, invalid(fe))
		return
	}

	created, err := s.store.CreateExpenses(r.Context(), userFrom(r.Context()), e.Split(s.currency))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	log.NewStructuredLogger(log.FromContext(r.Context())).LogMutation(r.Context(), log.OpCreate,
		log.NewFields().
			WithExpense(created[0].ID, e.Name, e.Value.StringFixed(2), e.GoalID).
			WithMonth(e.Date.Year(), int(e.Date.Month().Month)))
	writeJSON(w, http.StatusCreated, map[string][]core.Expense{"data": created})
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var in expenseRequest
	if err := decode(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	u, fe := in.form().ParseUpdate()
	if !fe.Empty() {
		s.fail(w, r, invalid(fe))
		return
	}

	updated, err := s.store.UpdateExpense(r.Context(), userFrom(r.Context()), id, u)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.DeleteExpense(r.Context(), userFrom(r.Context()), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSummary aggregates the month containing ?date= (today by default).
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	date := core.NewDate(s.now().Year(), s.now().Month(), s.now().Day())
	if q := r.URL.Query().Get("date"); q != "" {
		d, err := core.ParseDate(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date")
			return
		}
		date = d
	}

	userID := userFrom(r.Context())
	salary, err := s.store.Salary(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	goals, err := s.store.Goals(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	spent, err := s.store.SpentByGoal(r.Context(), userID, date.Month())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, core.ComputeSummary(salary.Amount, goals, spent))
}

func (s *Server) handleMatchingNames(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if utf8.RuneCountInString(query) < 2 {
		writeError(w, http.StatusBadRequest, "query must be present and have at least 2 characters")
		return
	}
	names, err := s.store.MatchingNames(r.Context(), userFrom(r.Context()), query, matchingNamesLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}
