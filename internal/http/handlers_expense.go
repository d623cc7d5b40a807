package http

import (
	"errors"
	"net/http"
	"strconv"

	"fincon/internal/api"
	"fincon/internal/core"
	"fincon/internal/log"
	"fincon/internal/services"
)

// formGoals loads the goal choices for the expense form. A failure leaves
// the select empty; the submit will surface the real error.
func (s *Server) formGoals(r *http.Request) ([]core.Goal, error) {
	goals, err := s.budget.Goals(r.Context())
	if err != nil && !api.IsSessionExpired(err) {
		s.logger.WarnContext(r.Context(), "Goals unavailable for expense form", log.FieldError, err)
		return nil, nil
	}
	return goals, err
}

func (s *Server) handleNewExpenseForm(w http.ResponseWriter, r *http.Request) {
	goals, err := s.formGoals(r)
	if err != nil {
		s.expireSession(w, r)
		return
	}

	now := s.now()
	month := monthFromQuery(r, now)
	date := month.FirstDay()
	if month == core.CurrentMonth(now) {
		date = core.NewDate(now.Year(), now.Month(), now.Day())
	}

	s.render(w, r, http.StatusOK, "expense_form", expenseFormView{
		Form: core.ExpenseForm{
			Date:         date.String(),
			GoalID:       r.URL.Query().Get("goal_id"),
			Installments: "1",
		},
		Goals: goals,
	})
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}

	form := p.ExpenseForm()
	view := expenseFormView{Form: form}
	rerender := func(fe core.FieldErrors, msg string) {
		view.Errors, view.Message = fe, msg
		view.Goals, _ = s.formGoals(r)
		s.render(w, r, http.StatusUnprocessableEntity, "expense_form", view)
	}

	e, fe := form.ParseNew()
	if !fe.Empty() {
		rerender(fe, "")
		return
	}

	created, err := s.budget.CreateExpense(r.Context(), e)
	if err != nil {
		s.mutationFailed(w, r, err, log.OpCreate, rerender)
		return
	}
	s.appMetrics.mutations.Add(1)

	msg := "Expense created"
	if len(created) > 1 {
		msg = strconv.Itoa(len(created)) + " installments created"
	}
	month := e.Date.Month()
	NewHTMXResponse().
		TriggerExpenseChanged(e.GoalID).
		TriggerSummaryRefresh(month.Year, int(month.Month)).
		TriggerFormReset().
		TriggerModalClose().
		TriggerSuccessNotification(msg).
		Write(w)
}

func (s *Server) handleEditExpenseForm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequestError("Invalid expense").Write(w)
		return
	}
	goalID, _ := strconv.ParseInt(r.URL.Query().Get("goal_id"), 10, 64)
	at := services.Location{GoalID: goalID, Month: monthFromQuery(r, s.now())}

	expense, err := s.budget.FindExpense(r.Context(), id, at)
	if err != nil {
		if s.readFailed(w, r, err) {
			return
		}
		status := http.StatusInternalServerError
		if errors.Is(err, api.ErrNotFound) {
			status = http.StatusNotFound
		}
		msg := userMessage(err)
		ErrorResponse(status, msg).TriggerErrorNotification(msg).Write(w)
		return
	}

	goals, err := s.formGoals(r)
	if err != nil {
		s.expireSession(w, r)
		return
	}

	s.render(w, r, http.StatusOK, "expense_form", expenseFormView{
		ID: expense.ID,
		Form: core.ExpenseForm{
			Name:   expense.Name,
			Value:  expense.Value.Amount.StringFixed(2),
			Date:   expense.Date.String(),
			GoalID: strconv.FormatInt(expense.GoalID, 10),
		},
		Goals: goals,
		From:  services.LocationOf(expense),
	})
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequestError("Invalid expense").Write(w)
		return
	}
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}

	form := p.ExpenseForm()
	from := p.Location()
	view := expenseFormView{ID: id, Form: form, From: from}
	rerender := func(fe core.FieldErrors, msg string) {
		view.Errors, view.Message = fe, msg
		view.Goals, _ = s.formGoals(r)
		s.render(w, r, http.StatusUnprocessableEntity, "expense_form", view)
	}

	u, fe := form.ParseUpdate()
	if !fe.Empty() {
		rerender(fe, "")
		return
	}

	updated, err := s.budget.UpdateExpense(r.Context(), id, from, u)
	if err != nil {
		s.mutationFailed(w, r, err, log.OpUpdate, rerender)
		return
	}
	s.appMetrics.mutations.Add(1)

	goals := []int64{updated.GoalID}
	if from.GoalID != 0 && from.GoalID != updated.GoalID {
		goals = append(goals, from.GoalID)
	}
	month := updated.Date.Month()
	NewHTMXResponse().
		TriggerExpenseChanged(goals...).
		TriggerSummaryRefresh(month.Year, int(month.Month)).
		TriggerModalClose().
		TriggerSuccessNotification("Expense updated").
		Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequestError("Invalid expense").Write(w)
		return
	}
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}
	from := p.Location()

	if err := s.budget.DeleteExpense(r.Context(), id, from); err != nil {
		s.mutationFailed(w, r, err, log.OpDelete, nil)
		return
	}
	s.appMetrics.mutations.Add(1)

	resp := NewHTMXResponse().TriggerSuccessNotification("Expense deleted")
	month := core.CurrentMonth(s.now())
	if from.Known() {
		resp.TriggerExpenseChanged(from.GoalID)
		month = from.Month
	} else {
		resp.TriggerExpenseChanged()
	}
	resp.TriggerSummaryRefresh(month.Year, int(month.Month)).Write(w)
}

func (s *Server) handleMatchingNames(w http.ResponseWriter, r *http.Request) {
	names, err := s.budget.MatchingNames(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		if s.readFailed(w, r, err) {
			return
		}
		s.logger.DebugContext(r.Context(), "Matching names unavailable", log.FieldError, err)
		names = nil
	}
	s.render(w, r, http.StatusOK, "matching_names", matchingNamesView{Names: names})
}
