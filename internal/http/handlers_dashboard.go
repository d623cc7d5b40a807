package http

import (
	"net/http"

	"fincon/internal/core"
	"fincon/internal/dashboard"
	"fincon/internal/log"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	month := monthFromQuery(r, now)

	board := s.composer.Compose(r.Context(), month)
	if board.SessionExpired() {
		s.expireSession(w, r)
		return
	}

	s.render(w, r, http.StatusOK, "dashboard.html", dashboardPage{
		Title: "Dashboard",
		Nav:   newMonthNav(month, now),
		Board: board,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	month := monthFromQuery(r, s.now())

	summary, err := s.budget.Summary(r.Context(), month)
	if err != nil {
		if s.readFailed(w, r, err) {
			return
		}
		s.logger.WarnContext(r.Context(), "Summary unavailable",
			log.FieldError, err,
			log.FieldYear, month.Year,
			log.FieldMonth, int(month.Month))
	}
	s.render(w, r, http.StatusOK, "summary", summaryView{Month: month, Summary: summary, Err: err})
}

func (s *Server) handleGoalExpenses(w http.ResponseWriter, r *http.Request) {
	goalID, err := pathID(r)
	if err != nil {
		BadRequestError("Invalid goal").Write(w)
		return
	}
	month := monthFromQuery(r, s.now())

	panel := panelView{Month: month}
	goals, err := s.budget.Goals(r.Context())
	if err != nil {
		if s.readFailed(w, r, err) {
			return
		}
		panel.Goal = core.Goal{ID: goalID}
		panel.Err = err
		s.render(w, r, http.StatusOK, "goal_panel", panel)
		return
	}

	found := false
	for _, g := range goals {
		if g.ID == goalID {
			panel.Goal, found = g, true
			break
		}
	}
	if !found {
		NotFoundError("Goal not found").Write(w)
		return
	}

	panel.Expenses, panel.Err = s.budget.Expenses(r.Context(), goalID, month)
	if panel.Err != nil && s.readFailed(w, r, panel.Err) {
		return
	}
	s.render(w, r, http.StatusOK, "goal_panel", panel)
}

func (s *Server) handleSalary(w http.ResponseWriter, r *http.Request) {
	salary, err := s.budget.Salary(r.Context())
	if err != nil && s.readFailed(w, r, err) {
		return
	}
	s.render(w, r, http.StatusOK, "salary", salaryView{Salary: salary, Err: err})
}

func (s *Server) handleSalaryForm(w http.ResponseWriter, r *http.Request) {
	view := salaryFormView{}
	salary, err := s.budget.Salary(r.Context())
	if err != nil {
		if s.readFailed(w, r, err) {
			return
		}
		view.Message = userMessage(err)
	} else {
		view.Amount = salary.Amount.Amount.StringFixed(2)
	}
	s.render(w, r, http.StatusOK, "salary_form", view)
}

func (s *Server) handleUpdateSalary(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}

	view := salaryFormView{Amount: p.Get("amount")}
	amount, fe := core.ParseSalary(view.Amount)
	if !fe.Empty() {
		view.Errors = fe
		s.render(w, r, http.StatusUnprocessableEntity, "salary_form", view)
		return
	}

	salary, err := s.budget.UpdateSalary(r.Context(), amount)
	if err != nil {
		s.mutationFailed(w, r, err, "update_salary", func(fe core.FieldErrors, msg string) {
			view.Errors, view.Message = fe, msg
			s.render(w, r, http.StatusUnprocessableEntity, "salary_form", view)
		})
		return
	}
	s.appMetrics.mutations.Add(1)

	month := dashboard.ResolveMonth(p.Get("year"), p.Get("month"), s.now())
	NewHTMXResponse().
		TriggerSalaryRefresh().
		TriggerSummaryRefresh(month.Year, int(month.Month)).
		TriggerModalClose().
		TriggerSuccessNotification("Salary set to " + salary.Amount.String()).
		Write(w)
}
