package http

import (
	"net/http"
	"strconv"

	"fincon/internal/core"
	"fincon/internal/log"
)

func goalsForm(goals []core.Goal, values []core.GoalPercentage, fe core.FieldErrors) goalsFormView {
	view := goalsFormView{Errors: fe}
	for i, g := range goals {
		pct := g.Percentage
		if values != nil {
			pct = values[i].Percentage
		}
		field := goalField(g.ID)
		view.Rows = append(view.Rows, goalRow{
			Goal:   g,
			Field:  field,
			Value:  strconv.Itoa(pct),
			Errors: fe[field],
		})
	}
	view.Check = goalsCheck(goals, values, fe)
	return view
}

func goalsCheck(goals []core.Goal, values []core.GoalPercentage, fe core.FieldErrors) goalsCheckView {
	if values == nil {
		values = make([]core.GoalPercentage, 0, len(goals))
		for _, g := range goals {
			values = append(values, core.GoalPercentage{ID: g.ID, Percentage: g.Percentage})
		}
		fe = core.ValidateGoalPercentages(values)
	}
	return goalsCheckView{Sum: core.GoalSum(values), CanSave: fe.Empty()}
}

func (s *Server) handleGoalsForm(w http.ResponseWriter, r *http.Request) {
	goals, err := s.budget.Goals(r.Context())
	if err != nil {
		if s.readFailed(w, r, err) {
			return
		}
		msg := userMessage(err)
		ErrorResponse(statusFor(err), msg).TriggerErrorNotification(msg).Write(w)
		return
	}
	s.render(w, r, http.StatusOK, "goals_form", goalsForm(goals, nil, nil))
}

// handleGoalsCheck recomputes the sum while the user types and enables the
// save button only when it is exactly 100.
func (s *Server) handleGoalsCheck(w http.ResponseWriter, r *http.Request) {
	goals, err := s.budget.Goals(r.Context())
	if err != nil {
		if s.readFailed(w, r, err) {
			return
		}
		s.render(w, r, http.StatusOK, "goals_check", goalsCheckView{})
		return
	}

	p := NewRequestBodyParser(r)
	_ = p.Parse()
	values, fe := p.GoalPercentages(goals)
	s.render(w, r, http.StatusOK, "goals_check", goalsCheck(goals, values, fe))
}

func (s *Server) handleUpdateGoals(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}

	goals, err := s.budget.Goals(r.Context())
	if err != nil {
		s.mutationFailed(w, r, err, log.OpUpdate, nil)
		return
	}

	values, fe := p.GoalPercentages(goals)
	if !fe.Empty() {
		s.appMetrics.mutationFailures.Add(1)
		s.render(w, r, http.StatusUnprocessableEntity, "goals_form", goalsForm(goals, values, fe))
		return
	}

	if _, err := s.budget.UpdateGoals(r.Context(), values); err != nil {
		s.mutationFailed(w, r, err, log.OpUpdate, func(serverErrs core.FieldErrors, msg string) {
			view := goalsForm(goals, values, serverErrs)
			view.Message = msg
			view.Check.CanSave = true
			s.render(w, r, http.StatusUnprocessableEntity, "goals_form", view)
		})
		return
	}
	s.appMetrics.mutations.Add(1)

	month := monthFromQuery(r, s.now())
	NewHTMXResponse().
		TriggerGoalsRefresh().
		TriggerSummaryRefresh(month.Year, int(month.Month)).
		TriggerModalClose().
		TriggerSuccessNotification("Goals updated").
		Write(w)
}
