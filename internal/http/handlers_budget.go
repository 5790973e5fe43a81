package http

import (
	"net/http"

	"budgetapp/internal/core"
)

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := s.budget.Get(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(b).Write(w)
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	body, err := s.readSigned(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := core.ParseBudgetPayload(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	b, err := s.budget.Update(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(statusBody{Status: "Budget updated", Budget: &b.WeeklyBudget}).Write(w)
}

func (s *Server) handleBudgetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.budget.Summary(r.Context(), s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(summary).Write(w)
}
