package http

import (
	"net/http"
	"sync/atomic"

	"budgetapp/internal/core"
	"budgetapp/internal/signature"
)

// statusBody is the shape of successful mutations.
type statusBody struct {
	Status  string        `json:"status"`
	Expense *core.Expense `json:"expense,omitempty"`
	Budget  *float64      `json:"budget,omitempty"`
}

// readSigned reads the body and runs the signature gate over it.
func (s *Server) readSigned(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	p := NewRequestBodyParser(w, r)
	if err := p.Err(); err != nil {
		return nil, err
	}
	if err := s.verifier.Check(p.Raw(), r.Header.Get(signature.HeaderName)); err != nil {
		return nil, err
	}
	return p.Raw(), nil
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	body, err := s.readSigned(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := core.ParseExpensePayload(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e, err := s.expenses.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.listCache.Purge()
	atomic.AddInt64(&s.metrics.expensesCreated, 1)

	NewJSONResponse().
		Status(http.StatusCreated).
		Body(statusBody{Status: "ok", Expense: &e}).
		Write(w)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseListFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.list(w, r, filter)
}

func (s *Server) handleThisWeek(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, core.ListFilter{ThisWeek: true})
}

// list serves a listing through the cache. A result computed while a write
// purged the cache is returned but not stored.
func (s *Server) list(w http.ResponseWriter, r *http.Request, filter core.ListFilter) {
	key := listCacheKey(filter.Resolve(s.now()))
	if items, ok := s.listCache.Get(key); ok {
		atomic.AddInt64(&s.metrics.cacheHits, 1)
		NewJSONResponse().Body(items).Write(w)
		return
	}
	atomic.AddInt64(&s.metrics.cacheMisses, 1)

	gen := s.listCache.Generation()
	items, err := s.expenses.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = core.Ledger{}
	}
	s.listCache.SetIfGeneration(key, items, gen)

	NewJSONResponse().Body(items).Write(w)
}

func (s *Server) handlePatchExpense(w http.ResponseWriter, r *http.Request) {
	body, err := s.readSigned(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	in, err := core.ParseExpensePayload(body)
	if err != nil {
		// An unknown id is reported before a bad payload.
		if found, lookupErr := s.expenses.Exists(r.Context(), id); lookupErr != nil {
			err = lookupErr
		} else if !found {
			err = &core.NotFoundError{ID: id}
		}
		writeError(w, r, err)
		return
	}

	e, err := s.expenses.Patch(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.listCache.Purge()

	NewJSONResponse().Body(statusBody{Status: "Expense updated", Expense: &e}).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	body, err := s.readSigned(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := core.ParseDeletePayload(body, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	e, err := s.expenses.Delete(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.listCache.Purge()
	atomic.AddInt64(&s.metrics.expensesDeleted, 1)

	NewJSONResponse().Body(statusBody{Status: "Expense deleted", Expense: &e}).Write(w)
}
