package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tally/internal/core"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.users.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]userJSON, len(list))
	for i, u := range list {
		out[i] = toUserJSON(u)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.users.Delete(r.Context(), r.PathValue("username")); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type promoteRequest struct {
	Username string `json:"username"`
	NewRole  string `json:"new_role"`
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrInvalidRequest))
		return
	}

	u, err := s.users.SetRole(r.Context(), req.Username, core.Role(req.NewRole))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserJSON(u))
}

type adminExpenseJSON struct {
	expenseJSON
	Owner string `json:"owner"`
}

func (s *Server) handleAdminExpenses(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := s.engine.ListAllExpenses(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]adminExpenseJSON, len(list))
	for i, e := range list {
		out[i] = adminExpenseJSON{expenseJSON: toExpenseJSON(e), Owner: e.Owner}
	}
	writeJSON(w, http.StatusOK, out)
}
