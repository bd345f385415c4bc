package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tally/internal/core"
)

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	list, err := s.categories.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]categoryJSON, len(list))
	for i, c := range list {
		out[i] = categoryJSON{ID: c.ID, Name: c.Name}
	}
	writeJSON(w, http.StatusOK, out)
}

type categoryRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrInvalidRequest))
		return
	}

	c, err := s.categories.Create(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, categoryJSON{ID: c.ID, Name: c.Name})
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", core.ErrInvalidRequest))
		return
	}

	c, err := s.categories.Update(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, categoryJSON{ID: c.ID, Name: c.Name})
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.categories.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
