// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nholm/ballast/internal/items"
)

// itemRequest is the write payload for create and update.
type itemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

const maxItemBody = 64 << 10 // 64 KiB, items are small

func (s *Server) decodeItemRequest(w http.ResponseWriter, r *http.Request) (*itemRequest, bool) {
	var req itemRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxItemBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_body", "malformed JSON request body")
		return nil, false
	}
	return &req, true
}

func (s *Server) itemID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_id", "item ID must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// requireItems guards item routes when the daemon runs without a
// database.
func (s *Server) requireItems(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Items == nil {
		respondError(w, r, http.StatusServiceUnavailable, "no_database",
			"item storage is disabled, no database configured")
		return false
	}
	return true
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	if !s.requireItems(w, r) {
		return
	}

	q := items.PageQuery{}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, r, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
			return
		}
		q.Offset = n
	}

	page, err := s.deps.Items.List(r.Context(), q)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	if !s.requireItems(w, r) {
		return
	}
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}

	it, err := s.deps.Items.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	if !s.requireItems(w, r) {
		return
	}
	req, ok := s.decodeItemRequest(w, r)
	if !ok {
		return
	}

	it, err := s.deps.Items.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/items/"+it.ID.String())
	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	if !s.requireItems(w, r) {
		return
	}
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	req, ok := s.decodeItemRequest(w, r)
	if !ok {
		return
	}

	it, err := s.deps.Items.Update(r.Context(), id, req.Name, req.Description)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if !s.requireItems(w, r) {
		return
	}
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}

	if err := s.deps.Items.Delete(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
