package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lexify/requestforms/rules"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}

	list, err := cat.Engine.Store().List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

func (s *Server) decodeRule(w http.ResponseWriter, r *http.Request) (*RuleRequest, bool) {
	var req RuleRequest
	if !decodeJSON(w, r, &req) {
		return nil, false
	}
	if err := s.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err), nil)
		return nil, false
	}
	return &req, true
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}
	req, ok := s.decodeRule(w, r)
	if !ok {
		return
	}

	rule := &rules.Rule{
		ID:         req.ID,
		Category:   cat.Spec.Key,
		Name:       req.Name,
		Expression: req.Expression,
		Reveal:     req.Reveal,
		Require:    req.Require,
		Active:     req.Active == nil || *req.Active,
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	if err := cat.Engine.AddRule(rule); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, rules.ErrRuleExists) {
			status = http.StatusConflict
		}
		respondError(w, status, "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}

	rule, err := cat.Engine.Store().Get(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondRuleError(w, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}
	req, ok := s.decodeRule(w, r)
	if !ok {
		return
	}

	ruleID := chi.URLParam(r, "ruleId")
	existing, err := cat.Engine.Store().Get(ruleID)
	if err != nil {
		respondRuleError(w, "failed to get rule", err)
		return
	}

	rule := &rules.Rule{
		ID:         ruleID,
		Category:   cat.Spec.Key,
		Name:       req.Name,
		Expression: req.Expression,
		Reveal:     req.Reveal,
		Require:    req.Require,
		Active:     existing.Active,
		CreatedAt:  existing.CreatedAt,
		UpdatedAt:  time.Now(),
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := cat.Engine.UpdateRule(rule); err != nil {
		respondRuleError(w, "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}

	if err := cat.Engine.DeleteRule(chi.URLParam(r, "ruleId")); err != nil {
		respondRuleError(w, "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondRuleError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, rules.ErrRuleNotFound) {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondError(w, http.StatusBadRequest, message, err)
}
