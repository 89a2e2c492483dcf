package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/lexify/requestforms/category"
	"github.com/lexify/requestforms/form"
	"github.com/lexify/requestforms/rules"
)

func summary(spec *category.Spec) CategorySummary {
	return CategorySummary{
		Key:         spec.Key,
		Category:    spec.Category,
		Subcategory: spec.Subcategory,
		Title:       spec.Title,
	}
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats := s.Registry.List()
	out := make([]CategorySummary, 0, len(cats))
	for _, cat := range cats {
		out = append(out, summary(cat.Spec))
	}
	respondJSON(w, http.StatusOK, map[string]any{"categories": out})
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, CategoryResponse{
		CategorySummary: summary(cat.Spec),
		Fields:          cat.Spec.AllFields(),
		Stages:          category.StageOrder,
		Scope:           cat.Spec.Scope,
		Pricing:         cat.Spec.Pricing,
	})
}

// handlePolicy returns the visible and required fields of a draft. The UI
// calls it after every edit.
func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}

	var draft form.Snapshot
	if !decodeJSON(w, r, &draft) {
		return
	}

	vis, err := s.engine(cat).Resolve(draft)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to resolve field policy", err)
		return
	}
	respondJSON(w, http.StatusOK, vis)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}

	var draft form.Snapshot
	if !decodeJSON(w, r, &draft) {
		return
	}

	errs, err := s.engine(cat).ValidateAll(draft)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to validate draft", err)
		return
	}

	resp := ValidateResponse{Valid: len(errs) == 0, Errors: errs}
	if len(errs) > 0 {
		resp.Error = errs[0]
	} else {
		resp.Errors = []*form.ValidationError{}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}
	acct, ok := s.account(w, r)
	if !ok {
		return
	}

	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	doc, err := s.engine(cat).Preview(req.Draft, &acct.Context)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to render preview", err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// handleEvaluate reports each rule's outcome for a draft, for rule authors.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}

	var req EvaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	facts := req.Draft.Facts(cat.Spec)
	start := time.Now()

	var results []*rules.EvaluationResult
	if len(req.RuleIDs) > 0 {
		results = make([]*rules.EvaluationResult, 0, len(req.RuleIDs))
		for _, id := range req.RuleIDs {
			result, err := cat.Engine.Evaluate(id, facts)
			if errors.Is(err, rules.ErrRuleNotFound) {
				respondError(w, http.StatusNotFound, "rule not found", err)
				return
			}
			if result == nil {
				respondError(w, http.StatusInternalServerError, "evaluation failed", err)
				return
			}
			// Evaluation errors are carried in the result.
			results = append(results, result)
		}
	} else {
		var err error
		results, err = cat.Engine.EvaluateAll(facts)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "evaluation failed", err)
			return
		}
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		Results:        evaluationResponse(results),
		EvaluationTime: time.Since(start).String(),
	})
}
