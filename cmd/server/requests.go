package main

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lexify/requestforms/form"
	"github.com/lexify/requestforms/internal/auth"
	"github.com/lexify/requestforms/internal/logger"
	"github.com/lexify/requestforms/internal/storage"
	"github.com/lexify/requestforms/submit"
)

// account loads the caller's account; it writes the error response itself.
func (s *Server) account(w http.ResponseWriter, r *http.Request) (*storage.Account, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", auth.ErrMissingToken)
		return nil, false
	}

	acct, err := s.Users.Account(r.Context(), claims.UserID)
	if errors.Is(err, storage.ErrUserNotFound) {
		respondError(w, http.StatusUnauthorized, "unknown user", err)
		return nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load user", err)
		return nil, false
	}
	return acct, true
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.account(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, acct.Context)
}

// handleCreateRequest stores one multipart submission: the record in the
// data part, attachments in backgroundFiles and supplierFiles.
func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.account(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart body", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	data := r.FormValue(submit.PartData)
	if strings.TrimSpace(data) == "" {
		respondError(w, http.StatusBadRequest, "missing data part", nil)
		return
	}

	var rec form.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid data part", err)
		return
	}
	if msg, ok := s.checkRecord(&rec, acct); !ok {
		respondError(w, http.StatusBadRequest, msg, nil)
		return
	}

	files, err := s.saveFiles(r.MultipartForm)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		respondError(w, status, "failed to store attachments", err)
		return
	}

	stored, err := s.Requests.Create(r.Context(), storage.NewRequest{
		CompanyID: acct.CompanyID,
		CreatedBy: acct.UserID,
		Record:    &rec,
		Files:     files,
	})
	if err != nil {
		if rerr := s.Files.Remove(files...); rerr != nil {
			logger.Warn("Failed to remove orphaned attachments", "error", rerr)
		}
		respondError(w, http.StatusInternalServerError, "failed to store request", err)
		return
	}

	deadline, _ := rec.Deadline()
	if err := s.Scheduler.ScheduleExpiry(r.Context(), stored.ID, deadline); err != nil {
		logger.Warn("Failed to schedule request expiry", "requestId", stored.ID, "error", err)
	}

	logger.Submissions.Add(1)
	logger.Info("Request stored",
		"requestId", stored.ID,
		"assignmentType", rec.AssignmentType,
		"files", len(files),
	)
	respondJSON(w, http.StatusCreated, CreatedResponse{ID: stored.ID, State: stored.State})
}

// checkRecord applies the boundary's own checks: structure, a known
// category and an offers deadline that has not passed. The returned
// message is shown to the user.
func (s *Server) checkRecord(rec *form.Record, acct *storage.Account) (string, bool) {
	if err := rec.Check(); err != nil {
		return validationMessage(err), false
	}

	cat, err := s.Registry.Get(rec.AssignmentType)
	if err != nil {
		return "Unknown assignment type " + rec.AssignmentType, false
	}
	if rec.RequestCategory != cat.Spec.Category || rec.RequestSubcategory != cat.Spec.Subcategory {
		return "Category does not match the assignment type", false
	}

	if _, err := rec.Deadline(); err != nil {
		return "Offers deadline must be a date in the format YYYY-MM-DD", false
	}
	// Both sides are YYYY-MM-DD, so string order is date order.
	if rec.OffersDeadline < s.Now().Format("2006-01-02") {
		return "Offers deadline cannot be in the past", false
	}

	if !slices.Contains(acct.Context.ContactOptions(), rec.PrimaryContactPerson) {
		return "Primary contact person is not a contact person of your company", false
	}

	if rec.Details == nil {
		rec.Details = map[string]any{}
	}
	return "", true
}

func (s *Server) saveFiles(mf *multipart.Form) ([]*storage.StoredFile, error) {
	var saved []*storage.StoredFile
	for _, part := range []struct {
		name string
		slot form.Slot
	}{
		{submit.PartBackgroundFiles, form.SlotBackground},
		{submit.PartSupplierFiles, form.SlotSupplier},
	} {
		for i, fh := range mf.File[part.name] {
			f, err := s.Files.SaveUpload(string(part.slot), i, fh)
			if err != nil {
				if rerr := s.Files.Remove(saved...); rerr != nil {
					logger.Warn("Failed to remove partial attachments", "error", rerr)
				}
				return nil, err
			}
			saved = append(saved, f)
		}
	}
	return saved, nil
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.account(w, r)
	if !ok {
		return
	}

	req, err := s.Requests.Get(r.Context(), chi.URLParam(r, "requestId"))
	if errors.Is(err, storage.ErrRequestNotFound) {
		respondError(w, http.StatusNotFound, "request not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get request", err)
		return
	}
	if req.CompanyID != acct.CompanyID {
		respondError(w, http.StatusNotFound, "request not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, req)
}
