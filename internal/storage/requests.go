package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lexify/requestforms/form"
)

// NewRequest is a validated record about to be stored.
type NewRequest struct {
	CompanyID string
	CreatedBy string
	Record    *form.Record
	Files     []*StoredFile
}

// StoredRequest is a persisted request.
type StoredRequest struct {
	ID        string        `json:"id"`
	CompanyID string        `json:"companyId"`
	CreatedBy string        `json:"createdBy"`
	State     string        `json:"state"`
	Record    form.Record   `json:"record"`
	Files     []*StoredFile `json:"files"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// RequestStore persists requests.
type RequestStore interface {
	Create(ctx context.Context, req NewRequest) (*StoredRequest, error)
	Get(ctx context.Context, id string) (*StoredRequest, error)
	Expire(ctx context.Context, id string, asOf time.Time) (bool, error)
	ExpireDue(ctx context.Context, asOf time.Time) (int64, error)
}

// PostgresRequestStore stores requests and attachment metadata.
type PostgresRequestStore struct {
	db *sql.DB
}

// NewPostgresRequestStore creates a request store on db.
func NewPostgresRequestStore(db *sql.DB) *PostgresRequestStore {
	return &PostgresRequestStore{db: db}
}

// Create inserts the request in state PENDING with its file rows, in one
// transaction.
func (s *PostgresRequestStore) Create(ctx context.Context, req NewRequest) (*StoredRequest, error) {
	rec := req.Record
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode details: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	out := &StoredRequest{
		ID:        uuid.NewString(),
		CompanyID: req.CompanyID,
		CreatedBy: req.CreatedBy,
		State:     StatePending,
		Record:    *rec,
		Files:     req.Files,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO requests (
			id, company_id, created_by, request_category, request_subcategory,
			assignment_type, title, primary_contact_person, scope_of_work,
			currency, payment_rate, rate_type, advance_retainer_fee, invoice_type,
			provider_size, provider_company_age, provider_minimum_rating,
			provider_country, language, offers_deadline,
			additional_background_info, details, state
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23
		)
		RETURNING created_at, updated_at
	`, out.ID, req.CompanyID, req.CreatedBy, rec.RequestCategory, rec.RequestSubcategory,
		rec.AssignmentType, rec.Title, rec.PrimaryContactPerson, rec.ScopeOfWork,
		rec.Currency, rec.PaymentRate, rec.RateType, rec.AdvanceRetainerFee, rec.InvoiceType,
		rec.ProviderSize, rec.ProviderCompanyAge, rec.ProviderMinimumRating,
		rec.ProviderCountry, rec.Language, rec.OffersDeadline,
		rec.AdditionalBackgroundInfo, details, out.State,
	).Scan(&out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert request: %w", err)
	}

	for _, f := range req.Files {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO request_files (id, request_id, slot, position, original_name, stored_name, content_type, size_bytes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, f.ID, out.ID, f.Slot, f.Position, f.OriginalName, f.StoredName, f.ContentType, f.Size)
		if err != nil {
			return nil, fmt.Errorf("failed to insert file %s: %w", f.OriginalName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit request: %w", err)
	}
	return out, nil
}

// Get loads a request with its files.
func (s *PostgresRequestStore) Get(ctx context.Context, id string) (*StoredRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}

	var (
		out      StoredRequest
		rec      = &out.Record
		deadline time.Time
		details  []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, created_by, request_category, request_subcategory,
			assignment_type, title, primary_contact_person, scope_of_work,
			currency, payment_rate, rate_type, advance_retainer_fee, invoice_type,
			provider_size, provider_company_age, provider_minimum_rating,
			provider_country, language, offers_deadline,
			additional_background_info, details, state, created_at, updated_at
		FROM requests
		WHERE id = $1
	`, id).Scan(&out.ID, &out.CompanyID, &out.CreatedBy, &rec.RequestCategory, &rec.RequestSubcategory,
		&rec.AssignmentType, &rec.Title, &rec.PrimaryContactPerson, &rec.ScopeOfWork,
		&rec.Currency, &rec.PaymentRate, &rec.RateType, &rec.AdvanceRetainerFee, &rec.InvoiceType,
		&rec.ProviderSize, &rec.ProviderCompanyAge, &rec.ProviderMinimumRating,
		&rec.ProviderCountry, &rec.Language, &deadline,
		&rec.AdditionalBackgroundInfo, &details, &out.State, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	rec.OffersDeadline = deadline.Format("2006-01-02")
	if err := json.Unmarshal(details, &rec.Details); err != nil {
		return nil, fmt.Errorf("failed to decode details: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slot, position, original_name, stored_name, content_type, size_bytes
		FROM request_files
		WHERE request_id = $1
		ORDER BY slot, position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	out.Files = []*StoredFile{}
	for rows.Next() {
		var f StoredFile
		if err := rows.Scan(&f.ID, &f.Slot, &f.Position, &f.OriginalName, &f.StoredName, &f.ContentType, &f.Size); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		out.Files = append(out.Files, &f)
	}
	return &out, rows.Err()
}

// Expire moves one request from PENDING to EXPIRED when its offers
// deadline lies before asOf's date. It reports whether the state changed.
func (s *PostgresRequestStore) Expire(ctx context.Context, id string, asOf time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET state = $1, updated_at = NOW()
		WHERE id = $2 AND state = $3 AND offers_deadline < $4::date
	`, StateExpired, id, StatePending, asOf.Format("2006-01-02"))
	if err != nil {
		return false, fmt.Errorf("failed to expire request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// ExpireDue expires every pending request whose deadline passed.
func (s *PostgresRequestStore) ExpireDue(ctx context.Context, asOf time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET state = $1, updated_at = NOW()
		WHERE state = $2 AND offers_deadline < $3::date
	`, StateExpired, StatePending, asOf.Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("failed to expire requests: %w", err)
	}
	return res.RowsAffected()
}
