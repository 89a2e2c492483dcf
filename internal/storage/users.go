package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lexify/requestforms/form"
)

// Account is a signed-in user together with the company context shown in
// request forms.
type Account struct {
	UserID    string           `json:"userId"`
	CompanyID string           `json:"companyId"`
	Email     string           `json:"email"`
	Role      string           `json:"role"`
	Context   form.UserContext `json:"context"`
}

// UserStore loads accounts.
type UserStore interface {
	Account(ctx context.Context, userID string) (*Account, error)
}

// PostgresUserStore reads companies, users and contact persons.
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a user store on db.
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

// Account loads the user and the company's contact persons.
func (s *PostgresUserStore) Account(ctx context.Context, userID string) (*Account, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	var a Account
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.company_id, u.email, u.role, c.name, c.business_id, c.country
		FROM users u
		JOIN companies c ON c.id = u.company_id
		WHERE u.id = $1
	`, userID).Scan(&a.UserID, &a.CompanyID, &a.Email, &a.Role,
		&a.Context.CompanyName, &a.Context.BusinessID, &a.Context.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name
		FROM contact_persons
		WHERE company_id = $1
		ORDER BY last_name, first_name
	`, a.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact persons: %w", err)
	}
	defer rows.Close()

	a.Context.ContactPersons = []form.ContactPerson{}
	for rows.Next() {
		var p form.ContactPerson
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName); err != nil {
			return nil, fmt.Errorf("failed to scan contact person: %w", err)
		}
		a.Context.ContactPersons = append(a.Context.ContactPersons, p)
	}
	return &a, rows.Err()
}

// CreateCompany inserts a company and returns its id.
func (s *PostgresUserStore) CreateCompany(ctx context.Context, name, businessID, country string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, business_id, country)
		VALUES ($1, $2, $3, $4)
	`, id, name, businessID, country)
	if err != nil {
		return "", fmt.Errorf("failed to create company: %w", err)
	}
	return id, nil
}

// CreateUser inserts a user of a company and returns its id.
func (s *PostgresUserStore) CreateUser(ctx context.Context, companyID, email, role string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, company_id, email, role)
		VALUES ($1, $2, $3, $4)
	`, id, companyID, email, role)
	if err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

// AddContactPerson adds a contact person to a company.
func (s *PostgresUserStore) AddContactPerson(ctx context.Context, companyID string, p form.ContactPerson) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contact_persons (id, company_id, first_name, last_name)
		VALUES ($1, $2, $3, $4)
	`, id, companyID, p.FirstName, p.LastName)
	if err != nil {
		return "", fmt.Errorf("failed to add contact person: %w", err)
	}
	return id, nil
}
