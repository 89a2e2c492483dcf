package rules

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore on the field_rules table, scoped to
// one request category.
type PostgresRuleStore struct {
	db       *sql.DB
	category string
}

// NewPostgresRuleStore creates a store for the rules of category.
func NewPostgresRuleStore(db *sql.DB, category string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:       db,
		category: category,
	}
}

const ruleColumns = `id, category, name, expression, reveal_fields, require_fields, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var reveal, require pq.StringArray
	if err := row.Scan(&r.ID, &r.Category, &r.Name, &r.Expression, &reveal, &require,
		&r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Reveal = []string(reveal)
	r.Require = []string(require)
	return &r, nil
}

// Add inserts a new rule.
func (s *PostgresRuleStore) Add(rule *Rule) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM field_rules WHERE id = $1 AND category = $2)
	`, rule.ID, s.category).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
	}

	now := time.Now()
	rule.Category = s.category
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO field_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rule.ID, s.category, rule.Name, rule.Expression,
		pq.Array(rule.Reveal), pq.Array(rule.Require), rule.Active,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM field_rules
		WHERE id = $1 AND category = $2
	`, id, s.category)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns every rule of the category.
func (s *PostgresRuleStore) List() ([]*Rule, error) {
	return s.query(`
		SELECT `+ruleColumns+`
		FROM field_rules
		WHERE category = $1
		ORDER BY created_at ASC, id ASC
	`)
}

// ListActive returns the active rules of the category.
func (s *PostgresRuleStore) ListActive() ([]*Rule, error) {
	return s.query(`
		SELECT `+ruleColumns+`
		FROM field_rules
		WHERE category = $1 AND active = true
		ORDER BY created_at ASC, id ASC
	`)
}

func (s *PostgresRuleStore) query(q string) ([]*Rule, error) {
	rows, err := s.db.Query(q, s.category)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

// Update modifies an existing rule, keeping its CreatedAt.
func (s *PostgresRuleStore) Update(rule *Rule) error {
	existing, err := s.Get(rule.ID)
	if err != nil {
		return err
	}

	rule.Category = s.category
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE field_rules
		SET name = $1, expression = $2, reveal_fields = $3, require_fields = $4,
		    active = $5, updated_at = $6
		WHERE id = $7 AND category = $8
	`, rule.Name, rule.Expression, pq.Array(rule.Reveal), pq.Array(rule.Require),
		rule.Active, rule.UpdatedAt, rule.ID, s.category)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	return expectOneRow(result, rule.ID)
}

// Delete removes a rule.
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM field_rules
		WHERE id = $1 AND category = $2
	`, id, s.category)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	return expectOneRow(result, id)
}

func expectOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}
