package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/pkg/models"
)

// InsertEscalationRule creates a rule, assigning an ID when none is set.
func (s *PostgresStore) InsertEscalationRule(ctx context.Context, rule *models.EscalationRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO escalation_rules (id, org_id, name, trigger_condition, severity, escalation_path, time_thresholds_hours, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rule.ID, rule.OrgID, rule.Name, rule.TriggerCondition, rule.Severity,
		rule.EscalationPath, rule.TimeThresholdsHours, rule.CreatedAt)
	if uniqueViolation(err) {
		return apperr.ErrConflict
	}
	return err
}

// FindEscalationRulesByOrg lists an org's escalation rules.
func (s *PostgresStore) FindEscalationRulesByOrg(ctx context.Context, orgID string) ([]*models.EscalationRule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, org_id, name, trigger_condition, severity, escalation_path, time_thresholds_hours, created_at
			FROM escalation_rules WHERE org_id = $1 ORDER BY id`,
		orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.EscalationRule
	for rows.Next() {
		var r models.EscalationRule
		if err := rows.Scan(&r.ID, &r.OrgID, &r.Name, &r.TriggerCondition, &r.Severity,
			&r.EscalationPath, &r.TimeThresholdsHours, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// GetEscalationState returns the stored state or a zero-level one.
func (s *PostgresStore) GetEscalationState(ctx context.Context, entity models.EntityRef) (*models.EscalationState, error) {
	st := &models.EscalationState{Entity: entity}
	err := s.db.QueryRow(ctx,
		`SELECT org_id, rule_id, level, exhausted, updated_at FROM escalation_states
			WHERE entity_kind = $1 AND entity_id = $2`,
		entity.Kind, entity.ID,
	).Scan(&st.OrgID, &st.RuleID, &st.Level, &st.Exhausted, &st.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) ensureEscalationState(ctx context.Context, orgID string, entity models.EntityRef) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO escalation_states (entity_kind, entity_id, rule_id, org_id, level, exhausted, updated_at)
			VALUES ($1, $2, '', $3, 0, FALSE, NOW()) ON CONFLICT DO NOTHING`,
		entity.Kind, entity.ID, orgID)
	return err
}

// CompareAndSetEscalationLevel moves the level from expected to next in a
// single conditional update.
func (s *PostgresStore) CompareAndSetEscalationLevel(ctx context.Context, orgID string, entity models.EntityRef, ruleID string, expected, next int) (bool, error) {
	if err := s.ensureEscalationState(ctx, orgID, entity); err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE escalation_states SET level = $1, rule_id = $2, updated_at = NOW()
			WHERE entity_kind = $3 AND entity_id = $4 AND level = $5`,
		next, ruleID, entity.Kind, entity.ID, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkEscalationExhausted sets the exhausted flag once.
func (s *PostgresStore) MarkEscalationExhausted(ctx context.Context, orgID string, entity models.EntityRef, ruleID string) (bool, error) {
	if err := s.ensureEscalationState(ctx, orgID, entity); err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE escalation_states SET exhausted = TRUE, rule_id = $1, updated_at = NOW()
			WHERE entity_kind = $2 AND entity_id = $3 AND NOT exhausted`,
		ruleID, entity.Kind, entity.ID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetOrgByDomain retrieves an organization by its email domain.
func (s *PostgresStore) GetOrgByDomain(ctx context.Context, domain string) (*models.Organization, error) {
	var org models.Organization
	err := s.db.QueryRow(ctx,
		"SELECT id, name, domain, created_at, updated_at FROM organizations WHERE domain = $1",
		domain,
	).Scan(&org.ID, &org.Name, &org.Domain, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &org, nil
}

// CreateOrg creates a new organization.
func (s *PostgresStore) CreateOrg(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	now := time.Now()
	org.CreatedAt, org.UpdatedAt = now, now
	_, err := s.db.Exec(ctx,
		"INSERT INTO organizations (id, name, domain, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)",
		org.ID, org.Name, org.Domain, org.CreatedAt, org.UpdatedAt)
	if uniqueViolation(err) {
		return apperr.ErrConflict
	}
	return err
}
