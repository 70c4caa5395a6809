package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/CloudIDP/platform/internal/models"
)

// PGStore persists the inventory in Postgres.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const resourceColumns = `resource_uuid, resource_type, resource_id, account_id, region, state, tags, metadata, created_at, updated_at, created_by, cost_center, environment`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanResource(row rowScanner) (models.Resource, error) {
	var (
		res      models.Resource
		tags     []byte
		metadata []byte
	)
	if err := row.Scan(
		&res.UUID,
		&res.Type,
		&res.ResourceID,
		&res.AccountID,
		&res.Region,
		&res.State,
		&tags,
		&metadata,
		&res.CreatedAt,
		&res.UpdatedAt,
		&res.CreatedBy,
		&res.CostCenter,
		&res.Environment,
	); err != nil {
		return models.Resource{}, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &res.Tags); err != nil {
			return models.Resource{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		res.Metadata = append(json.RawMessage(nil), metadata...)
	}
	return res, nil
}

func (p *PGStore) CreateResource(ctx context.Context, in ResourceInput) (models.Resource, error) {
	in.derive()
	tags, err := json.Marshal(in.Tags)
	if err != nil {
		return models.Resource{}, fmt.Errorf("encode tags: %w", err)
	}
	query := `
		INSERT INTO resources (resource_uuid, resource_type, resource_id, account_id, region, state, tags, metadata, created_by, cost_center, environment)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING ` + resourceColumns
	row := p.db.QueryRowContext(ctx, query,
		in.UUID, in.Type, in.ResourceID, in.AccountID, in.Region, in.State,
		tags, ensureJSON(in.Metadata, "null"), in.CreatedBy, in.costCenter(), in.environment())
	res, err := scanResource(row)
	if err != nil {
		return models.Resource{}, fmt.Errorf("insert resource: %w", err)
	}
	if err := p.appendHistory(ctx, res.UUID, "resource_created", "", res.State, in.CreatedBy); err != nil {
		return models.Resource{}, err
	}
	return res, nil
}

func (p *PGStore) appendHistory(ctx context.Context, id uuid.UUID, event string, prev, next models.ResourceState, changedBy string) error {
	if changedBy == "" {
		changedBy = "system"
	}
	query := `
		INSERT INTO resource_history (resource_uuid, event, previous_state, new_state, changed_by)
		VALUES ($1,$2,$3,$4,$5)
	`
	if _, err := p.db.ExecContext(ctx, query, id, event, nullable(string(prev)), next, changedBy); err != nil {
		return fmt.Errorf("insert resource history: %w", err)
	}
	return nil
}

func (p *PGStore) UpdateResourceState(ctx context.Context, id uuid.UUID, state models.ResourceState, metadata json.RawMessage, changedBy string) (models.Resource, error) {
	prev, err := p.GetResource(ctx, id)
	if err != nil {
		return models.Resource{}, err
	}
	query := `
		UPDATE resources
		SET state=$2, updated_at=NOW(), metadata=COALESCE($3, metadata)
		WHERE resource_uuid=$1
		RETURNING ` + resourceColumns
	var meta interface{}
	if len(metadata) > 0 {
		meta = []byte(metadata)
	}
	res, err := scanResource(p.db.QueryRowContext(ctx, query, id, state, meta))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Resource{}, ErrNotFound
		}
		return models.Resource{}, fmt.Errorf("update resource state: %w", err)
	}
	if err := p.appendHistory(ctx, id, "state_changed", prev.State, state, changedBy); err != nil {
		return models.Resource{}, err
	}
	return res, nil
}

func (p *PGStore) GetResource(ctx context.Context, id uuid.UUID) (models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE resource_uuid=$1`
	res, err := scanResource(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Resource{}, ErrNotFound
		}
		return models.Resource{}, fmt.Errorf("get resource: %w", err)
	}
	return res, nil
}

func (p *PGStore) SearchResources(ctx context.Context, filter ResourceFilter) ([]models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE 1=1`
	args := []interface{}{}
	argPos := 1
	add := func(clause string, value interface{}) {
		query += fmt.Sprintf(" AND %s = $%d", clause, argPos)
		args = append(args, value)
		argPos++
	}
	if filter.Type != "" {
		add("resource_type", filter.Type)
	}
	if filter.AccountID != "" {
		add("account_id", filter.AccountID)
	}
	if filter.Region != "" {
		add("region", filter.Region)
	}
	if filter.State != "" {
		add("state", filter.State)
	}
	if filter.CreatedAfter != nil {
		query += fmt.Sprintf(" AND created_at > $%d", argPos)
		args = append(args, *filter.CreatedAfter)
		argPos++
	}
	if filter.CreatedBefore != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argPos)
		args = append(args, *filter.CreatedBefore)
		argPos++
	}
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, normalizeLimit(filter.Limit), maxInt(filter.Offset, 0))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search resources: %w", err)
	}
	defer rows.Close()

	var resources []models.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return resources, nil
}

func (p *PGStore) GetResourceHistory(ctx context.Context, id uuid.UUID) ([]models.ResourceEvent, error) {
	if _, err := p.GetResource(ctx, id); err != nil {
		return nil, err
	}
	query := `
		SELECT ts, event, previous_state, new_state, changed_by
		FROM resource_history
		WHERE resource_uuid=$1
		ORDER BY ts
	`
	rows, err := p.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get resource history: %w", err)
	}
	defer rows.Close()

	var events []models.ResourceEvent
	for rows.Next() {
		var (
			ev   models.ResourceEvent
			prev sql.NullString
		)
		if err := rows.Scan(&ev.Timestamp, &ev.Event, &prev, &ev.NewState, &ev.ChangedBy); err != nil {
			return nil, fmt.Errorf("scan resource history: %w", err)
		}
		if prev.Valid {
			ev.PreviousState = models.ResourceState(prev.String)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resource history: %w", err)
	}
	return events, nil
}

const eventColumns = `event_uuid, event_type, ts, user_id, resource_uuid, account_id, action, result, metadata`

func scanEvent(row rowScanner) (models.AuditEvent, error) {
	var (
		ev       models.AuditEvent
		resource uuid.NullUUID
		account  sql.NullString
		metadata []byte
	)
	if err := row.Scan(
		&ev.UUID,
		&ev.Type,
		&ev.Timestamp,
		&ev.UserID,
		&resource,
		&account,
		&ev.Action,
		&ev.Result,
		&metadata,
	); err != nil {
		return models.AuditEvent{}, err
	}
	if resource.Valid {
		id := resource.UUID
		ev.ResourceUUID = &id
	}
	if account.Valid {
		ev.AccountID = account.String
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		ev.Metadata = append(json.RawMessage(nil), metadata...)
	}
	return ev, nil
}

func (p *PGStore) LogEvent(ctx context.Context, in EventInput) (models.AuditEvent, error) {
	in.derive()
	query := `
		INSERT INTO audit_logs (event_uuid, event_type, user_id, resource_uuid, account_id, action, result, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING ` + eventColumns
	var resource interface{}
	if in.ResourceUUID != nil {
		resource = *in.ResourceUUID
	}
	row := p.db.QueryRowContext(ctx, query,
		in.UUID, in.Type, in.UserID, resource, nullable(in.AccountID),
		in.Action, in.Result, ensureJSON(in.Metadata, "null"))
	ev, err := scanEvent(row)
	if err != nil {
		return models.AuditEvent{}, fmt.Errorf("insert audit event: %w", err)
	}
	return ev, nil
}

func (p *PGStore) QueryAuditLogs(ctx context.Context, filter EventFilter) ([]models.AuditEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM audit_logs WHERE 1=1`
	args := []interface{}{}
	argPos := 1
	add := func(clause string, value interface{}) {
		query += fmt.Sprintf(" AND %s = $%d", clause, argPos)
		args = append(args, value)
		argPos++
	}
	if filter.Type != "" {
		add("event_type", filter.Type)
	}
	if filter.UserID != "" {
		add("user_id", filter.UserID)
	}
	if filter.AccountID != "" {
		add("account_id", filter.AccountID)
	}
	if filter.ResourceUUID != nil {
		add("resource_uuid", *filter.ResourceUUID)
	}
	if filter.Action != "" {
		add("action", filter.Action)
	}
	if filter.Start != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argPos)
		args = append(args, *filter.Start)
		argPos++
	}
	if filter.End != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argPos)
		args = append(args, *filter.End)
		argPos++
	}
	query += " ORDER BY ts DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, normalizeLimit(filter.Limit), maxInt(filter.Offset, 0))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

const violationColumns = `violation_uuid, policy_id, resource_uuid, severity, description, remediation, detected_at, status, resolved_at, resolved_by, notes`

func scanViolation(row rowScanner) (models.PolicyViolation, error) {
	var (
		v           models.PolicyViolation
		resource    uuid.NullUUID
		remediation sql.NullString
		resolvedAt  sql.NullTime
		resolvedBy  sql.NullString
		notes       sql.NullString
	)
	if err := row.Scan(
		&v.UUID,
		&v.PolicyID,
		&resource,
		&v.Severity,
		&v.Description,
		&remediation,
		&v.DetectedAt,
		&v.Status,
		&resolvedAt,
		&resolvedBy,
		&notes,
	); err != nil {
		return models.PolicyViolation{}, err
	}
	if resource.Valid {
		id := resource.UUID
		v.Resource = &id
	}
	if remediation.Valid {
		v.Remediation = remediation.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		v.ResolvedAt = &t
	}
	if resolvedBy.Valid {
		v.ResolvedBy = resolvedBy.String
	}
	if notes.Valid {
		v.Notes = notes.String
	}
	return v, nil
}

func (p *PGStore) RecordViolation(ctx context.Context, in ViolationInput) (models.PolicyViolation, error) {
	if in.UUID == uuid.Nil {
		in.UUID = uuid.New()
	}
	query := `
		INSERT INTO policy_violations (violation_uuid, policy_id, resource_uuid, severity, description, remediation, status)
		VALUES ($1,$2,$3,$4,$5,$6,'open')
		RETURNING ` + violationColumns
	var resource interface{}
	if in.ResourceUUID != nil {
		resource = *in.ResourceUUID
	}
	row := p.db.QueryRowContext(ctx, query,
		in.UUID, in.PolicyID, resource, in.Severity, in.Description, nullable(in.Remediation))
	v, err := scanViolation(row)
	if err != nil {
		return models.PolicyViolation{}, fmt.Errorf("insert violation: %w", err)
	}
	return v, nil
}

func (p *PGStore) ResolveViolation(ctx context.Context, id uuid.UUID, resolvedBy, notes string) (models.PolicyViolation, error) {
	query := `
		UPDATE policy_violations
		SET status='resolved', resolved_at=NOW(), resolved_by=$2, notes=$3
		WHERE violation_uuid=$1 AND status='open'
		RETURNING ` + violationColumns
	v, err := scanViolation(p.db.QueryRowContext(ctx, query, id, resolvedBy, nullable(notes)))
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.PolicyViolation{}, fmt.Errorf("resolve violation: %w", err)
	}
	// No row updated: missing, or already resolved.
	check := `SELECT status FROM policy_violations WHERE violation_uuid=$1`
	var status string
	if scanErr := p.db.QueryRowContext(ctx, check, id).Scan(&status); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return models.PolicyViolation{}, ErrNotFound
		}
		return models.PolicyViolation{}, fmt.Errorf("check violation: %w", scanErr)
	}
	return models.PolicyViolation{}, ErrAlreadyResolved
}

func (p *PGStore) ListOpenViolations(ctx context.Context, filter ViolationFilter) ([]models.PolicyViolation, error) {
	query := `SELECT ` + violationColumns + ` FROM policy_violations WHERE status='open'`
	args := []interface{}{}
	argPos := 1
	if filter.PolicyID != "" {
		query += fmt.Sprintf(" AND policy_id = $%d", argPos)
		args = append(args, filter.PolicyID)
		argPos++
	}
	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", argPos)
		args = append(args, filter.Severity)
		argPos++
	}
	query += " ORDER BY detected_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, normalizeLimit(filter.Limit), maxInt(filter.Offset, 0))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list open violations: %w", err)
	}
	defer rows.Close()

	var violations []models.PolicyViolation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		violations = append(violations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violations: %w", err)
	}
	return violations, nil
}

func (p *PGStore) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
