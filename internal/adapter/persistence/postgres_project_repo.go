package persistence

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/compliai/auditplanner/internal/domain"
	"github.com/compliai/auditplanner/internal/ports"
	"github.com/compliai/auditplanner/pkg/logger"
	"github.com/lib/pq"
)

const projectColumns = `id, owner_id, title, description, framework, source_document_id, status,
	compliance_score, covered_controls, missing_controls, generated_policy, audit_trail, created_at, updated_at`

// queryer is satisfied by both *sql.DB and *sql.Conn
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// PostgresProjectRepository implements ProjectRepository using PostgreSQL
type PostgresProjectRepository struct {
	db     *sql.DB
	logger logger.Logger
}

// NewPostgresProjectRepository creates a new PostgreSQL project repository
func NewPostgresProjectRepository(db *sql.DB, log logger.Logger) ports.ProjectRepository {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &PostgresProjectRepository{db: db, logger: log}
}

// Create saves a new project
func (r *PostgresProjectRepository) Create(ctx context.Context, project *domain.AuditProject) error {
	query := `
		INSERT INTO audit_projects (` + projectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	policyJSON, err := marshalPolicy(project.GeneratedPolicy)
	if err != nil {
		return err
	}
	trailJSON, err := json.Marshal(nonNilTrail(project.AuditTrail))
	if err != nil {
		return fmt.Errorf("failed to marshal audit trail: %w", err)
	}

	err = r.withRetry(ctx, "create", func(q queryer) error {
		_, err := q.ExecContext(ctx, query,
			project.ID,
			project.OwnerID,
			project.Title,
			project.Description,
			project.Framework,
			project.SourceDocumentID,
			string(project.Status),
			project.ComplianceScore,
			pq.Array(nonNilStrings(project.CoveredControls)),
			pq.Array(nonNilStrings(project.MissingControls)),
			policyJSON,
			trailJSON,
			project.CreatedAt,
			project.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create audit project: %w", err)
	}

	return nil
}

// FindByID retrieves a project by id and owner
func (r *PostgresProjectRepository) FindByID(ctx context.Context, id, ownerID string) (*domain.AuditProject, error) {
	query := `SELECT ` + projectColumns + ` FROM audit_projects WHERE id = $1 AND owner_id = $2`

	var project *domain.AuditProject
	err := r.withRetry(ctx, "find", func(q queryer) error {
		var scanErr error
		project, scanErr = scanProject(q.QueryRowContext(ctx, query, id, ownerID))
		return scanErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to find audit project: %w", err)
	}

	return project, nil
}

// AppendTrailEntry appends an entry to the JSONB trail and sets updated_at in one statement
func (r *PostgresProjectRepository) AppendTrailEntry(ctx context.Context, id string, entry domain.AuditTrailEntry) error {
	query := `
		UPDATE audit_projects
		SET audit_trail = audit_trail || $2::jsonb, updated_at = $3
		WHERE id = $1
	`

	entryJSON, err := json.Marshal([]domain.AuditTrailEntry{entry})
	if err != nil {
		return fmt.Errorf("failed to marshal audit trail entry: %w", err)
	}

	var affected int64
	err = r.withRetry(ctx, "append_trail", func(q queryer) error {
		result, err := q.ExecContext(ctx, query, id, string(entryJSON), entry.Timestamp)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to append audit trail entry: %w", err)
	}
	if affected == 0 {
		return domain.ErrProjectNotFound
	}

	return nil
}

// Complete sets status, analysis fields and policy in one statement. Only a Generating project is updated.
func (r *PostgresProjectRepository) Complete(ctx context.Context, id string, result domain.GapAnalysisResult, policy domain.GeneratedPolicy, at time.Time) error {
	query := `
		UPDATE audit_projects
		SET status = $2, compliance_score = $3, covered_controls = $4, missing_controls = $5,
			generated_policy = $6, updated_at = $7
		WHERE id = $1 AND status = $8
	`

	policyJSON, err := marshalPolicy(&policy)
	if err != nil {
		return err
	}

	var affected int64
	err = r.withRetry(ctx, "complete", func(q queryer) error {
		res, err := q.ExecContext(ctx, query,
			id,
			string(domain.ProjectStatusCompleted),
			domain.ClampScore(result.ComplianceScore),
			pq.Array(nonNilStrings(result.CoveredControls)),
			pq.Array(nonNilStrings(result.MissingControls)),
			policyJSON,
			at,
			string(domain.ProjectStatusGenerating),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to complete audit project: %w", err)
	}
	if affected == 0 {
		return r.transitionError(ctx, id)
	}

	return nil
}

// MarkFailed moves a Generating project to Failed
func (r *PostgresProjectRepository) MarkFailed(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE audit_projects
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`

	var affected int64
	err := r.withRetry(ctx, "mark_failed", func(q queryer) error {
		res, err := q.ExecContext(ctx, query,
			id,
			string(domain.ProjectStatusFailed),
			at,
			string(domain.ProjectStatusGenerating),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark audit project failed: %w", err)
	}
	if affected == 0 {
		return r.transitionError(ctx, id)
	}

	return nil
}

// MarkStaleFailed fails a Generating project that has recorded no progress since before
func (r *PostgresProjectRepository) MarkStaleFailed(ctx context.Context, id string, before, at time.Time) error {
	query := `
		UPDATE audit_projects
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4 AND updated_at < $5
	`

	var affected int64
	err := r.withRetry(ctx, "mark_stale_failed", func(q queryer) error {
		res, err := q.ExecContext(ctx, query,
			id,
			string(domain.ProjectStatusFailed),
			at,
			string(domain.ProjectStatusGenerating),
			before,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark stale audit project failed: %w", err)
	}
	if affected == 0 {
		return r.transitionError(ctx, id)
	}

	return nil
}

// UpdateDetails writes title and description
func (r *PostgresProjectRepository) UpdateDetails(ctx context.Context, id, ownerID, title string, description *string, at time.Time) error {
	query := `
		UPDATE audit_projects
		SET title = $3, description = $4, updated_at = $5
		WHERE id = $1 AND owner_id = $2
	`

	var affected int64
	err := r.withRetry(ctx, "update_details", func(q queryer) error {
		res, err := q.ExecContext(ctx, query, id, ownerID, title, description, at)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update audit project: %w", err)
	}
	if affected == 0 {
		return domain.ErrProjectNotFound
	}

	return nil
}

// UpdatePolicy replaces the policy of a Completed project
func (r *PostgresProjectRepository) UpdatePolicy(ctx context.Context, id, ownerID string, policy domain.GeneratedPolicy, at time.Time) error {
	query := `
		UPDATE audit_projects
		SET generated_policy = $3, updated_at = $4
		WHERE id = $1 AND owner_id = $2 AND status = $5
	`

	policyJSON, err := marshalPolicy(&policy)
	if err != nil {
		return err
	}

	var affected int64
	err = r.withRetry(ctx, "update_policy", func(q queryer) error {
		res, err := q.ExecContext(ctx, query,
			id,
			ownerID,
			policyJSON,
			at,
			string(domain.ProjectStatusCompleted),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update audit project policy: %w", err)
	}
	if affected == 0 {
		return r.policyUpdateError(ctx, id, ownerID)
	}

	return nil
}

// ListByOwner returns the owner's projects, newest first
func (r *PostgresProjectRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.AuditProject, error) {
	query := `SELECT ` + projectColumns + ` FROM audit_projects WHERE owner_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, "list_by_owner", query, ownerID)
}

// ListStale returns projects in status last updated before the cutoff
func (r *PostgresProjectRepository) ListStale(ctx context.Context, status domain.ProjectStatus, before time.Time) ([]*domain.AuditProject, error) {
	query := `SELECT ` + projectColumns + ` FROM audit_projects WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC`
	return r.list(ctx, "list_stale", query, string(status), before)
}

func (r *PostgresProjectRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*domain.AuditProject, error) {
	var projects []*domain.AuditProject
	err := r.withRetry(ctx, op, func(q queryer) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		projects = []*domain.AuditProject{}
		for rows.Next() {
			project, err := scanProject(rows)
			if err != nil {
				return err
			}
			projects = append(projects, project)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit projects: %w", err)
	}

	return projects, nil
}

// policyUpdateError explains why a policy update matched no row
func (r *PostgresProjectRepository) policyUpdateError(ctx context.Context, id, ownerID string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM audit_projects WHERE id = $1 AND owner_id = $2)`, id, ownerID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to read audit project: %w", err)
	}
	if !exists {
		return domain.ErrProjectNotFound
	}
	return domain.ErrPolicyNotEditable
}

// transitionError explains why a status-guarded update matched no row
func (r *PostgresProjectRepository) transitionError(ctx context.Context, id string) error {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM audit_projects WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrProjectNotFound
		}
		return fmt.Errorf("failed to read audit project status: %w", err)
	}

	status, _ := domain.ParseProjectStatus(raw)
	if status.IsTerminal() {
		return domain.ErrTerminalState
	}
	return domain.ErrInvalidTransition
}

// withRetry runs fn once on the pool and, after a connection-level failure,
// once more on a freshly checked-out and pinged connection
func (r *PostgresProjectRepository) withRetry(ctx context.Context, op string, fn func(q queryer) error) error {
	err := fn(r.db)
	if err == nil || !isConnectionError(err) {
		return err
	}

	r.logger.Warn(ctx, "Database operation failed, retrying on a fresh connection", map[string]interface{}{
		"operation": op,
		"error":     err.Error(),
	})

	conn, connErr := r.db.Conn(ctx)
	if connErr != nil {
		return fmt.Errorf("%w (reconnect failed: %v)", err, connErr)
	}
	defer conn.Close()

	if pingErr := conn.PingContext(ctx); pingErr != nil {
		return fmt.Errorf("%w (reconnect failed: %v)", err, pingErr)
	}

	return fn(conn)
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception; 57P01: admin shutdown
		return pqErr.Code.Class() == "08" || pqErr.Code == "57P01"
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func scanProject(row rowScanner) (*domain.AuditProject, error) {
	var (
		project     domain.AuditProject
		description sql.NullString
		sourceDocID sql.NullString
		status      string
		score       sql.NullInt64
		covered     []string
		missing     []string
		policyJSON  []byte
		trailJSON   []byte
	)

	err := row.Scan(
		&project.ID,
		&project.OwnerID,
		&project.Title,
		&description,
		&project.Framework,
		&sourceDocID,
		&status,
		&score,
		pq.Array(&covered),
		pq.Array(&missing),
		&policyJSON,
		&trailJSON,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, ok := domain.ParseProjectStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown project status %q", status)
	}
	project.Status = parsed

	if description.Valid {
		project.Description = &description.String
	}
	if sourceDocID.Valid {
		project.SourceDocumentID = &sourceDocID.String
	}
	if score.Valid {
		s := int(score.Int64)
		project.ComplianceScore = &s
	}
	project.CoveredControls = nonNilStrings(covered)
	project.MissingControls = nonNilStrings(missing)

	if len(policyJSON) > 0 && string(policyJSON) != "null" {
		var policy domain.GeneratedPolicy
		if err := json.Unmarshal(policyJSON, &policy); err != nil {
			return nil, fmt.Errorf("failed to unmarshal generated policy: %w", err)
		}
		project.GeneratedPolicy = &policy
	}

	project.AuditTrail = []domain.AuditTrailEntry{}
	if len(trailJSON) > 0 {
		if err := json.Unmarshal(trailJSON, &project.AuditTrail); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit trail: %w", err)
		}
	}

	return &project, nil
}

func marshalPolicy(policy *domain.GeneratedPolicy) ([]byte, error) {
	if policy == nil {
		return nil, nil
	}
	data, err := json.Marshal(policy)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generated policy: %w", err)
	}
	return data, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nonNilTrail(in []domain.AuditTrailEntry) []domain.AuditTrailEntry {
	if in == nil {
		return []domain.AuditTrailEntry{}
	}
	return in
}
