package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/channelaccess/snapshot/internal/domain"
	"github.com/channelaccess/snapshot/internal/ports"
)

// DefaultTable is used when no table is configured.
const DefaultTable = "pvsnap_operations"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PostgresAudit stores one row per finished operation. Rows are keyed by
// operation id so a retried Record is a no-op.
type PostgresAudit struct {
	db        *sql.DB
	tableName string
}

func NewPostgresAudit(db *sql.DB, table string) (*PostgresAudit, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid audit table name %q", table)
	}
	return &PostgresAudit{db: db, tableName: table}, nil
}

func (p *PostgresAudit) Name() string { return "postgres" }

// EnsureSchema creates the audit table if it does not exist yet.
func (p *PostgresAudit) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+p.tableName+` (
	op_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	path TEXT NOT NULL,
	forced BOOLEAN NOT NULL,
	started TIMESTAMPTZ NOT NULL,
	finished TIMESTAMPTZ NOT NULL,
	pv_count INTEGER NOT NULL,
	failed_count INTEGER NOT NULL,
	error TEXT NOT NULL,
	statuses JSONB NOT NULL
)`)
	return err
}

type statusRow struct {
	Name    string          `json:"name"`
	Status  domain.PVStatus `json:"status"`
	Message string          `json:"message,omitempty"`
}

func (p *PostgresAudit) Record(ctx context.Context, r *domain.Report) error {
	if r == nil {
		return nil
	}

	rows := make([]statusRow, len(r.Results))
	for i, res := range r.Results {
		rows[i] = statusRow{Name: res.Name, Status: res.Status, Message: res.Message}
	}
	statuses, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal statuses: %w", err)
	}

	query := "INSERT INTO " + p.tableName +
		" (op_id, kind, path, forced, started, finished, pv_count, failed_count, error, statuses)" +
		" VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) ON CONFLICT (op_id) DO NOTHING"

	_, err = p.db.ExecContext(ctx, query,
		r.ID,
		string(r.Kind),
		r.Path,
		r.Force,
		r.Started,
		r.Finished,
		len(r.Results),
		len(r.Failures()),
		r.Err,
		statuses,
	)
	if err != nil {
		return fmt.Errorf("audit insert %s: %w", r.ID, err)
	}
	return nil
}

var _ ports.AuditSink = (*PostgresAudit)(nil)
