package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/approval-gateway/internal/audit"
)

// auditColumns — порядок колонок в approval_audit_log, он же порядок аргументов в WriteBatch.
var auditColumns = []string{
	"id", "trace_id", "ts", "actor", "action",
	"resource_type", "resource_name", "namespace", "approval_id",
	"status", "message", "delivery_error",
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS approval_audit_log (
	id             UUID PRIMARY KEY,
	trace_id       TEXT NOT NULL DEFAULT '',
	ts             TIMESTAMPTZ NOT NULL,
	actor          TEXT NOT NULL,
	action         TEXT NOT NULL,
	resource_type  TEXT NOT NULL DEFAULT '',
	resource_name  TEXT NOT NULL DEFAULT '',
	namespace      TEXT NOT NULL DEFAULT '',
	approval_id    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	message        TEXT NOT NULL DEFAULT '',
	delivery_error TEXT NOT NULL DEFAULT ''
)`

// AuditRepo пишет журнал аудита в Postgres. Только INSERT: строки не обновляются и не удаляются.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Open открывает пул соединений через pgx и проверяет доступность базы.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// EnsureSchema создаёт таблицу журнала, если её ещё нет.
func (r *AuditRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// Append пишет одну запись, чтобы репозиторий можно было использовать как audit.Sink напрямую.
func (r *AuditRepo) Append(ctx context.Context, e audit.Entry) error {
	return r.WriteBatch(ctx, []audit.Entry{e})
}

// WriteBatch вставляет пачку записей одним multi-row INSERT.
func (r *AuditRepo) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	numFields := len(auditColumns)
	rows := make([]string, 0, len(entries))
	vals := make([]any, 0, len(entries)*numFields)

	for i, e := range entries {
		p := i * numFields
		ph := make([]string, numFields)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", p+j+1)
		}
		rows = append(rows, "("+strings.Join(ph, ", ")+")")

		vals = append(vals,
			e.ID, e.TraceID, e.Timestamp.UTC(), e.Actor, e.Action,
			e.ResourceType, e.ResourceName, e.Namespace, e.ApprovalID,
			string(e.Status), e.Message, e.DeliveryError,
		)
	}

	query := fmt.Sprintf("INSERT INTO approval_audit_log (%s) VALUES %s",
		strings.Join(auditColumns, ", "),
		strings.Join(rows, ", "),
	)

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: insert audit batch (%d entries): %w", len(entries), err)
	}
	return nil
}
