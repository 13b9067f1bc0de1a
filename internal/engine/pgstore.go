package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/licensahq/stageact/model"
)

// pgQuerier is the query surface shared by *pgxpool.Pool and pgx.Tx, so
// one set of methods serves both root and transactional handles.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore is a PostgreSQL-backed Store using pgx/v5. The root handle
// queries through the pool; InTransaction hands callbacks a handle bound
// to a pgx.Tx. Failure bookkeeping written through the root handle during
// a transaction uses its own pool connection and is not rolled back with
// the transaction.
type PgStore struct {
	pool *pgxpool.Pool
	q    pgQuerier
}

// NewPgStore creates a PostgreSQL store on the given pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, q: pool}
}

func (s *PgStore) GetEntity(ctx context.Context, uuid string) (model.Entity, error) {
	var entity model.Entity
	var dataJSON []byte

	err := s.q.QueryRow(ctx, `
		SELECT uuid, kind, template_name, current_stage, data, version,
		       created_at, updated_at
		FROM entities
		WHERE uuid = $1`,
		uuid,
	).Scan(
		&entity.UUID, &entity.Kind, &entity.TemplateName, &entity.CurrentStage,
		&dataJSON, &entity.Version, &entity.CreatedAt, &entity.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Entity{}, model.NewNotFoundError(fmt.Sprintf("entity %q not found", uuid))
	}
	if err != nil {
		return model.Entity{}, fmt.Errorf("query entity: %w", err)
	}

	if dataJSON != nil {
		if err := json.Unmarshal(dataJSON, &entity.Data); err != nil {
			return model.Entity{}, fmt.Errorf("unmarshal entity data: %w", err)
		}
	}
	return entity, nil
}

func (s *PgStore) UpdateEntityStage(ctx context.Context, entity model.Entity) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE entities SET
			current_stage = $1,
			version = $2,
			updated_at = $3
		WHERE uuid = $4 AND version = $5`,
		entity.CurrentStage, entity.Version+1, time.Now().UTC(),
		entity.UUID, entity.Version,
	)
	if err != nil {
		return fmt.Errorf("update entity stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("entity %q version conflict (expected %d)", entity.UUID, entity.Version),
		)
	}
	return nil
}

func (s *PgStore) InsertAuditRecord(ctx context.Context, rec model.AuditRecord) error {
	configJSON, err := json.Marshal(rec.ActionConfig)
	if err != nil {
		return fmt.Errorf("marshal action config: %w", err)
	}
	dataJSON, err := json.Marshal(rec.ActionData)
	if err != nil {
		return fmt.Errorf("marshal action data: %w", err)
	}
	resultJSON, err := json.Marshal(rec.ActionResult)
	if err != nil {
		return fmt.Errorf("marshal action result: %w", err)
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO audit_records (
			id, application_uuid, action_type, action_config, action_data,
			action_result, execution_time_ms, triggered_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.ApplicationUUID, rec.ActionType, configJSON, dataJSON,
		resultJSON, rec.ExecutionTimeMs, rec.TriggeredBy, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *PgStore) GetAuditRecord(ctx context.Context, id string) (model.AuditRecord, error) {
	rec, err := s.scanAuditRecord(s.q.QueryRow(ctx, auditSelect+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return model.AuditRecord{}, model.NewNotFoundError(fmt.Sprintf("audit record %q not found", id))
	}
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("query audit record: %w", err)
	}
	return rec, nil
}

func (s *PgStore) ListAuditRecords(ctx context.Context, filters model.AuditFilters) ([]model.AuditRecord, int64, error) {
	where := " WHERE 1=1"
	var args []any
	argIdx := 1

	if !filters.WithDeleted {
		where += " AND deleted_at IS NULL"
	}
	if filters.ActionType != "" {
		where += fmt.Sprintf(" AND action_type = $%d", argIdx)
		args = append(args, filters.ActionType)
		argIdx++
	}
	if filters.ApplicationUUID != "" {
		where += fmt.Sprintf(" AND application_uuid = $%d", argIdx)
		args = append(args, filters.ApplicationUUID)
		argIdx++
	}

	var total int64
	if err := s.q.QueryRow(ctx, "SELECT COUNT(*) FROM audit_records"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit records: %w", err)
	}

	// Column names come from a whitelist, never from the caller.
	sortBy := "created_at"
	switch filters.SortBy {
	case "action_type", "execution_time_ms":
		sortBy = filters.SortBy
	}
	order := "DESC"
	if filters.SortOrder == "asc" {
		order = "ASC"
	}

	query := auditSelect + where +
		fmt.Sprintf(" ORDER BY %s %s LIMIT $%d OFFSET $%d", sortBy, order, argIdx, argIdx+1)
	args = append(args, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []model.AuditRecord
	for rows.Next() {
		rec, err := s.scanAuditRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

func (s *PgStore) SoftDeleteAuditRecord(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE audit_records SET deleted_at = $1
		WHERE id = $2 AND deleted_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("soft-delete audit record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("audit record %q not found", id))
	}
	return nil
}

func (s *PgStore) AuditStats(ctx context.Context, trailingDays int) (model.AuditStats, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -trailingDays)
	stats := model.AuditStats{
		ByType:       make(map[string]int64),
		TrailingDays: trailingDays,
	}

	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(execution_time_ms), 0)
		FROM audit_records
		WHERE deleted_at IS NULL AND created_at >= $1`,
		cutoff,
	).Scan(&stats.Total, &stats.AvgExecutionMs)
	if err != nil {
		return model.AuditStats{}, fmt.Errorf("aggregate audit records: %w", err)
	}

	rows, err := s.q.Query(ctx, `
		SELECT action_type, COUNT(*)
		FROM audit_records
		WHERE deleted_at IS NULL AND created_at >= $1
		GROUP BY action_type`,
		cutoff,
	)
	if err != nil {
		return model.AuditStats{}, fmt.Errorf("aggregate audit records by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var actionType string
		var count int64
		if err := rows.Scan(&actionType, &count); err != nil {
			return model.AuditStats{}, fmt.Errorf("scan audit type count: %w", err)
		}
		stats.ByType[actionType] = count
	}
	if err := rows.Err(); err != nil {
		return model.AuditStats{}, err
	}

	dayRows, err := s.q.Query(ctx, `
		SELECT to_char(created_at, 'YYYY-MM-DD') AS day, COUNT(*)
		FROM audit_records
		WHERE deleted_at IS NULL AND created_at >= $1
		GROUP BY day
		ORDER BY day ASC`,
		cutoff,
	)
	if err != nil {
		return model.AuditStats{}, fmt.Errorf("aggregate audit records by day: %w", err)
	}
	defer dayRows.Close()
	for dayRows.Next() {
		var dc model.DailyCount
		if err := dayRows.Scan(&dc.Day, &dc.Count); err != nil {
			return model.AuditStats{}, fmt.Errorf("scan audit day count: %w", err)
		}
		stats.Daily = append(stats.Daily, dc)
	}
	return stats, dayRows.Err()
}

func (s *PgStore) PurgeAuditRecords(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM audit_records WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge audit records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) InsertFailedAction(ctx context.Context, fa model.FailedAction) error {
	configJSON, err := json.Marshal(fa.ActionConfig)
	if err != nil {
		return fmt.Errorf("marshal action config: %w", err)
	}
	dataJSON, err := json.Marshal(fa.ActionData)
	if err != nil {
		return fmt.Errorf("marshal action data: %w", err)
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO failed_actions (
			id, application_uuid, action_type, action_config, action_data,
			error_message, error_trace, status, retry_count,
			last_retry_at, resolved_at, created_by, updated_by,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15
		)`,
		fa.ID, fa.ApplicationUUID, fa.ActionType, configJSON, dataJSON,
		fa.ErrorMessage, fa.ErrorTrace, fa.Status, fa.RetryCount,
		fa.LastRetryAt, fa.ResolvedAt, fa.CreatedBy, fa.UpdatedBy,
		fa.CreatedAt, fa.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert failed action: %w", err)
	}
	return nil
}

func (s *PgStore) GetFailedAction(ctx context.Context, id string) (model.FailedAction, error) {
	fa, err := s.scanFailedAction(s.q.QueryRow(ctx, failedSelect+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return model.FailedAction{}, model.NewNotFoundError(fmt.Sprintf("failed action %q not found", id))
	}
	if err != nil {
		return model.FailedAction{}, fmt.Errorf("query failed action: %w", err)
	}
	return fa, nil
}

func (s *PgStore) ListFailedActions(ctx context.Context, filters model.FailureFilters) ([]model.FailedAction, int64, error) {
	where := " WHERE 1=1"
	var args []any
	argIdx := 1

	if filters.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}
	if filters.ActionType != "" {
		where += fmt.Sprintf(" AND action_type = $%d", argIdx)
		args = append(args, filters.ActionType)
		argIdx++
	}
	if filters.ApplicationUUID != "" {
		where += fmt.Sprintf(" AND application_uuid = $%d", argIdx)
		args = append(args, filters.ApplicationUUID)
		argIdx++
	}

	var total int64
	if err := s.q.QueryRow(ctx, "SELECT COUNT(*) FROM failed_actions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count failed actions: %w", err)
	}

	query := failedSelect + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query failed actions: %w", err)
	}
	defer rows.Close()

	var failures []model.FailedAction
	for rows.Next() {
		fa, err := s.scanFailedAction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan failed action: %w", err)
		}
		failures = append(failures, fa)
	}
	return failures, total, rows.Err()
}

func (s *PgStore) UpdateFailedAction(ctx context.Context, fa model.FailedAction, expectedRetryCount int) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE failed_actions SET
			error_message = $1,
			error_trace = $2,
			status = $3,
			retry_count = $4,
			last_retry_at = $5,
			resolved_at = $6,
			updated_by = $7,
			updated_at = $8
		WHERE id = $9 AND retry_count = $10`,
		fa.ErrorMessage, fa.ErrorTrace, fa.Status, fa.RetryCount,
		fa.LastRetryAt, fa.ResolvedAt, fa.UpdatedBy, fa.UpdatedAt,
		fa.ID, expectedRetryCount,
	)
	if err != nil {
		return fmt.Errorf("update failed action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("failed action %q was retried concurrently", fa.ID),
		)
	}
	return nil
}

func (s *PgStore) DeleteFailedAction(ctx context.Context, id string) error {
	var status string
	err := s.q.QueryRow(ctx, `SELECT status FROM failed_actions WHERE id = $1`, id).Scan(&status)
	if err == pgx.ErrNoRows {
		return model.NewNotFoundError(fmt.Sprintf("failed action %q not found", id))
	}
	if err != nil {
		return fmt.Errorf("query failed action status: %w", err)
	}
	if status != model.FailedActionStatusResolved {
		return model.NewConflictError(fmt.Sprintf("failed action %q is not resolved", id))
	}

	tag, err := s.q.Exec(ctx, `
		DELETE FROM failed_actions WHERE id = $1 AND status = $2`,
		id, model.FailedActionStatusResolved,
	)
	if err != nil {
		return fmt.Errorf("delete failed action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(fmt.Sprintf("failed action %q is not resolved", id))
	}
	return nil
}

func (s *PgStore) ListUnresolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.FailedAction, error) {
	rows, err := s.q.Query(ctx, failedSelect+`
		WHERE status IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at ASC
		LIMIT $4`,
		model.FailedActionStatusFailed, model.FailedActionStatusRetrying, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query unresolved failed actions: %w", err)
	}
	defer rows.Close()

	var pending []model.FailedAction
	for rows.Next() {
		fa, err := s.scanFailedAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed action: %w", err)
		}
		pending = append(pending, fa)
	}
	return pending, rows.Err()
}

func (s *PgStore) PurgeResolvedFailedActions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM failed_actions
		WHERE status = $1 AND resolved_at IS NOT NULL AND resolved_at < $2`,
		model.FailedActionStatusResolved, before,
	)
	if err != nil {
		return 0, fmt.Errorf("purge resolved failed actions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) FailureStats(ctx context.Context) (model.FailureStats, error) {
	stats := model.FailureStats{ByStatus: make(map[string]int64)}

	rows, err := s.q.Query(ctx, `
		SELECT status, COUNT(*) FROM failed_actions GROUP BY status`)
	if err != nil {
		return model.FailureStats{}, fmt.Errorf("aggregate failed actions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return model.FailureStats{}, fmt.Errorf("scan failure count: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

// InTransaction begins a transaction and runs fn against a handle bound
// to it. A transactional handle joins the open transaction rather than
// nesting a new one.
func (s *PgStore) InTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if _, inTx := s.q.(pgx.Tx); inTx {
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.NewStoreUnavailableError(fmt.Sprintf("begin transaction: %v", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &PgStore{pool: s.pool, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.NewStoreUnavailableError(fmt.Sprintf("commit transaction: %v", err))
	}
	return nil
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// HealthCheck implements observability.HealthChecker.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.Ping(ctx)
}

const auditSelect = `
	SELECT id, application_uuid, action_type, action_config, action_data,
	       action_result, execution_time_ms, triggered_by, created_at, deleted_at
	FROM audit_records`

const failedSelect = `
	SELECT id, application_uuid, action_type, action_config, action_data,
	       error_message, error_trace, status, retry_count,
	       last_retry_at, resolved_at, created_by, updated_by,
	       created_at, updated_at
	FROM failed_actions`

func (s *PgStore) scanAuditRecord(row pgx.Row) (model.AuditRecord, error) {
	var rec model.AuditRecord
	var configJSON, dataJSON, resultJSON []byte
	err := row.Scan(
		&rec.ID, &rec.ApplicationUUID, &rec.ActionType, &configJSON, &dataJSON,
		&resultJSON, &rec.ExecutionTimeMs, &rec.TriggeredBy, &rec.CreatedAt, &rec.DeletedAt,
	)
	if err != nil {
		return model.AuditRecord{}, err
	}
	if configJSON != nil {
		_ = json.Unmarshal(configJSON, &rec.ActionConfig)
	}
	if dataJSON != nil {
		_ = json.Unmarshal(dataJSON, &rec.ActionData)
	}
	if resultJSON != nil {
		_ = json.Unmarshal(resultJSON, &rec.ActionResult)
	}
	return rec, nil
}

func (s *PgStore) scanFailedAction(row pgx.Row) (model.FailedAction, error) {
	var fa model.FailedAction
	var configJSON, dataJSON []byte
	err := row.Scan(
		&fa.ID, &fa.ApplicationUUID, &fa.ActionType, &configJSON, &dataJSON,
		&fa.ErrorMessage, &fa.ErrorTrace, &fa.Status, &fa.RetryCount,
		&fa.LastRetryAt, &fa.ResolvedAt, &fa.CreatedBy, &fa.UpdatedBy,
		&fa.CreatedAt, &fa.UpdatedAt,
	)
	if err != nil {
		return model.FailedAction{}, err
	}
	if configJSON != nil {
		_ = json.Unmarshal(configJSON, &fa.ActionConfig)
	}
	if dataJSON != nil {
		_ = json.Unmarshal(dataJSON, &fa.ActionData)
	}
	return fa, nil
}
