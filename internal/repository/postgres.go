package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/VKYCVault/internal/model"
)

// PostgresStore wraps all SQL used by the coordinator, API and worker.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a store over an open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a PENDING request.
func (r *PostgresStore) Create(ctx context.Context, req *model.BulkRequest) (string, error) {
	if err := checkCreate(req); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	if req.RequestedAt.IsZero() {
		req.RequestedAt = now
	}
	req.Status = model.StatusPending
	req.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bulk_requests (id, kind, requested_by, identifiers, status, requested_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, req.ID, req.Kind, req.RequestedBy, req.Identifiers, req.Status, req.RequestedAt, req.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", fmt.Errorf("create request %s: already exists: %w", req.ID, model.ErrConflict)
		}
		return "", fmt.Errorf("insert request: %w", err)
	}
	return req.ID, nil
}

// MarkProcessing uses a conditional update so only one caller wins the
// PENDING -> PROCESSING transition.
func (r *PostgresStore) MarkProcessing(ctx context.Context, requestID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bulk_requests SET status=$1, updated_at=$2
		WHERE id=$3 AND status=$4
	`, model.StatusProcessing, time.Now().UTC(), requestID, model.StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bulk_requests WHERE id=$1)`, requestID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check request: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("request %s: %w", requestID, model.ErrNotFound)
	}
	return false, nil
}

// UpsertItemResult writes one item row. The parent row is read FOR SHARE so
// item writers run in parallel but never interleave with Finalize.
func (r *PostgresStore) UpsertItemResult(ctx context.Context, requestID string, item model.ItemResult) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := lockRequest(ctx, tx, requestID, "FOR SHARE")
	if err != nil {
		return err
	}
	if err := checkItem(req, item); err != nil {
		return err
	}
	var objectName *string
	if item.ObjectName != "" {
		objectName = &item.ObjectName
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO bulk_item_results (request_id, identifier, outcome, object_name, size_bytes, last_modified, error_message, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (request_id, identifier) DO UPDATE
		SET outcome = EXCLUDED.outcome,
			object_name = EXCLUDED.object_name,
			size_bytes = EXCLUDED.size_bytes,
			last_modified = EXCLUDED.last_modified,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
	`, requestID, item.Identifier, item.Outcome, objectName, item.SizeBytes, item.LastModified, item.ErrorMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert item result: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Finalize checks item coverage and writes the terminal fields in one
// transaction.
func (r *PostgresStore) Finalize(ctx context.Context, requestID string, fin Finalization) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := lockRequest(ctx, tx, requestID, "FOR UPDATE")
	if err != nil {
		return err
	}
	var items int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM bulk_item_results WHERE request_id=$1`, requestID).Scan(&items); err != nil {
		return fmt.Errorf("count item results: %w", err)
	}
	if err := checkFinalize(req, fin, items); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE bulk_requests
		SET status=$1,
			completed_at=$2,
			artifact_location=$3,
			failure_reason=$4,
			updated_at=$5
		WHERE id=$6
	`, fin.Status, fin.CompletedAt.UTC(), fin.ArtifactLocation, fin.FailureReason, time.Now().UTC(), requestID)
	if err != nil {
		return fmt.Errorf("finalize request: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}

// Get returns a request and its item rows.
func (r *PostgresStore) Get(ctx context.Context, requestID string) (*model.BulkRequest, []model.ItemResult, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, selectRequest+` WHERE id=$1`, requestID), requestID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT request_id, identifier, outcome, object_name, size_bytes, last_modified, error_message
		FROM bulk_item_results WHERE request_id=$1 ORDER BY identifier
	`, requestID)
	if err != nil {
		return nil, nil, fmt.Errorf("select item results: %w", err)
	}
	defer rows.Close()
	var items []model.ItemResult
	for rows.Next() {
		var (
			item       model.ItemResult
			objectName sql.NullString
		)
		if err := rows.Scan(&item.RequestID, &item.Identifier, &item.Outcome, &objectName, &item.SizeBytes, &item.LastModified, &item.ErrorMessage); err != nil {
			return nil, nil, fmt.Errorf("scan item result: %w", err)
		}
		item.ObjectName = objectName.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate item results: %w", err)
	}
	return req, items, nil
}

const selectRequest = `
	SELECT id, kind, requested_by, identifiers, status, requested_at, updated_at, completed_at, artifact_location, failure_reason
	FROM bulk_requests`

func lockRequest(ctx context.Context, tx pgx.Tx, requestID, lock string) (*model.BulkRequest, error) {
	return scanRequest(tx.QueryRow(ctx, selectRequest+` WHERE id=$1 `+lock, requestID), requestID)
}

func scanRequest(row pgx.Row, requestID string) (*model.BulkRequest, error) {
	var (
		req           model.BulkRequest
		completedAt   sql.NullTime
		artifact      sql.NullString
		failureReason sql.NullString
	)
	err := row.Scan(&req.ID, &req.Kind, &req.RequestedBy, &req.Identifiers, &req.Status,
		&req.RequestedAt, &req.UpdatedAt, &completedAt, &artifact, &failureReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("request %s: %w", requestID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("select request: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		req.CompletedAt = &t
	}
	if artifact.Valid {
		loc := artifact.String
		req.ArtifactLocation = &loc
	}
	if failureReason.Valid {
		msg := failureReason.String
		req.FailureReason = &msg
	}
	return &req, nil
}
