package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chainspan/chainspan-backend/internal/bridge"
	"go.uber.org/zap"
)

// Repository persists attestation run history in Postgres. It implements
// bridge.RunRecorder.
type Repository struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func NewRepository(db *sql.DB, logger *zap.SugaredLogger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateRun inserts the initial record for a run.
func (r *Repository) CreateRun(ctx context.Context, rec *bridge.RunRecord) error {
	query := `
		INSERT INTO attestation_runs
			(id, kind, source_chain, source_address, destination_chain, network, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Kind,
		rec.SourceChain,
		rec.SourceAddress,
		rec.DestinationChain,
		rec.Network,
		rec.State,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}

	return nil
}

// UpdateState records an intermediate state transition.
func (r *Repository) UpdateState(ctx context.Context, id string, state bridge.State, errorKind string) error {
	query := `
		UPDATE attestation_runs
		SET state = $2, error_kind = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, state, errorKind)
	if err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}

	return nil
}

// FinishRun records a terminal run state with all accumulated progress.
func (r *Repository) FinishRun(ctx context.Context, rec *bridge.RunRecord) error {
	query := `
		UPDATE attestation_runs
		SET state = $2,
			attestation_tx_id = NULLIF($3, ''),
			message_id = NULLIF($4, ''),
			wrapped_address = NULLIF($5, ''),
			error_kind = NULLIF($6, ''),
			updated_at = $7
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.State,
		rec.AttestationTxID,
		rec.MessageID,
		rec.WrappedAddress,
		rec.ErrorKind,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run record: %w", err)
	}

	return nil
}

// GetRun returns one run by id.
func (r *Repository) GetRun(ctx context.Context, id string) (*bridge.RunRecord, error) {
	query := `
		SELECT id, kind, source_chain, source_address, destination_chain, network, state,
			COALESCE(attestation_tx_id, ''), COALESCE(message_id, ''), COALESCE(wrapped_address, ''),
			COALESCE(error_kind, ''), created_at, updated_at
		FROM attestation_runs
		WHERE id = $1
	`

	var rec bridge.RunRecord
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.Kind,
		&rec.SourceChain,
		&rec.SourceAddress,
		&rec.DestinationChain,
		&rec.Network,
		&rec.State,
		&rec.AttestationTxID,
		&rec.MessageID,
		&rec.WrappedAddress,
		&rec.ErrorKind,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &rec, nil
}

// ListRuns returns recent runs, newest first. When pairKey filters are
// set, only matching runs come back.
func (r *Repository) ListRuns(ctx context.Context, sourceAddress string, limit int) ([]bridge.RunRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, kind, source_chain, source_address, destination_chain, network, state,
			COALESCE(attestation_tx_id, ''), COALESCE(message_id, ''), COALESCE(wrapped_address, ''),
			COALESCE(error_kind, ''), created_at, updated_at
		FROM attestation_runs
		WHERE ($1 = '' OR source_address = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, sourceAddress, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []bridge.RunRecord
	for rows.Next() {
		var rec bridge.RunRecord
		err := rows.Scan(
			&rec.ID,
			&rec.Kind,
			&rec.SourceChain,
			&rec.SourceAddress,
			&rec.DestinationChain,
			&rec.Network,
			&rec.State,
			&rec.AttestationTxID,
			&rec.MessageID,
			&rec.WrappedAddress,
			&rec.ErrorKind,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return runs, nil
}

// FailStaleRuns marks non-terminal runs whose last update is older than
// cutoff as failed. Runs land here when the process died mid-run; the
// retained message id still allows a later resume.
func (r *Repository) FailStaleRuns(ctx context.Context, olderThan time.Duration, errorKind string) (int64, error) {
	query := `
		UPDATE attestation_runs
		SET state = $1, error_kind = $2, updated_at = NOW()
		WHERE state NOT IN ($3, $4)
			AND updated_at < NOW() - $5::interval
	`

	res, err := r.db.ExecContext(ctx, query,
		bridge.StateFailed,
		errorKind,
		bridge.StateDone,
		bridge.StateFailed,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale runs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count failed stale runs: %w", err)
	}
	return n, nil
}

// Health check
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
