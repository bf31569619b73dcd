package postgres

import (
	"context"
	"time"

	"zkdpp/internal/domain"
	"zkdpp/pkg/errors"

	"github.com/jmoiron/sqlx"
)

// AttemptRepository persists the verification audit trail.
type AttemptRepository struct {
	db *sqlx.DB
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(db *sqlx.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Create inserts one attempt.
func (r *AttemptRepository) Create(ctx context.Context, attempt *domain.VerificationAttempt) error {
	query := `
		INSERT INTO verification_attempts (
			id, request_id, predicate_id, nonce, outcome, error_code,
			duration_ms, supplier_id, requester_id, receipt_id, created_at
		) VALUES (
			:id, :request_id, :predicate_id, :nonce, :outcome, :error_code,
			:duration_ms, :supplier_id, :requester_id, :receipt_id, :created_at
		)
	`

	_, err := r.db.NamedExecContext(ctx, query, attempt)
	if err != nil {
		return errors.Wrap(err, "failed to create verification attempt")
	}

	return nil
}

// FindByNonce returns every attempt that presented the nonce, oldest first.
func (r *AttemptRepository) FindByNonce(ctx context.Context, nonce string) ([]*domain.VerificationAttempt, error) {
	var attempts []*domain.VerificationAttempt
	query := `
		SELECT
			id, request_id, predicate_id, nonce, outcome, error_code,
			duration_ms, supplier_id, requester_id, receipt_id, created_at
		FROM verification_attempts
		WHERE nonce = $1
		ORDER BY created_at ASC
	`
	if err := r.db.SelectContext(ctx, &attempts, query, nonce); err != nil {
		return nil, errors.Wrap(err, "failed to find verification attempts")
	}
	return attempts, nil
}

// ListRecent returns attempts newest first with pagination.
func (r *AttemptRepository) ListRecent(ctx context.Context, limit, offset int) ([]*domain.VerificationAttempt, error) {
	var attempts []*domain.VerificationAttempt
	query := `
		SELECT
			id, request_id, predicate_id, nonce, outcome, error_code,
			duration_ms, supplier_id, requester_id, receipt_id, created_at
		FROM verification_attempts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	if err := r.db.SelectContext(ctx, &attempts, query, limit, offset); err != nil {
		return nil, errors.Wrap(err, "failed to list verification attempts")
	}
	return attempts, nil
}

// CountByOutcome tallies attempts since the given time.
func (r *AttemptRepository) CountByOutcome(ctx context.Context, since time.Time) (map[domain.AttemptOutcome]int64, error) {
	rows := []struct {
		Outcome domain.AttemptOutcome `db:"outcome"`
		Count   int64                 `db:"count"`
	}{}
	query := `
		SELECT outcome, COUNT(*) AS count
		FROM verification_attempts
		WHERE created_at >= $1
		GROUP BY outcome
	`
	if err := r.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, errors.Wrap(err, "failed to count verification attempts")
	}

	out := make(map[domain.AttemptOutcome]int64, len(rows))
	for _, row := range rows {
		out[row.Outcome] = row.Count
	}
	return out, nil
}
