package payment

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vattentrygg/payments/internal/tracing"
)

//go:embed schema/postgres.sql
var postgresSchema string

const paymentsTable = "payment_records"

// PostgresStore implements Store on PostgreSQL. Gateway-derived fields live
// in a JSONB snapshot column; the ledger and status are separate columns so
// the conditional merge can be expressed in a single ON CONFLICT statement.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger, now: time.Now}
}

// EnsureSchema creates the payment_records table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply payment schema: %w", err)
	}
	return nil
}

// Upsert inserts or merges a reconciled snapshot. (xmax = 0) is true only
// for a row created by this statement.
func (s *PostgresStore) Upsert(ctx context.Context, snapshot *Record) (inserted bool, err error) {
	if snapshot == nil || snapshot.SessionID == "" {
		return false, errors.New("upsert: session id is required")
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, tracing.DBSystemPostgres, paymentsTable, tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	doc, err := encodeSnapshot(snapshot)
	if err != nil {
		return false, err
	}

	const query = `
		INSERT INTO payment_records (session_id, status, snapshot, refunds, refunded_amount, inserted_at, updated_at)
		VALUES ($1, $2, $3, '[]'::jsonb, 0, $4, $4)
		ON CONFLICT (session_id) DO UPDATE SET
			status = CASE
				WHEN payment_records.status = 'refunded' THEN payment_records.status
				ELSE EXCLUDED.status
			END,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted`

	now := s.now().UTC()
	err = s.db.QueryRowContext(ctx, query, snapshot.SessionID, string(snapshot.Status), string(doc), now).Scan(&inserted)
	if err != nil {
		s.logger.Error("failed to upsert payment record",
			slog.String("error", err.Error()),
			slog.String("session_id", snapshot.SessionID))
		return false, fmt.Errorf("upsert payment %s: %w", snapshot.SessionID, err)
	}
	return inserted, nil
}

// GetBySessionID retrieves a payment record by session ID.
func (s *PostgresStore) GetBySessionID(ctx context.Context, sessionID string) (rec *Record, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tracing.DBSystemPostgres, paymentsTable, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	const query = `
		SELECT status, snapshot, refunds, refunded_amount, inserted_at, updated_at
		FROM payment_records
		WHERE session_id = $1`

	var (
		status      string
		snapshotDoc []byte
		refundsDoc  []byte
		out         Record
	)
	err = s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&status, &snapshotDoc, &refundsDoc, &out.RefundedAmount, &out.InsertedAt, &out.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment %s: %w", sessionID, err)
	}

	refunded, inserted, updated := out.RefundedAmount, out.InsertedAt, out.UpdatedAt
	if err := json.Unmarshal(snapshotDoc, &out); err != nil {
		return nil, fmt.Errorf("decode payment snapshot %s: %w", sessionID, err)
	}
	var refunds []Refund
	if err := json.Unmarshal(refundsDoc, &refunds); err != nil {
		return nil, fmt.Errorf("decode payment refunds %s: %w", sessionID, err)
	}

	out.SessionID = sessionID
	out.Status = Status(status)
	out.Refunds = refunds
	out.RefundedAmount = refunded
	out.InsertedAt = inserted.UTC()
	out.UpdatedAt = updated.UTC()
	if out.LineItems == nil {
		out.LineItems = []LineItem{}
	}
	return &out, nil
}

// AppendRefund appends to the ledger and increments refunded_amount in one
// statement.
func (s *PostgresStore) AppendRefund(ctx context.Context, sessionID string, refund Refund) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tracing.DBSystemPostgres, paymentsTable, tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	entry, err := json.Marshal([]Refund{refund})
	if err != nil {
		return fmt.Errorf("encode refund: %w", err)
	}

	const query = `
		INSERT INTO payment_records (session_id, status, snapshot, refunds, refunded_amount, inserted_at, updated_at)
		VALUES ($1, 'complete', '{}'::jsonb, $2, $3, $4, $4)
		ON CONFLICT (session_id) DO UPDATE SET
			refunds = payment_records.refunds || EXCLUDED.refunds,
			refunded_amount = payment_records.refunded_amount + EXCLUDED.refunded_amount,
			updated_at = EXCLUDED.updated_at`

	if _, err = s.db.ExecContext(ctx, query, sessionID, string(entry), refund.Amount, s.now().UTC()); err != nil {
		return fmt.Errorf("append refund to %s: %w", sessionID, err)
	}
	return nil
}

// SetStatus overwrites the status of an existing record.
func (s *PostgresStore) SetStatus(ctx context.Context, sessionID string, status Status) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tracing.DBSystemPostgres, paymentsTable, tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE payment_records SET status = $2, updated_at = $3 WHERE session_id = $1`,
		sessionID, string(status), s.now().UTC())
	if err != nil {
		return fmt.Errorf("set status on %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set status on %s: %w", sessionID, err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// encodeSnapshot serializes the gateway-derived part of a record.
func encodeSnapshot(r *Record) ([]byte, error) {
	snap := r.Clone()
	snap.Refunds = nil
	snap.RefundedAmount = 0
	snap.InsertedAt = time.Time{}
	snap.UpdatedAt = time.Time{}
	if snap.LineItems == nil {
		snap.LineItems = []LineItem{}
	}
	doc, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode payment snapshot: %w", err)
	}
	return doc, nil
}
