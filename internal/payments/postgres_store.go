package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
//
// The payment_references table is the idempotency index: its primary key is
// the uniqueness constraint spec'd for references, and a 23505 on insert is
// the authoritative duplicate signal. No SELECT-then-INSERT anywhere.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the payment tables if they don't exist. The users table
// must already exist: the record follows its account out via the cascade.
// payment_references deliberately carries no FK, so spent references stay
// spent even after the account is gone.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payment_records (
			user_id           VARCHAR(64) PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			amount_expected   BIGINT NOT NULL,
			automatic_status  VARCHAR(16) NOT NULL DEFAULT 'unpaid',
			override_status   VARCHAR(16) NOT NULL DEFAULT 'none',
			reference         TEXT,
			pending_reference TEXT,
			paid_at           TIMESTAMPTZ,
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS payment_references (
			reference  TEXT PRIMARY KEY,
			user_id    VARCHAR(64) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// Create inserts a new unpaid record, rejecting duplicates per user.
func (p *PostgresStore) Create(ctx context.Context, rec *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_records (
			user_id, amount_expected, automatic_status, override_status,
			reference, pending_reference, paid_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.UserID, rec.AmountExpected, string(rec.AutomaticStatus), string(rec.OverrideStatus),
		nullString(rec.Reference), nullString(rec.PendingReference),
		nullTimeOrValue(rec.PaidAt), rec.CreatedAt, rec.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrRecordExists
	}
	if err != nil {
		return fmt.Errorf("insert payment record: %w", err)
	}
	return nil
}

// Get retrieves the record for a user.
func (p *PostgresStore) Get(ctx context.Context, userID string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT user_id, amount_expected, automatic_status, override_status,
			reference, pending_reference, paid_at, created_at, updated_at
		FROM payment_records WHERE user_id = $1
	`, userID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment record: %w", err)
	}
	return rec, nil
}

// SetOverride writes the override layer. Single-field, unconditional.
func (p *PostgresStore) SetOverride(ctx context.Context, userID string, status OverrideStatus) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payment_records SET override_status = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, string(status))
	if err != nil {
		return fmt.Errorf("set override: %w", err)
	}
	return requireRow(result)
}

// SetPendingReference records the latest initialized transaction.
func (p *PostgresStore) SetPendingReference(ctx context.Context, userID, reference string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payment_records SET pending_reference = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, reference)
	if err != nil {
		return fmt.Errorf("set pending reference: %w", err)
	}
	return requireRow(result)
}

// Delete removes a user's payment record.
func (p *PostgresStore) Delete(ctx context.Context, userID string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM payment_records WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete payment record: %w", err)
	}
	return requireRow(result)
}

// Reconcile executes the full gateway-success transition in one transaction.
// Concurrent calls for the same user serialize on the row lock; concurrent
// calls with the same reference serialize on the index insert.
func (p *PostgresStore) Reconcile(ctx context.Context, userID, reference string, amount int64, paidAt time.Time) (Result, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Step 1: atomic check-and-insert. The primary key does the checking.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_references (reference, user_id, created_at)
		VALUES ($1, $2, $3)
	`, reference, userID, paidAt)
	if isUniqueViolation(err) {
		return Duplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("claim reference: %w", err)
	}

	// Step 2: load the record under the row lock.
	row := tx.QueryRowContext(ctx, `
		SELECT user_id, amount_expected, automatic_status, override_status,
			reference, pending_reference, paid_at, created_at, updated_at
		FROM payment_records WHERE user_id = $1
		FOR UPDATE
	`, userID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Rolls back the claim too: an unknown user must not burn a
		// reference that may become valid after registration completes.
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load record: %w", err)
	}

	result := resolve(rec, amount)
	if result == Transitioned {
		_, err = tx.ExecContext(ctx, `
			UPDATE payment_records
			SET automatic_status = $2, reference = $3, pending_reference = NULL,
				paid_at = $4, updated_at = $4
			WHERE user_id = $1
		`, userID, string(AutomaticPaid), reference, paidAt)
		if err != nil {
			return "", fmt.Errorf("apply transition: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*Record, error) {
	var rec Record
	var automatic, override string
	var reference, pending sql.NullString
	var paidAt, createdAt, updatedAt sql.NullTime

	err := row.Scan(
		&rec.UserID, &rec.AmountExpected, &automatic, &override,
		&reference, &pending, &paidAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.AutomaticStatus = AutomaticStatus(automatic)
	rec.OverrideStatus = OverrideStatus(override)
	rec.Reference = reference.String
	rec.PendingReference = pending.String
	if paidAt.Valid {
		rec.PaidAt = paidAt.Time
	}
	if createdAt.Valid {
		rec.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		rec.UpdatedAt = updatedAt.Time
	}
	return &rec, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// requireRow maps a zero-row update to ErrUserNotFound.
func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// nullString returns a sql.NullString: valid if s is non-empty.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTimeOrValue returns a sql.NullTime: valid if t is non-zero, null otherwise.
func nullTimeOrValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
