package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/models"
)

// ErrInsufficientCredits is returned by Deduct when the balance row does not
// cover the amount. Nothing is written in that case.
var ErrInsufficientCredits = errors.New("insufficient credits")

var (
	// ErrBalanceNotFound is returned when a mutation targets a user without
	// a balance row.
	ErrBalanceNotFound = errors.New("credit balance not found")
	ErrUserIDTooLong   = fmt.Errorf("user id longer than %d bytes", MaxUserIDLength)
)

// MaxUserIDLength matches the user_id VARCHAR(191) columns.
const MaxUserIDLength = 191

func checkUserID(userID string) error {
	if len(userID) > MaxUserIDLength {
		return ErrUserIDTooLong
	}
	return nil
}

type CreditRepository struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
}

func NewCreditRepository(db *sql.DB, dialect database.Dialect) *CreditRepository {
	return &CreditRepository{db: db, dialect: dialect, now: time.Now}
}

// Get returns nil, nil when the user has no balance row yet.
func (r *CreditRepository) Get(ctx context.Context, userID string) (*models.CreditBalance, error) {
	const query = `
SELECT user_id, credits, created_at, updated_at
FROM credit_balances WHERE user_id = ?`
	var (
		b                models.CreditBalance
		created, updated any
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&b.UserID, &b.Credits, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan credit balance: %w", err)
	}
	if b.CreatedAt, err = scanTime(created); err != nil {
		return nil, fmt.Errorf("scan credit balance created_at: %w", err)
	}
	if b.UpdatedAt, err = scanTime(updated); err != nil {
		return nil, fmt.Errorf("scan credit balance updated_at: %w", err)
	}
	return &b, nil
}

// Ensure creates the balance row with initial credits if it is missing and
// reports whether it did. Concurrent callers never overwrite each other.
func (r *CreditRepository) Ensure(ctx context.Context, userID string, initial int) (bool, error) {
	return r.ensure(ctx, r.db, userID, initial)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *CreditRepository) ensure(ctx context.Context, exec execer, userID string, initial int) (bool, error) {
	if err := checkUserID(userID); err != nil {
		return false, err
	}
	query := `INSERT INTO credit_balances (user_id, credits, created_at, updated_at)
VALUES (?, ?, ?, ?)` + r.dialect.OnConflictDoNothing("user_id")
	now := formatTime(r.now())
	res, err := exec.ExecContext(ctx, query, userID, initial, now, now)
	if err != nil {
		return false, fmt.Errorf("ensure credit balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure rows affected: %w", err)
	}
	return affected > 0, nil
}

// Deduct subtracts amount in a single conditional update and journals it
// under key. It returns the balance after the deduction.
func (r *CreditRepository) Deduct(ctx context.Context, userID string, amount int, key, reference string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("deduct: amount must be positive, got %d", amount)
	}

	var balance int
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		const query = `
UPDATE credit_balances SET credits = credits - ?, updated_at = ?
WHERE user_id = ? AND credits >= ?`
		res, err := tx.ExecContext(ctx, query, amount, formatTime(r.now()), userID, amount)
		if err != nil {
			return fmt.Errorf("deduct credits: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("deduct rows affected: %w", err)
		}
		if affected == 0 {
			return ErrInsufficientCredits
		}

		if _, err := r.journal(ctx, tx, "", userID, models.TransactionDeduct, -amount, key, reference); err != nil {
			return err
		}

		balance, err = r.balanceTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Refund adds amount back once per key. A repeated key is a no-op that
// reports applied == false and the current balance.
func (r *CreditRepository) Refund(ctx context.Context, userID string, amount int, key, reference string) (int, bool, error) {
	if amount <= 0 {
		return 0, false, fmt.Errorf("refund: amount must be positive, got %d", amount)
	}
	return r.credit(ctx, userID, amount, models.TransactionRefund, key, reference, nil)
}

// TopUp creates the balance row with initial credits if needed, then adds
// amount once per key.
func (r *CreditRepository) TopUp(ctx context.Context, userID string, amount, initial int, key, reference string) (int, bool, error) {
	if amount <= 0 {
		return 0, false, fmt.Errorf("top up: amount must be positive, got %d", amount)
	}
	return r.credit(ctx, userID, amount, models.TransactionTopUp, key, reference, &initial)
}

func (r *CreditRepository) credit(ctx context.Context, userID string, amount int, kind models.TransactionKind, key, reference string, initial *int) (int, bool, error) {
	var (
		balance int
		applied bool
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if initial != nil {
			if _, err := r.ensure(ctx, tx, userID, *initial); err != nil {
				return err
			}
		}

		inserted, err := r.journal(ctx, tx, r.dialect.OnConflictDoNothing("idempotency_key"), userID, kind, amount, key, reference)
		if err != nil {
			return err
		}
		if inserted {
			const query = `UPDATE credit_balances SET credits = credits + ?, updated_at = ? WHERE user_id = ?`
			res, err := tx.ExecContext(ctx, query, amount, formatTime(r.now()), userID)
			if err != nil {
				return fmt.Errorf("%s credits: %w", kind, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("%s rows affected: %w", kind, err)
			}
			if affected == 0 {
				return ErrBalanceNotFound
			}
			applied = true
		}

		balance, err = r.balanceTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return balance, applied, nil
}

// journal inserts one row. onConflict is empty when a repeated key must fail.
func (r *CreditRepository) journal(ctx context.Context, tx *sql.Tx, onConflict, userID string, kind models.TransactionKind, amount int, key, reference string) (bool, error) {
	query := `INSERT INTO credit_transactions (user_id, kind, amount, idempotency_key, reference, created_at)
VALUES (?, ?, ?, ?, ?, ?)` + onConflict
	res, err := tx.ExecContext(ctx, query, userID, kind, amount, key, reference, formatTime(r.now()))
	if err != nil {
		return false, fmt.Errorf("insert credit transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("credit transaction rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *CreditRepository) balanceTx(ctx context.Context, tx *sql.Tx, userID string) (int, error) {
	var credits int
	err := tx.QueryRowContext(ctx, `SELECT credits FROM credit_balances WHERE user_id = ?`, userID).Scan(&credits)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrBalanceNotFound
		}
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return credits, nil
}

// Transactions lists journal rows for a user, newest first.
func (r *CreditRepository) Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	const query = `
SELECT id, user_id, kind, amount, idempotency_key, reference, created_at
FROM credit_transactions WHERE user_id = ?
ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	var out []models.CreditTransaction
	for rows.Next() {
		var (
			t       models.CreditTransaction
			created any
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &t.IdempotencyKey, &t.Reference, &created); err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		if t.CreatedAt, err = scanTime(created); err != nil {
			return nil, fmt.Errorf("scan credit transaction created_at: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *CreditRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
