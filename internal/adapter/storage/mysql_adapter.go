package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/stock-reserve/internal/core/domain"
	"github.com/rl1809/stock-reserve/internal/port"
)

// mysqlErrLockWaitTimeout is ER_LOCK_WAIT_TIMEOUT.
const mysqlErrLockWaitTimeout = 1205

// SQLTxn adapts *sql.Tx to the engine's transaction handle.
type SQLTxn struct {
	Tx *sql.Tx
}

func NewSQLTxn(tx *sql.Tx) *SQLTxn { return &SQLTxn{Tx: tx} }

func (t *SQLTxn) Commit() error   { return t.Tx.Commit() }
func (t *SQLTxn) Rollback() error { return t.Tx.Rollback() }

// SQLTxnSource opens row-lock transactions for background work.
type SQLTxnSource struct {
	DB *sql.DB
}

func (s *SQLTxnSource) Begin(ctx context.Context) (port.TransactionHandle, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &SQLTxn{Tx: tx}, nil
}

// MySQLAdapter serializes concurrent writers with the database's native row
// locks: AcquireLock issues SELECT ... FOR UPDATE inside the caller's
// transaction and the lock is held until the host commits or rolls back.
type MySQLAdapter struct {
	lockTimeout time.Duration
}

func NewMySQLAdapter(lockTimeout time.Duration) *MySQLAdapter {
	return &MySQLAdapter{lockTimeout: lockTimeout}
}

func (m *MySQLAdapter) tx(txn port.TransactionHandle) (*sql.Tx, error) {
	h, ok := txn.(*SQLTxn)
	if !ok || h.Tx == nil {
		return nil, fmt.Errorf("row-lock adapter requires a *storage.SQLTxn handle, got %T", txn)
	}
	return h.Tx, nil
}

func (m *MySQLAdapter) AcquireLock(ctx context.Context, txn port.TransactionHandle, key string) (*domain.InventoryItem, port.LockToken, error) {
	tx, err := m.tx(txn)
	if err != nil {
		return nil, port.LockToken{}, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()

	var item domain.InventoryItem
	err = tx.QueryRowContext(lockCtx, `
		SELECT item_key, current_stock, reserved_stock, version
		FROM inventory_items
		WHERE item_key = ?
		FOR UPDATE`, key,
	).Scan(&item.Key, &item.CurrentStock, &item.ReservedStock, &item.Version)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, port.LockToken{}, domain.ErrItemNotFound
	case isLockWaitTimeout(err) || errors.Is(err, context.DeadlineExceeded):
		return nil, port.LockToken{}, fmt.Errorf("lock %s: %w", key, domain.ErrLockTimeout)
	case err != nil:
		return nil, port.LockToken{}, fmt.Errorf("lock %s: %w", key, err)
	}

	// The row lock itself is the token.
	return &item, port.LockToken{}, nil
}

func isLockWaitTimeout(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrLockWaitTimeout
}

// UpdateQuantity applies delta with a guard at the SQL level, a second line
// of defense even though the row is already locked.
func (m *MySQLAdapter) UpdateQuantity(ctx context.Context, txn port.TransactionHandle, key string, _ port.LockToken, delta int) error {
	tx, err := m.tx(txn)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET current_stock = current_stock + ?, version = version + 1, updated_at = NOW()
		WHERE item_key = ? AND current_stock + ? >= 0`,
		delta, key, delta,
	)
	if err != nil {
		return fmt.Errorf("update quantity %s: %w", key, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrInsufficientStock
	}
	return nil
}

func (m *MySQLAdapter) AdjustReserved(ctx context.Context, txn port.TransactionHandle, key string, delta int) error {
	tx, err := m.tx(txn)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET reserved_stock = reserved_stock + ?, updated_at = NOW()
		WHERE item_key = ? AND reserved_stock + ? >= 0`,
		delta, key, delta,
	)
	if err != nil {
		return fmt.Errorf("adjust reserved %s: %w", key, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("adjust reserved %s: %w", key, domain.ErrItemNotFound)
	}
	return nil
}

func (m *MySQLAdapter) InsertReservation(ctx context.Context, txn port.TransactionHandle, res *domain.Reservation) error {
	tx, err := m.tx(txn)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (id, inventory_key, quantity, user_id, session_id, state, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.InventoryKey, res.Quantity, res.UserID, res.SessionID,
		res.State, res.CreatedAt, res.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation %s: %w", res.ID, err)
	}
	return nil
}

func (m *MySQLAdapter) GetReservation(ctx context.Context, txn port.TransactionHandle, id string) (*domain.Reservation, error) {
	tx, err := m.tx(txn)
	if err != nil {
		return nil, err
	}
	return scanReservation(tx.QueryRowContext(ctx, `
		SELECT id, inventory_key, quantity, user_id, session_id, state, created_at, expires_at
		FROM reservations
		WHERE id = ?`, id))
}

func scanReservation(row *sql.Row) (*domain.Reservation, error) {
	var res domain.Reservation
	err := row.Scan(&res.ID, &res.InventoryKey, &res.Quantity, &res.UserID,
		&res.SessionID, &res.State, &res.CreatedAt, &res.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan reservation: %w", err)
	}
	return &res, nil
}

func (m *MySQLAdapter) TransitionReservation(ctx context.Context, txn port.TransactionHandle, id string, from, to domain.ReservationState) (*domain.Reservation, error) {
	tx, err := m.tx(txn)
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE reservations SET state = ? WHERE id = ? AND state = ?`,
		to, id, from,
	)
	if err != nil {
		return nil, fmt.Errorf("transition reservation %s: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish a missing reservation from one that already moved on.
		if _, err := m.GetReservation(ctx, txn, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrInvalidTransition
	}

	return m.GetReservation(ctx, txn, id)
}

// ListExpiredReservations locks the page it returns so the sweep's paired
// writes cannot race other reapers; SKIP LOCKED keeps it from queueing
// behind live purchase traffic.
func (m *MySQLAdapter) ListExpiredReservations(ctx context.Context, txn port.TransactionHandle, cutoff time.Time, limit int) ([]*domain.Reservation, error) {
	tx, err := m.tx(txn)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, inventory_key, quantity, user_id, session_id, state, created_at, expires_at
		FROM reservations
		WHERE state = ? AND expires_at < ?
		ORDER BY expires_at
		LIMIT ?
		FOR UPDATE SKIP LOCKED`,
		domain.ReservationActive, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	var expired []*domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.ID, &res.InventoryKey, &res.Quantity, &res.UserID,
			&res.SessionID, &res.State, &res.CreatedAt, &res.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan expired reservation: %w", err)
		}
		expired = append(expired, &res)
	}
	return expired, rows.Err()
}
