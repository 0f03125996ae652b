// internal/catalog/ledger.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const bookColumns = `id, isbn, title, description, publication_date, total_copies,
	available_copies, author_id, version, created_at, updated_at`

// nextAvailable is the ledger rule: the result must stay within [0, total].
func nextAvailable(available, total, delta int) (int, error) {
	next := available + delta
	if next < 0 || next > total {
		return available, ErrInvalidCopyCount
	}
	return next, nil
}

// AdjustCopies moves a book's available copies by delta in a single
// conditional UPDATE, so concurrent adjustments on one book serialise on its
// row lock and can never leave the count outside [0, total_copies]. Run it on
// a transaction to make the adjustment part of a larger unit of work.
func AdjustCopies(ctx context.Context, q sqlx.ExtContext, bookID uuid.UUID, delta int) (*Book, error) {
	var book Book
	err := sqlx.GetContext(ctx, q, &book, `
		UPDATE books
		SET available_copies = available_copies + $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND available_copies + $2 BETWEEN 0 AND total_copies
		RETURNING `+bookColumns, bookID, delta)
	if err == nil {
		return &book, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("adjust copies of book %s: %w", bookID, err)
	}

	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, bookID); err != nil {
		return nil, fmt.Errorf("check book %s: %w", bookID, err)
	}
	if !exists {
		return nil, ErrBookNotFound
	}
	return nil, ErrInvalidCopyCount
}

// LockBook reads a book and holds its row lock until the transaction ends.
func LockBook(ctx context.Context, tx *sqlx.Tx, bookID uuid.UUID) (*Book, error) {
	var book Book
	err := tx.GetContext(ctx, &book, `SELECT `+bookColumns+` FROM books WHERE id = $1 FOR UPDATE`, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock book %s: %w", bookID, err)
	}
	return &book, nil
}
