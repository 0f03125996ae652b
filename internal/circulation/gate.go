// internal/circulation/gate.go
package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libraryhub/internal/membership"
)

// admit decides whether a member in the given state may take one more loan.
func admit(status membership.Status, active, max int) error {
	if status != membership.StatusActive {
		return ErrMemberNotActive
	}
	if active >= max {
		return ErrLoanLimitExceeded
	}
	return nil
}

// gateRow is what the gate needs to know about a member.
type gateRow struct {
	Status      membership.Status `db:"status"`
	ActiveLoans int               `db:"active_loans"`
}

// checkMember runs the Member Gate inside tx. With lock set the member row
// stays locked until tx ends, so loan creations for one member queue behind
// each other and each one counts the loans its predecessors inserted.
func checkMember(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID, max int, lock bool) (gateRow, error) {
	query := `SELECT status FROM members WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var row gateRow
	err := tx.GetContext(ctx, &row.Status, query, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return row, membership.ErrMemberNotFound
	}
	if err != nil {
		return row, fmt.Errorf("failed to read member %s: %w", memberID, err)
	}

	err = tx.GetContext(ctx, &row.ActiveLoans, `
		SELECT COUNT(*) FROM loans WHERE member_id = $1 AND status = $2
	`, memberID, StatusActive)
	if err != nil {
		return row, fmt.Errorf("failed to count active loans: %w", err)
	}

	return row, admit(row.Status, row.ActiveLoans, max)
}
