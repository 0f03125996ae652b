// internal/circulation/sweeper.go
package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"libraryhub/internal/clock"
	"libraryhub/internal/database"
	"libraryhub/internal/events"
	"libraryhub/pkg/web"
)

// AgeCheck marks every ACTIVE loan due before today as OVERDUE. Each loan
// moves in its own short transaction; a failed row is logged, counted and
// left for the next run.
func (s *service) AgeCheck(ctx context.Context) (*SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.age_check")
	defer span.End()

	today := clock.Today(s.clock)
	result := &SweepResult{ReferenceDate: web.NewDate(today)}

	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM loans
		WHERE status = $1 AND due_date < $2
		ORDER BY due_date, id
	`, StatusActive, result.ReferenceDate)
	if err != nil {
		return nil, fmt.Errorf("failed to find overdue loans: %w", err)
	}
	result.Scanned = len(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		moved, err := s.ageLoan(ctx, id, today)
		switch {
		case err != nil:
			result.Failed++
			s.metrics.sweepOutcomes.WithLabelValues("failed").Inc()
			s.log.Error("Failed to mark loan overdue", zap.String("loan_id", id.String()), zap.Error(err))
		case moved:
			result.Transitioned++
			s.metrics.sweepOutcomes.WithLabelValues("transitioned").Inc()
		default:
			s.metrics.sweepOutcomes.WithLabelValues("skipped").Inc()
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.scanned", result.Scanned),
		attribute.Int("sweep.transitioned", result.Transitioned),
		attribute.Int("sweep.failed", result.Failed),
	)
	s.log.Info("Overdue sweep finished",
		zap.Time("reference_date", today),
		zap.Int("scanned", result.Scanned),
		zap.Int("transitioned", result.Transitioned),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// ageLoan moves one loan to OVERDUE if it is still ACTIVE and past due. A
// loan returned or aged since the scan is skipped.
func (s *service) ageLoan(ctx context.Context, id uuid.UUID, today time.Time) (bool, error) {
	var (
		loan  Loan
		moved bool
	)
	reference := web.NewDate(today)
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &loan, `
			SELECT `+loanColumns+` FROM loans
			WHERE id = $1 AND status = $2 AND due_date < $3
			FOR UPDATE
		`, id, StatusActive, reference)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock loan: %w", err)
		}

		next := ageTransition(loan.Status, loan.DueDate.Time, today)
		if next == loan.Status {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE loans
			SET status = $2, version = version + 1, updated_at = NOW()
			WHERE id = $1 AND status = $3
		`, id, next, StatusActive)
		if err != nil {
			return fmt.Errorf("failed to update loan: %w", err)
		}

		if err := s.record(ctx, tx, id, loan.Version, "LoanOverdue", overduePayload(&loan, reference)); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil || !moved {
		return false, err
	}

	s.publish(ctx, events.EventTypeLoanOverdue, overduePayload(&loan, reference))
	return true, nil
}

func overduePayload(loan *Loan, reference web.Date) LoanOverdueEvent {
	return LoanOverdueEvent{
		LoanID:        loan.ID,
		BookID:        loan.BookID,
		MemberID:      loan.MemberID,
		DueDate:       loan.DueDate,
		ReferenceDate: reference,
	}
}
