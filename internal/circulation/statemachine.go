// internal/circulation/statemachine.go
package circulation

import (
	"time"

	"libraryhub/pkg/web"
)

// dueDateFor returns the due date of a loan taken on loanDate.
func dueDateFor(loanDate time.Time, periodDays int) web.Date {
	return web.NewDate(loanDate.AddDate(0, 0, periodDays))
}

// returnTransition is the explicit return: ACTIVE or OVERDUE become RETURNED.
func returnTransition(from Status) (Status, error) {
	if from == StatusReturned {
		return from, ErrLoanAlreadyReturned
	}
	return StatusReturned, nil
}

// ageTransition is the sweeper rule. Only ACTIVE loans strictly past due
// move; everything else is left alone, which makes repeated sweeps no-ops.
func ageTransition(from Status, dueDate, reference time.Time) Status {
	if from == StatusActive && dueDate.Before(reference) {
		return StatusOverdue
	}
	return from
}

// ledgerDelta is the copy-count effect of moving a loan between states.
func ledgerDelta(from, to Status) int {
	switch {
	case from.HoldsCopy() && !to.HoldsCopy():
		return 1
	case !from.HoldsCopy() && to.HoldsCopy():
		return -1
	default:
		return 0
	}
}

// isLate reports whether a loan returned on returned missed its due date.
func isLate(dueDate, returned time.Time) bool {
	return returned.After(dueDate)
}
