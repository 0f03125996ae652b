// internal/circulation/domain.go
package circulation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"libraryhub/pkg/apperr"
	"libraryhub/pkg/web"
)

const aggregateLoan = "loan"

// Status is a loan's lifecycle state. OVERDUE is an aged ACTIVE loan and
// can still be returned; RETURNED is terminal for the state machine.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusReturned Status = "RETURNED"
	StatusOverdue  Status = "OVERDUE"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusActive, StatusReturned, StatusOverdue:
		return st, nil
	}
	return "", apperr.Invalid("status must be one of ACTIVE, RETURNED, OVERDUE")
}

// HoldsCopy reports whether a loan in this state has a copy off the shelf.
func (s Status) HoldsCopy() bool {
	return s == StatusActive || s == StatusOverdue
}

var (
	ErrLoanNotFound        = apperr.NotFound("LOAN_NOT_FOUND", "loan not found")
	ErrMemberNotActive     = apperr.Conflict("MEMBER_NOT_ACTIVE", "member is not active")
	ErrLoanLimitExceeded   = apperr.Conflict("LOAN_LIMIT_EXCEEDED", "member has reached the active loan limit")
	ErrBookUnavailable     = apperr.Conflict("BOOK_UNAVAILABLE", "no copies of this book are available")
	ErrLoanAlreadyReturned = apperr.Conflict("LOAN_ALREADY_RETURNED", "loan has already been returned")
	ErrConcurrentUpdate    = apperr.Conflict("CONCURRENT_MODIFICATION", "loan was modified concurrently, retry the request")
)

// Loan is one copy of a book lent to a member.
type Loan struct {
	ID         uuid.UUID `db:"id" json:"id"`
	BookID     uuid.UUID `db:"book_id" json:"bookId"`
	MemberID   uuid.UUID `db:"member_id" json:"memberId"`
	LoanDate   web.Date  `db:"loan_date" json:"loanDate"`
	DueDate    web.Date  `db:"due_date" json:"dueDate"`
	ReturnDate web.Date  `db:"return_date" json:"returnDate"`
	Status     Status    `db:"status" json:"status"`
	Notes      string    `db:"notes" json:"notes,omitempty"`
	Version    int       `db:"version" json:"version"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// LoanDetails is a loan with book and member summaries from the same query.
type LoanDetails struct {
	Loan
	Book   BookSummary   `db:"book" json:"book"`
	Member MemberSummary `db:"member" json:"member"`
}

type BookSummary struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Title      string    `db:"title" json:"title"`
	ISBN       string    `db:"isbn" json:"isbn"`
	AuthorName string    `db:"author_name" json:"authorName"`
}

type MemberSummary struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FirstName string    `db:"first_name" json:"firstName"`
	LastName  string    `db:"last_name" json:"lastName"`
	Email     string    `db:"email" json:"email"`
}

// CreateLoanInput is the body of POST /loans.
type CreateLoanInput struct {
	BookID   uuid.UUID `json:"bookId" validate:"required"`
	MemberID uuid.UUID `json:"memberId" validate:"required"`
	Notes    string    `json:"notes" validate:"max=500"`
}

// UpdateLoanInput is an administrative edit; omitted fields keep their value.
type UpdateLoanInput struct {
	DueDate web.Date `json:"dueDate"`
	Notes   *string  `json:"notes"`
	Status  Status   `json:"status"`
}

// LoanFilter narrows loan listings; zero values match everything. From and
// To bound the loan date inclusively.
type LoanFilter struct {
	MemberID *uuid.UUID
	BookID   *uuid.UUID
	Status   Status
	From     time.Time
	To       time.Time
}

// Decision is the Member Gate's answer for one member.
type Decision struct {
	MemberID       uuid.UUID `json:"memberId"`
	Allowed        bool      `json:"allowed"`
	Reason         string    `json:"reason,omitempty"`
	ActiveLoans    int       `json:"activeLoans"`
	MaxActiveLoans int       `json:"maxActiveLoans"`
}

// SweepResult summarises one Overdue Sweeper run.
type SweepResult struct {
	ReferenceDate web.Date `json:"referenceDate"`
	Scanned       int      `json:"scanned"`
	Transitioned  int      `json:"transitioned"`
	Failed        int      `json:"failed"`
}

// Events recorded for loans and published after commit.
type LoanCreatedEvent struct {
	LoanID   uuid.UUID `json:"loan_id"`
	BookID   uuid.UUID `json:"book_id"`
	MemberID uuid.UUID `json:"member_id"`
	LoanDate web.Date  `json:"loan_date"`
	DueDate  web.Date  `json:"due_date"`
}

type LoanReturnedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	BookID     uuid.UUID `json:"book_id"`
	MemberID   uuid.UUID `json:"member_id"`
	ReturnDate web.Date  `json:"return_date"`
	Late       bool      `json:"late"`
}

type LoanOverdueEvent struct {
	LoanID        uuid.UUID `json:"loan_id"`
	BookID        uuid.UUID `json:"book_id"`
	MemberID      uuid.UUID `json:"member_id"`
	DueDate       web.Date  `json:"due_date"`
	ReferenceDate web.Date  `json:"reference_date"`
}

type LoanUpdatedEvent struct {
	LoanID      uuid.UUID `json:"loan_id"`
	OldStatus   Status    `json:"old_status"`
	NewStatus   Status    `json:"new_status"`
	DueDate     web.Date  `json:"due_date"`
	CopyDelta   int       `json:"copy_delta"`
	AdminPolicy string    `json:"admin_policy"`
}

type LoanDeletedEvent struct {
	LoanID       uuid.UUID `json:"loan_id"`
	BookID       uuid.UUID `json:"book_id"`
	Status       Status    `json:"status"`
	CopyRestored bool      `json:"copy_restored"`
}
