// internal/circulation/implementation.go
package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libraryhub/internal/catalog"
	"libraryhub/internal/clock"
	"libraryhub/internal/database"
	"libraryhub/internal/events"
	"libraryhub/internal/eventstore"
	"libraryhub/pkg/apperr"
	"libraryhub/pkg/validate"
	"libraryhub/pkg/web"
)

// AdminPolicy decides whether administrative edits go through the ledger.
type AdminPolicy string

const (
	// PolicyReconcile applies the same copy-count effects as create and return.
	PolicyReconcile AdminPolicy = "reconcile"
	// PolicyBypass writes the loan row only, for data repair.
	PolicyBypass AdminPolicy = "bypass"
)

// Options are the lending rules.
type Options struct {
	LoanPeriodDays int
	MaxActiveLoans int
	AdminPolicy    AdminPolicy
}

// DefaultOptions is a 14 day loan period, five active loans per member and
// ledger-reconciled administrative edits.
func DefaultOptions() Options {
	return Options{LoanPeriodDays: 14, MaxActiveLoans: 5, AdminPolicy: PolicyReconcile}
}

const maxNotesLen = 500

const loanColumns = `id, book_id, member_id, loan_date, due_date, return_date, status, notes,
	version, created_at, updated_at`

const loanDetailColumns = `l.id, l.book_id, l.member_id, l.loan_date, l.due_date, l.return_date,
	l.status, l.notes, l.version, l.created_at, l.updated_at,
	b.id AS "book.id", b.title AS "book.title", b.isbn AS "book.isbn",
	a.first_name || ' ' || a.last_name AS "book.author_name",
	m.id AS "member.id", m.first_name AS "member.first_name",
	m.last_name AS "member.last_name", m.email AS "member.email"`

const loanDetailJoins = `loans l
	JOIN books b ON b.id = l.book_id
	JOIN authors a ON a.id = b.author_id
	JOIN members m ON m.id = l.member_id`

// service implements the Service interface.
type service struct {
	db         *sqlx.DB
	eventStore *eventstore.EventStore
	publisher  events.Publisher
	clock      clock.Clock
	metrics    *Metrics
	log        *zap.Logger
	tracer     trace.Tracer
	opts       Options
}

// NewService creates a new circulation service instance.
func NewService(db *sqlx.DB, es *eventstore.EventStore, pub events.Publisher, clk clock.Clock, m *Metrics, log *zap.Logger, opts Options) Service {
	return &service{
		db:         db,
		eventStore: es,
		publisher:  pub,
		clock:      clk,
		metrics:    m,
		log:        log,
		tracer:     otel.Tracer("libraryhub/circulation"),
		opts:       opts,
	}
}

// record appends one loan event. expectedVersion is the loan row's version
// before the change, 0 for a new loan.
func (s *service) record(ctx context.Context, tx *sqlx.Tx, loanID uuid.UUID, expectedVersion int, eventType string, payload any) error {
	event, err := eventstore.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	err = s.eventStore.AppendEvents(ctx, tx, loanID, aggregateLoan, expectedVersion, []eventstore.Event{event})
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return ErrConcurrentUpdate
	}
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// publish announces a committed change. The loan is already durable, so a
// broker failure is logged rather than returned.
func (s *service) publish(ctx context.Context, eventType string, payload any) {
	if err := s.publisher.Publish(ctx, eventType, payload); err != nil {
		s.log.Warn("Failed to publish loan event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func lockLoan(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*Loan, error) {
	var loan Loan
	err := tx.GetContext(ctx, &loan, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock loan %s: %w", id, err)
	}
	return &loan, nil
}

// takeCopy checks out one copy of a book inside tx.
func takeCopy(ctx context.Context, tx *sqlx.Tx, bookID uuid.UUID) error {
	book, err := catalog.LockBook(ctx, tx, bookID)
	if err != nil {
		return err
	}
	if book.AvailableCopies < 1 {
		return ErrBookUnavailable
	}
	_, err = catalog.AdjustCopies(ctx, tx, bookID, -1)
	return err
}

func getLoan(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*LoanDetails, error) {
	var details LoanDetails
	err := sqlx.GetContext(ctx, q, &details, `SELECT `+loanDetailColumns+` FROM `+loanDetailJoins+` WHERE l.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return &details, nil
}

func validateNotes(ctx context.Context, notes string) error {
	return validate.Var(ctx, "notes", notes, fmt.Sprintf("max=%d", maxNotesLen)).Err()
}

// CreateLoan lends one copy of a book to a member. The gate check, the copy
// decrement and the loan insert commit together or not at all.
func (s *service) CreateLoan(ctx context.Context, in CreateLoanInput) (*LoanDetails, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.create_loan",
		trace.WithAttributes(
			attribute.String("book.id", in.BookID.String()),
			attribute.String("member.id", in.MemberID.String()),
		),
	)
	defer span.End()

	if err := validate.Struct(ctx, in).Err(); err != nil {
		return nil, err
	}

	today := clock.Today(s.clock)
	loanDate := web.NewDate(today)
	dueDate := dueDateFor(today, s.opts.LoanPeriodDays)
	id := uuid.New()

	var details *LoanDetails
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := checkMember(ctx, tx, in.MemberID, s.opts.MaxActiveLoans, true); err != nil {
			return err
		}
		if err := takeCopy(ctx, tx, in.BookID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO loans (id, book_id, member_id, loan_date, due_date, status, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, id, in.BookID, in.MemberID, loanDate, dueDate, StatusActive, in.Notes)
		if err != nil {
			return fmt.Errorf("failed to insert loan: %w", err)
		}

		if err := s.record(ctx, tx, id, 0, "LoanCreated", LoanCreatedEvent{
			LoanID:   id,
			BookID:   in.BookID,
			MemberID: in.MemberID,
			LoanDate: loanDate,
			DueDate:  dueDate,
		}); err != nil {
			return err
		}

		details, err = getLoan(ctx, tx, id)
		return err
	})
	if err != nil {
		span.RecordError(err)
		if e, ok := apperr.From(err); ok {
			s.metrics.loansRejected.WithLabelValues(e.Code).Inc()
		}
		return nil, err
	}

	s.metrics.loansCreated.Inc()
	s.log.Info("Loan created",
		zap.String("loan_id", id.String()),
		zap.String("book_id", in.BookID.String()),
		zap.String("member_id", in.MemberID.String()),
		zap.Time("due_date", dueDate.Time),
	)
	s.publish(ctx, events.EventTypeLoanCreated, LoanCreatedEvent{
		LoanID:   id,
		BookID:   in.BookID,
		MemberID: in.MemberID,
		LoanDate: loanDate,
		DueDate:  dueDate,
	})
	return details, nil
}

// ReturnLoan closes an ACTIVE or OVERDUE loan and puts its copy back.
func (s *service) ReturnLoan(ctx context.Context, id uuid.UUID) (*LoanDetails, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return_loan",
		trace.WithAttributes(attribute.String("loan.id", id.String())),
	)
	defer span.End()

	today := web.NewDate(clock.Today(s.clock))

	var (
		details *LoanDetails
		payload LoanReturnedEvent
	)
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		loan, err := lockLoan(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := returnTransition(loan.Status)
		if err != nil {
			return err
		}
		if _, err := catalog.AdjustCopies(ctx, tx, loan.BookID, ledgerDelta(loan.Status, next)); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE loans
			SET status = $2, return_date = $3, version = version + 1, updated_at = NOW()
			WHERE id = $1
		`, id, next, today)
		if err != nil {
			return fmt.Errorf("failed to update loan: %w", err)
		}

		payload = LoanReturnedEvent{
			LoanID:     id,
			BookID:     loan.BookID,
			MemberID:   loan.MemberID,
			ReturnDate: today,
			Late:       isLate(loan.DueDate.Time, today.Time),
		}
		if err := s.record(ctx, tx, id, loan.Version, "LoanReturned", payload); err != nil {
			return err
		}

		details, err = getLoan(ctx, tx, id)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.loansReturned.Inc()
	s.log.Info("Loan returned",
		zap.String("loan_id", id.String()),
		zap.Bool("late", payload.Late),
	)
	s.publish(ctx, events.EventTypeLoanReturned, payload)
	return details, nil
}

// UpdateLoan applies an administrative edit of due date, notes or status.
// Under PolicyReconcile a status change that takes a copy back or hands one
// out adjusts the ledger exactly as return and create would.
func (s *service) UpdateLoan(ctx context.Context, id uuid.UUID, in UpdateLoanInput) (*LoanDetails, error) {
	if in.Status != "" {
		status, err := ParseStatus(string(in.Status))
		if err != nil {
			return nil, err
		}
		in.Status = status
	}
	if in.Notes != nil {
		if err := validateNotes(ctx, *in.Notes); err != nil {
			return nil, err
		}
	}

	today := web.NewDate(clock.Today(s.clock))

	var (
		details *LoanDetails
		payload LoanUpdatedEvent
	)
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		loan, err := lockLoan(ctx, tx, id)
		if err != nil {
			return err
		}

		next := loan.Status
		if in.Status != "" {
			next = in.Status
		}
		dueDate := loan.DueDate
		if !in.DueDate.IsZero() {
			if in.DueDate.Before(loan.LoanDate.Time) {
				return apperr.Invalid("dueDate must not be before loanDate")
			}
			dueDate = in.DueDate
		}
		notes := loan.Notes
		if in.Notes != nil {
			notes = *in.Notes
		}
		returnDate := loan.ReturnDate

		reconcile := s.opts.AdminPolicy == PolicyReconcile
		delta := 0
		if reconcile {
			delta = ledgerDelta(loan.Status, next)
		}
		// OVERDUE → ACTIVE keeps the copy but adds to the member's active count.
		if reconcile && (delta < 0 || (next == StatusActive && loan.Status != StatusActive)) {
			if _, err := checkMember(ctx, tx, loan.MemberID, s.opts.MaxActiveLoans, true); err != nil {
				return err
			}
		}
		switch delta {
		case 1:
			if _, err := catalog.AdjustCopies(ctx, tx, loan.BookID, 1); err != nil {
				return err
			}
			returnDate = today
		case -1:
			if err := takeCopy(ctx, tx, loan.BookID); err != nil {
				return err
			}
			returnDate = web.Date{}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE loans
			SET due_date = $2, notes = $3, status = $4, return_date = $5,
			    version = version + 1, updated_at = NOW()
			WHERE id = $1
		`, id, dueDate, notes, next, returnDate)
		if err != nil {
			return fmt.Errorf("failed to update loan: %w", err)
		}

		payload = LoanUpdatedEvent{
			LoanID:      id,
			OldStatus:   loan.Status,
			NewStatus:   next,
			DueDate:     dueDate,
			CopyDelta:   delta,
			AdminPolicy: string(s.opts.AdminPolicy),
		}
		if err := s.record(ctx, tx, id, loan.Version, "LoanUpdated", payload); err != nil {
			return err
		}

		details, err = getLoan(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if payload.OldStatus != payload.NewStatus {
		s.log.Info("Loan status changed by administrator",
			zap.String("loan_id", id.String()),
			zap.String("from", string(payload.OldStatus)),
			zap.String("to", string(payload.NewStatus)),
			zap.Int("copy_delta", payload.CopyDelta),
		)
	}
	s.publish(ctx, events.EventTypeLoanUpdated, payload)
	return details, nil
}

// DeleteLoan removes a loan. Under PolicyReconcile a loan that still holds a
// copy gives it back first.
func (s *service) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	var payload LoanDeletedEvent
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		loan, err := lockLoan(ctx, tx, id)
		if err != nil {
			return err
		}

		restore := s.opts.AdminPolicy == PolicyReconcile && loan.Status.HoldsCopy()
		if restore {
			if _, err := catalog.AdjustCopies(ctx, tx, loan.BookID, 1); err != nil {
				return err
			}
		}

		payload = LoanDeletedEvent{LoanID: id, BookID: loan.BookID, Status: loan.Status, CopyRestored: restore}
		if err := s.record(ctx, tx, id, loan.Version, "LoanDeleted", payload); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM loans WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete loan: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("Loan deleted", zap.String("loan_id", id.String()), zap.Bool("copy_restored", payload.CopyRestored))
	s.publish(ctx, events.EventTypeLoanDeleted, payload)
	return nil
}

// GetLoan returns a loan with its book and member summaries.
func (s *service) GetLoan(ctx context.Context, id uuid.UUID) (*LoanDetails, error) {
	return getLoan(ctx, s.db, id)
}

// ListLoans pages through loans matching filter, newest first.
func (s *service) ListLoans(ctx context.Context, filter LoanFilter, page web.PageRequest) (web.Page[LoanDetails], error) {
	ds := database.Dialect.
		From(goqu.L(loanDetailJoins)).
		Select(goqu.L(loanDetailColumns)).
		Order(goqu.I("l.loan_date").Desc(), goqu.I("l.id").Asc())

	if filter.MemberID != nil {
		ds = ds.Where(goqu.I("l.member_id").Eq(filter.MemberID.String()))
	}
	if filter.BookID != nil {
		ds = ds.Where(goqu.I("l.book_id").Eq(filter.BookID.String()))
	}
	if filter.Status != "" {
		ds = ds.Where(goqu.I("l.status").Eq(string(filter.Status)))
	}
	if !filter.From.IsZero() {
		ds = ds.Where(goqu.I("l.loan_date").Gte(filter.From.Format(web.DateLayout)))
	}
	if !filter.To.IsZero() {
		ds = ds.Where(goqu.I("l.loan_date").Lte(filter.To.Format(web.DateLayout)))
	}

	var loans []LoanDetails
	total, err := database.SelectPage(ctx, s.db, ds, &loans, page.Limit(), page.Offset())
	if err != nil {
		return web.Page[LoanDetails]{}, fmt.Errorf("failed to list loans: %w", err)
	}
	return web.NewPage(loans, page, total), nil
}

// History returns every recorded event of a loan, including deleted loans.
func (s *service) History(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error) {
	history, err := s.eventStore.LoadEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan history: %w", err)
	}
	if len(history) == 0 {
		return nil, ErrLoanNotFound
	}
	return history, nil
}

// CanBorrow runs the Member Gate without creating a loan. Gate refusals are
// reported in the Decision; only a missing member is an error.
func (s *service) CanBorrow(ctx context.Context, memberID uuid.UUID) (*Decision, error) {
	decision := &Decision{MemberID: memberID, MaxActiveLoans: s.opts.MaxActiveLoans}
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		row, err := checkMember(ctx, tx, memberID, s.opts.MaxActiveLoans, false)
		decision.ActiveLoans = row.ActiveLoans
		return err
	})

	switch {
	case err == nil:
		decision.Allowed = true
	case errors.Is(err, ErrMemberNotActive), errors.Is(err, ErrLoanLimitExceeded):
		e, _ := apperr.From(err)
		decision.Reason = e.Code
	default:
		return nil, err
	}
	return decision, nil
}
