package circulation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"libraryhub/internal/catalog"
	"libraryhub/internal/events"
	"libraryhub/internal/eventstore"
	"libraryhub/internal/membership"
	"libraryhub/pkg/apperr"
	"libraryhub/pkg/web"
)

func TestSingleCopyLifecycle(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	book := f.book(t, 1)
	m := f.member(t)
	n := f.member(t)

	loan := f.borrow(t, book.ID, m.ID)
	assert.Equal(t, StatusActive, loan.Status)
	assert.Equal(t, "2026-03-10", loan.LoanDate.Format(web.DateLayout))
	assert.Equal(t, "2026-03-24", loan.DueDate.Format(web.DateLayout))
	assert.True(t, loan.ReturnDate.IsZero())
	assert.Equal(t, book.Title, loan.Book.Title)
	assert.Equal(t, "Ursula Le Guin", loan.Book.AuthorName)
	assert.Equal(t, m.Email, loan.Member.Email)
	assert.Equal(t, 0, f.available(t, book.ID))

	_, err := f.svc.CreateLoan(ctx, CreateLoanInput{BookID: book.ID, MemberID: n.ID})
	assert.ErrorIs(t, err, ErrBookUnavailable)
	assert.Equal(t, 0, f.available(t, book.ID))

	returned, err := f.svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, returned.Status)
	assert.Equal(t, "2026-03-10", returned.ReturnDate.Format(web.DateLayout))
	assert.Equal(t, 1, f.available(t, book.ID))

	f.borrow(t, book.ID, n.ID)
	assert.Equal(t, 0, f.available(t, book.ID))

	assert.Len(t, f.pub.Published(events.EventTypeLoanCreated), 2)
	assert.Len(t, f.pub.Published(events.EventTypeLoanReturned), 1)
}

func TestCreateLoanPreconditions(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	book := f.book(t, 3)
	m := f.member(t)

	_, err := f.svc.CreateLoan(ctx, CreateLoanInput{BookID: book.ID, MemberID: uuid.New()})
	assert.ErrorIs(t, err, membership.ErrMemberNotFound)

	_, err = f.svc.CreateLoan(ctx, CreateLoanInput{BookID: uuid.New(), MemberID: m.ID})
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)

	_, err = f.svc.CreateLoan(ctx, CreateLoanInput{MemberID: m.ID})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.members.UpdateStatus(ctx, m.ID, membership.StatusSuspended)
	require.NoError(t, err)
	_, err = f.svc.CreateLoan(ctx, CreateLoanInput{BookID: book.ID, MemberID: m.ID})
	assert.ErrorIs(t, err, ErrMemberNotActive)

	assert.Equal(t, 3, f.available(t, book.ID))
}

func TestLoanLimitLeavesCopiesUntouched(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	m := f.member(t)

	for i := 0; i < 5; i++ {
		f.borrow(t, f.book(t, 1).ID, m.ID)
	}
	sixth := f.book(t, 2)

	_, err := f.svc.CreateLoan(ctx, CreateLoanInput{BookID: sixth.ID, MemberID: m.ID})
	assert.ErrorIs(t, err, ErrLoanLimitExceeded)
	assert.Equal(t, 2, f.available(t, sixth.ID))
	assert.Equal(t, 5, f.activeLoans(t, m.ID))
}

// Only ACTIVE loans count against the limit; an OVERDUE loan does not.
func TestOverdueLoansDoNotCountAgainstLimit(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	m := f.member(t)

	for i := 0; i < 5; i++ {
		f.borrow(t, f.book(t, 1).ID, m.ID)
	}
	f.clock.AddDays(15)
	_, err := f.svc.AgeCheck(ctx)
	require.NoError(t, err)

	f.borrow(t, f.book(t, 1).ID, m.ID)
	assert.Equal(t, 1, f.activeLoans(t, m.ID))
}

func TestUpdateLoanOverdueToActiveChecksLimit(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	m := f.member(t)

	late := f.borrow(t, f.book(t, 1).ID, m.ID)
	f.clock.AddDays(15)
	_, err := f.svc.AgeCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, f.status(t, late.ID))

	for i := 0; i < 5; i++ {
		f.borrow(t, f.book(t, 1).ID, m.ID)
	}

	_, err = f.svc.UpdateLoan(ctx, late.ID, UpdateLoanInput{Status: StatusActive})
	assert.ErrorIs(t, err, ErrLoanLimitExceeded)
	assert.Equal(t, StatusOverdue, f.status(t, late.ID))
	assert.Equal(t, 5, f.activeLoans(t, m.ID))

	opts := DefaultOptions()
	opts.AdminPolicy = PolicyBypass
	bypass := NewService(f.db, eventstore.NewEventStore(f.db), f.pub, f.clock, NewMetrics(prometheus.NewRegistry()), zap.NewNop(), opts)
	_, err = bypass.UpdateLoan(ctx, late.ID, UpdateLoanInput{Status: StatusActive})
	require.NoError(t, err, "bypass is the data-repair escape hatch")
}

func TestReturnTwiceIncrementsOnce(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	book := f.book(t, 2)
	loan := f.borrow(t, book.ID, f.member(t).ID)
	require.Equal(t, 1, f.available(t, book.ID))

	_, err := f.svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)
	_, err = f.svc.ReturnLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, ErrLoanAlreadyReturned)

	assert.Equal(t, 2, f.available(t, book.ID))

	_, err = f.svc.ReturnLoan(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestAgeCheckIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	m := f.member(t)
	late := f.borrow(t, f.book(t, 1).ID, m.ID)
	returned := f.borrow(t, f.book(t, 1).ID, m.ID)
	_, err := f.svc.ReturnLoan(ctx, returned.ID)
	require.NoError(t, err)

	f.clock.AddDays(14)
	result, err := f.svc.AgeCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Transitioned, "a loan due today is not overdue")
	assert.Equal(t, StatusActive, f.status(t, late.ID))

	f.clock.AddDays(1)
	result, err = f.svc.AgeCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Transitioned)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, StatusOverdue, f.status(t, late.ID))
	assert.Equal(t, StatusReturned, f.status(t, returned.ID))

	result, err = f.svc.AgeCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Transitioned)
	assert.Equal(t, StatusOverdue, f.status(t, late.ID))
	assert.Len(t, f.pub.Published(events.EventTypeLoanOverdue), 1)

	back, err := f.svc.ReturnLoan(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, back.Status)
	assert.Equal(t, 1, f.available(t, back.BookID))
}

func TestConcurrentCreatesRespectMemberLimit(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	m := f.member(t)
	book := f.book(t, 20)

	const attempts = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		limited   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateLoan(ctx, CreateLoanInput{BookID: book.ID, MemberID: m.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrLoanLimitExceeded):
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, attempts-5, limited)
	assert.Equal(t, 5, f.activeLoans(t, m.ID))
	assert.Equal(t, 15, f.available(t, book.ID))
}

func TestConcurrentCreatesForLastCopy(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	book := f.book(t, 1)

	const borrowers = 8
	members := make([]uuid.UUID, borrowers)
	for i := range members {
		members[i] = f.member(t).ID
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		succeeded   int
		unavailable int
	)
	for _, memberID := range members {
		wg.Add(1)
		go func(memberID uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.CreateLoan(ctx, CreateLoanInput{BookID: book.ID, MemberID: memberID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrBookUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(memberID)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, borrowers-1, unavailable)
	assert.Equal(t, 0, f.available(t, book.ID))
}

func TestUpdateLoanReconcilesLedger(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	book := f.book(t, 1)
	loan := f.borrow(t, book.ID, f.member(t).ID)

	notes := "returned at front desk"
	updated, err := f.svc.UpdateLoan(ctx, loan.ID, UpdateLoanInput{Status: "returned", Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, updated.Status)
	assert.Equal(t, notes, updated.Notes)
	assert.False(t, updated.ReturnDate.IsZero())
	assert.Equal(t, 1, f.available(t, book.ID))

	reopened, err := f.svc.UpdateLoan(ctx, loan.ID, UpdateLoanInput{Status: StatusActive})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, reopened.Status)
	assert.True(t, reopened.ReturnDate.IsZero())
	assert.Equal(t, 0, f.available(t, book.ID))

	extended := web.NewDate(testNow.AddDate(0, 0, 30))
	moved, err := f.svc.UpdateLoan(ctx, loan.ID, UpdateLoanInput{DueDate: extended})
	require.NoError(t, err)
	assert.Equal(t, extended.Format(web.DateLayout), moved.DueDate.Format(web.DateLayout))

	_, err = f.svc.UpdateLoan(ctx, loan.ID, UpdateLoanInput{DueDate: web.NewDate(testNow.AddDate(0, 0, -1))})
	assert.Error(t, err)
}

func TestUpdateLoanReopenChecksAvailability(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	book := f.book(t, 1)
	first := f.borrow(t, book.ID, f.member(t).ID)
	_, err := f.svc.ReturnLoan(ctx, first.ID)
	require.NoError(t, err)
	f.borrow(t, book.ID, f.member(t).ID)

	_, err = f.svc.UpdateLoan(ctx, first.ID, UpdateLoanInput{Status: StatusActive})
	assert.ErrorIs(t, err, ErrBookUnavailable)
	assert.Equal(t, StatusReturned, f.status(t, first.ID))
	assert.Equal(t, 0, f.available(t, book.ID))
}

func TestBypassPolicySkipsLedger(t *testing.T) {
	opts := DefaultOptions()
	opts.AdminPolicy = PolicyBypass
	f := newFixture(t, opts)
	ctx := context.Background()
	book := f.book(t, 2)
	m := f.member(t)

	loan := f.borrow(t, book.ID, m.ID)
	updated, err := f.svc.UpdateLoan(ctx, loan.ID, UpdateLoanInput{Status: StatusReturned})
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, updated.Status)
	assert.Equal(t, 1, f.available(t, book.ID))

	other := f.borrow(t, book.ID, m.ID)
	require.NoError(t, f.svc.DeleteLoan(ctx, other.ID))
	assert.Equal(t, 0, f.available(t, book.ID))
}

func TestDeleteLoanRestoresHeldCopy(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	book := f.book(t, 2)
	m := f.member(t)

	held := f.borrow(t, book.ID, m.ID)
	done := f.borrow(t, book.ID, m.ID)
	_, err := f.svc.ReturnLoan(ctx, done.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.available(t, book.ID))

	require.NoError(t, f.svc.DeleteLoan(ctx, held.ID))
	assert.Equal(t, 2, f.available(t, book.ID))
	require.NoError(t, f.svc.DeleteLoan(ctx, done.ID))
	assert.Equal(t, 2, f.available(t, book.ID))

	_, err = f.svc.GetLoan(ctx, held.ID)
	assert.ErrorIs(t, err, ErrLoanNotFound)
	assert.ErrorIs(t, f.svc.DeleteLoan(ctx, held.ID), ErrLoanNotFound)
}

func TestHistoryRecordsLifecycle(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	loan := f.borrow(t, f.book(t, 1).ID, f.member(t).ID)
	_, err := f.svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteLoan(ctx, loan.ID))

	history, err := f.svc.History(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "LoanCreated", history[0].EventType)
	assert.Equal(t, "LoanReturned", history[1].EventType)
	assert.Equal(t, "LoanDeleted", history[2].EventType)
	for i, e := range history {
		assert.Equal(t, i+1, e.Version)
	}

	_, err = f.svc.History(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestListLoansFilters(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	book := f.book(t, 5)
	m := f.member(t)
	other := f.member(t)

	first := f.borrow(t, book.ID, m.ID)
	f.clock.AddDays(3)
	f.borrow(t, book.ID, m.ID)
	f.borrow(t, book.ID, other.ID)
	_, err := f.svc.ReturnLoan(ctx, first.ID)
	require.NoError(t, err)

	page := web.PageRequest{Page: 0, Size: 10}

	byMember, err := f.svc.ListLoans(ctx, LoanFilter{MemberID: &m.ID}, page)
	require.NoError(t, err)
	assert.EqualValues(t, 2, byMember.TotalElements)

	returned, err := f.svc.ListLoans(ctx, LoanFilter{Status: StatusReturned}, page)
	require.NoError(t, err)
	require.Len(t, returned.Items, 1)
	assert.Equal(t, first.ID, returned.Items[0].ID)

	ranged, err := f.svc.ListLoans(ctx, LoanFilter{From: testNow.AddDate(0, 0, 1), To: testNow.AddDate(0, 0, 5)}, page)
	require.NoError(t, err)
	assert.EqualValues(t, 2, ranged.TotalElements)

	byBook, err := f.svc.ListLoans(ctx, LoanFilter{BookID: &book.ID}, web.PageRequest{Page: 1, Size: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, byBook.TotalElements)
	assert.Equal(t, 2, byBook.TotalPages)
	assert.Len(t, byBook.Items, 1)
}

func TestCanBorrow(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	m := f.member(t)

	d, err := f.svc.CanBorrow(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.MaxActiveLoans)

	f.borrow(t, f.book(t, 1).ID, m.ID)
	_, err = f.members.UpdateStatus(ctx, m.ID, membership.StatusExpired)
	require.NoError(t, err)

	d, err = f.svc.CanBorrow(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "MEMBER_NOT_ACTIVE", d.Reason)
	assert.Equal(t, 1, d.ActiveLoans)

	_, err = f.svc.CanBorrow(ctx, uuid.New())
	assert.ErrorIs(t, err, membership.ErrMemberNotFound)
}
