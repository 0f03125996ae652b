package circulation

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"libraryhub/internal/catalog"
	"libraryhub/internal/clock"
	"libraryhub/internal/database"
	"libraryhub/internal/events"
	"libraryhub/internal/eventstore"
	"libraryhub/internal/membership"
	"libraryhub/pkg/web"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc     Service
	db      *sqlx.DB
	catalog catalog.Service
	members membership.Service
	clock   *clock.Fixed
	pub     *events.MemoryPublisher
	author  *catalog.Author
	seq     atomic.Int64
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db := database.NewTestDB(t)
	es := eventstore.NewEventStore(db)
	clk := clock.NewFixed(testNow)
	log := zap.NewNop()

	f := &fixture{
		db:      db,
		catalog: catalog.NewService(db, es, clk, log),
		members: membership.NewService(db, es, membership.NewTokenIssuer("test-secret", clk), clk, log),
		clock:   clk,
		pub:     &events.MemoryPublisher{},
	}
	f.svc = NewService(db, es, f.pub, clk, NewMetrics(prometheus.NewRegistry()), log, opts)

	author, err := f.catalog.CreateAuthor(context.Background(), catalog.AuthorInput{FirstName: "Ursula", LastName: "Le Guin"})
	require.NoError(t, err)
	f.author = author
	return f
}

func (f *fixture) book(t *testing.T, copies int) *catalog.BookDetails {
	t.Helper()
	n := f.seq.Add(1)
	b, err := f.catalog.CreateBook(context.Background(), catalog.BookInput{
		ISBN:            fmt.Sprintf("978%010d", n),
		Title:           fmt.Sprintf("The Dispossessed vol. %d", n),
		PublicationDate: web.NewDate(time.Date(1974, 5, 1, 0, 0, 0, 0, time.UTC)),
		TotalCopies:     copies,
		AuthorID:        f.author.ID,
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) member(t *testing.T) *membership.Member {
	t.Helper()
	n := f.seq.Add(1)
	m, err := f.members.RegisterMember(context.Background(), membership.MemberInput{
		FirstName: "Shevek",
		LastName:  fmt.Sprintf("Anarres%d", n),
		Email:     fmt.Sprintf("member%d@example.com", n),
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) borrow(t *testing.T, bookID, memberID uuid.UUID) *LoanDetails {
	t.Helper()
	loan, err := f.svc.CreateLoan(context.Background(), CreateLoanInput{BookID: bookID, MemberID: memberID})
	require.NoError(t, err)
	return loan
}

func (f *fixture) available(t *testing.T, bookID uuid.UUID) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.Get(&n, `SELECT available_copies FROM books WHERE id = $1`, bookID))
	return n
}

func (f *fixture) activeLoans(t *testing.T, memberID uuid.UUID) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.Get(&n, `SELECT COUNT(*) FROM loans WHERE member_id = $1 AND status = 'ACTIVE'`, memberID))
	return n
}

func (f *fixture) status(t *testing.T, loanID uuid.UUID) Status {
	t.Helper()
	loan, err := f.svc.GetLoan(context.Background(), loanID)
	require.NoError(t, err)
	return loan.Status
}
