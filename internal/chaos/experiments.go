// internal/chaos/experiments.go
package chaos

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libraryhub/internal/catalog"
	"libraryhub/internal/clients"
	"libraryhub/internal/membership"
	"libraryhub/pkg/apperr"
	"libraryhub/pkg/web"
)

// Target is the running service under test. Load goes through the HTTP
// clients; probes read the database directly.
type Target struct {
	DB             *sqlx.DB
	Catalog        *clients.CatalogClient
	Members        *clients.MembershipClient
	Loans          *clients.CirculationClient
	MaxActiveLoans int
}

// RegisterDefaults registers the lending experiments.
func RegisterDefaults(e *Engine, t Target, concurrency int) {
	e.Register(LastCopyRace(t, concurrency))
	e.Register(MemberLimitRace(t, concurrency))
	e.Register(DoubleReturn(t, concurrency))
	e.Register(SweepDuringReturns(t, concurrency))
	e.Register(ConnectionPoolPressure(t, concurrency, 3*time.Second))
}

// tally counts request outcomes by error code; "OK" for successes.
type tally struct {
	mu     sync.Mutex
	counts map[string]int
}

func newTally() *tally {
	return &tally{counts: make(map[string]int)}
}

func (t *tally) add(err error) {
	code := "OK"
	if err != nil {
		code = "ERROR"
		if e, ok := apperr.From(err); ok {
			code = e.Code
		}
	}
	t.mu.Lock()
	t.counts[code]++
	t.mu.Unlock()
}

func (t *tally) get(code string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[code]
}

func (t *tally) probe(name, code string, threshold Threshold) Probe {
	return Probe{
		Name:      name,
		Query:     func(context.Context) (float64, error) { return float64(t.get(code)), nil },
		Threshold: threshold,
	}
}

func countProbe(db *sqlx.DB, name, query string, args ...any) Probe {
	return Probe{
		Name: name,
		Query: func(ctx context.Context) (float64, error) {
			var n int
			err := db.GetContext(ctx, &n, query, args...)
			return float64(n), err
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// copyBoundsProbe counts books whose available copies left [0, total].
func copyBoundsProbe(db *sqlx.DB) Probe {
	return countProbe(db, "copy_bounds_violations", `
		SELECT COUNT(*) FROM books
		WHERE available_copies < 0 OR available_copies > total_copies
	`)
}

// memberLimitProbe counts members holding more ACTIVE loans than allowed.
func memberLimitProbe(db *sqlx.DB, max int) Probe {
	return countProbe(db, "member_limit_violations", `
		SELECT COUNT(*) FROM (
			SELECT member_id FROM loans
			WHERE status = 'ACTIVE'
			GROUP BY member_id
			HAVING COUNT(*) > $1
		) over_limit
	`, max)
}

// ledgerDriftProbe counts books whose shelf copies plus copies on loan do
// not add up to the total.
func ledgerDriftProbe(db *sqlx.DB) Probe {
	return countProbe(db, "ledger_drift", `
		SELECT COUNT(*) FROM books b
		WHERE b.available_copies + (
			SELECT COUNT(*) FROM loans l
			WHERE l.book_id = b.id AND l.status IN ('ACTIVE', 'OVERDUE')
		) <> b.total_copies
	`)
}

func invariantProbes(t Target) []Probe {
	return []Probe{copyBoundsProbe(t.DB), memberLimitProbe(t.DB, t.MaxActiveLoans), ledgerDriftProbe(t.DB)}
}

func invariantAssertions() []Assertion {
	zero := func(v float64) bool { return v == 0 }
	return []Assertion{
		{Probe: "copy_bounds_violations", Condition: zero, Message: "available copies stay within [0, total]"},
		{Probe: "member_limit_violations", Condition: zero, Message: "no member exceeds the active loan limit"},
		{Probe: "ledger_drift", Condition: zero, Message: "shelf copies plus loaned copies equal total copies"},
	}
}

func (t Target) newBook(ctx context.Context, copies int) (*catalog.BookDetails, error) {
	author, err := t.Catalog.CreateAuthor(ctx, catalog.AuthorInput{FirstName: "Chaos", LastName: "Monkey"})
	if err != nil {
		return nil, fmt.Errorf("create author: %w", err)
	}
	return t.Catalog.CreateBook(ctx, catalog.BookInput{
		ISBN:            fmt.Sprintf("978%010d", uuid.New().ID()),
		Title:           "Chaos Engineering",
		PublicationDate: web.NewDate(time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC)),
		TotalCopies:     copies,
		AuthorID:        author.ID,
	})
}

func (t Target) newMembers(ctx context.Context, n int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		m, err := t.Members.RegisterMember(ctx, membership.MemberInput{
			FirstName: "Chaos",
			LastName:  fmt.Sprintf("Borrower %d", i),
			Email:     fmt.Sprintf("chaos-%s@example.com", uuid.NewString()),
		})
		if err != nil {
			return nil, fmt.Errorf("register member: %w", err)
		}
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// fanOut runs fn n times concurrently and waits for all of them.
func fanOut(n int, fn func(i int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn(i)
		}(i)
	}
	wg.Wait()
}

// LastCopyRace has many members ask for the only copy of a book at once.
func LastCopyRace(t Target, concurrency int) Experiment {
	outcomes := newTally()
	return Experiment{
		Name:       "last-copy-race",
		Hypothesis: "Exactly one of many simultaneous borrowers gets the last copy; the rest see BOOK_UNAVAILABLE",
		SteadyState: append(invariantProbes(t),
			outcomes.probe("granted_loans", "OK", Threshold{Operator: "<=", Value: 1}),
		),
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "POST /loans",
			Execute: func(ctx context.Context) error {
				book, err := t.newBook(ctx, 1)
				if err != nil {
					return err
				}
				members, err := t.newMembers(ctx, concurrency)
				if err != nil {
					return err
				}
				fanOut(concurrency, func(i int) {
					_, err := t.Loans.CreateLoan(ctx, book.ID, members[i])
					outcomes.add(err)
				})
				return nil
			},
		}},
		Validation: append(invariantAssertions(), Assertion{
			Probe:     "granted_loans",
			Condition: func(v float64) bool { return v == 1 },
			Message:   "exactly one loan is granted for a single copy",
		}),
		Duration:       2 * time.Second,
		SampleInterval: 500 * time.Millisecond,
	}
}

// MemberLimitRace has one member ask for many loans at once.
func MemberLimitRace(t Target, concurrency int) Experiment {
	outcomes := newTally()
	limit := float64(t.MaxActiveLoans)
	return Experiment{
		Name:       "member-limit-race",
		Hypothesis: "Simultaneous loan requests from one member never push them past the active loan limit",
		SteadyState: append(invariantProbes(t),
			outcomes.probe("granted_loans", "OK", Threshold{Operator: "<=", Value: limit}),
		),
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "POST /loans",
			Execute: func(ctx context.Context) error {
				book, err := t.newBook(ctx, concurrency+t.MaxActiveLoans)
				if err != nil {
					return err
				}
				members, err := t.newMembers(ctx, 1)
				if err != nil {
					return err
				}
				fanOut(concurrency, func(int) {
					_, err := t.Loans.CreateLoan(ctx, book.ID, members[0])
					outcomes.add(err)
				})
				return nil
			},
		}},
		Validation: append(invariantAssertions(), Assertion{
			Probe:     "granted_loans",
			Condition: func(v float64) bool { return concurrency < t.MaxActiveLoans || v == limit },
			Message:   "the member ends with exactly the maximum number of loans",
		}),
		Duration:       2 * time.Second,
		SampleInterval: 500 * time.Millisecond,
	}
}

// DoubleReturn returns every loan twice at the same time.
func DoubleReturn(t Target, concurrency int) Experiment {
	outcomes := newTally()
	return Experiment{
		Name:       "double-return",
		Hypothesis: "A loan returned twice concurrently puts its copy back exactly once",
		SteadyState: append(invariantProbes(t),
			outcomes.probe("granted_returns", "OK", Threshold{Operator: "<=", Value: float64(concurrency)}),
		),
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "PATCH /loans/{id}/return",
			Execute: func(ctx context.Context) error {
				book, err := t.newBook(ctx, concurrency)
				if err != nil {
					return err
				}
				members, err := t.newMembers(ctx, concurrency)
				if err != nil {
					return err
				}
				loans := make([]uuid.UUID, 0, concurrency)
				for _, m := range members {
					loan, err := t.Loans.CreateLoan(ctx, book.ID, m)
					if err != nil {
						return fmt.Errorf("create loan: %w", err)
					}
					loans = append(loans, loan.ID)
				}
				fanOut(2*len(loans), func(i int) {
					_, err := t.Loans.ReturnLoan(ctx, loans[i/2])
					outcomes.add(err)
				})
				return nil
			},
		}},
		Validation: append(invariantAssertions(), Assertion{
			Probe:     "granted_returns",
			Condition: func(v float64) bool { return v == float64(concurrency) },
			Message:   "each loan is returned exactly once",
		}),
		Duration:       2 * time.Second,
		SampleInterval: 500 * time.Millisecond,
	}
}

// SweepDuringReturns runs overdue sweeps while loans are being returned.
func SweepDuringReturns(t Target, concurrency int) Experiment {
	outcomes := newTally()
	return Experiment{
		Name:        "sweep-during-returns",
		Hypothesis:  "The overdue sweeper never blocks or corrupts concurrent returns",
		SteadyState: invariantProbes(t),
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "PATCH /loans/update-overdue",
			Execute: func(ctx context.Context) error {
				book, err := t.newBook(ctx, concurrency)
				if err != nil {
					return err
				}
				members, err := t.newMembers(ctx, concurrency)
				if err != nil {
					return err
				}
				loans := make([]uuid.UUID, 0, concurrency)
				for _, m := range members {
					loan, err := t.Loans.CreateLoan(ctx, book.ID, m)
					if err != nil {
						return fmt.Errorf("create loan: %w", err)
					}
					loans = append(loans, loan.ID)
				}
				fanOut(2*len(loans), func(i int) {
					if i%2 == 0 {
						_, err := t.Loans.SweepOverdue(ctx)
						outcomes.add(err)
						return
					}
					_, err := t.Loans.ReturnLoan(ctx, loans[i/2])
					outcomes.add(err)
				})
				if n := outcomes.get("ERROR"); n > 0 {
					return fmt.Errorf("%d requests failed unexpectedly", n)
				}
				return nil
			},
		}},
		Validation:     invariantAssertions(),
		Duration:       2 * time.Second,
		SampleInterval: 500 * time.Millisecond,
	}
}

// ConnectionPoolPressure pins database connections while loans are created.
func ConnectionPoolPressure(t Target, concurrency int, hold time.Duration) Experiment {
	var (
		mu    sync.Mutex
		conns []*sql.Conn
	)
	release := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
		conns = nil
		return nil
	}

	return Experiment{
		Name:        "connection-pool-pressure",
		Hypothesis:  "Lending invariants hold while database connections are scarce",
		SteadyState: invariantProbes(t),
		Method: []Action{
			{
				Type:   "exhaust-connections",
				Target: "postgres",
				Execute: func(ctx context.Context) error {
					mu.Lock()
					defer mu.Unlock()
					for i := 0; i < concurrency; i++ {
						c, err := t.DB.Conn(ctx)
						if err != nil {
							break
						}
						conns = append(conns, c)
					}
					return nil
				},
			},
			{
				Type:   "concurrent-requests",
				Target: "POST /loans",
				Execute: func(ctx context.Context) error {
					book, err := t.newBook(ctx, concurrency)
					if err != nil {
						return err
					}
					members, err := t.newMembers(ctx, concurrency)
					if err != nil {
						return err
					}
					fanOut(concurrency, func(i int) {
						t.Loans.CreateLoan(ctx, book.ID, members[i])
					})
					select {
					case <-ctx.Done():
					case <-time.After(hold):
					}
					return nil
				},
			},
		},
		Rollback:       []Action{{Type: "release-connections", Target: "postgres", Execute: release}},
		Validation:     invariantAssertions(),
		Duration:       2 * time.Second,
		SampleInterval: 500 * time.Millisecond,
	}
}
