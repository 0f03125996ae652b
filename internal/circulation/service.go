// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"libraryhub/internal/eventstore"
	"libraryhub/pkg/web"
)

// Service defines the interface for the circulation service.
type Service interface {
	CreateLoan(ctx context.Context, in CreateLoanInput) (*LoanDetails, error)
	ReturnLoan(ctx context.Context, id uuid.UUID) (*LoanDetails, error)
	UpdateLoan(ctx context.Context, id uuid.UUID, in UpdateLoanInput) (*LoanDetails, error)
	DeleteLoan(ctx context.Context, id uuid.UUID) error
	AgeCheck(ctx context.Context) (*SweepResult, error)

	GetLoan(ctx context.Context, id uuid.UUID) (*LoanDetails, error)
	ListLoans(ctx context.Context, filter LoanFilter, page web.PageRequest) (web.Page[LoanDetails], error)
	History(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error)
	CanBorrow(ctx context.Context, memberID uuid.UUID) (*Decision, error)
}
