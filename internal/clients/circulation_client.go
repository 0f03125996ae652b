// internal/clients/circulation_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"libraryhub/internal/circulation"
	"libraryhub/pkg/web"
)

type CirculationClient struct {
	base
}

func NewCirculationClient(baseURL string, hc *http.Client) *CirculationClient {
	return &CirculationClient{base: newBase(baseURL, hc)}
}

func (c *CirculationClient) CreateLoan(ctx context.Context, bookID, memberID uuid.UUID) (*circulation.LoanDetails, error) {
	var loan circulation.LoanDetails
	in := circulation.CreateLoanInput{BookID: bookID, MemberID: memberID}
	if err := c.do(ctx, http.MethodPost, "/loans", in, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *CirculationClient) ReturnLoan(ctx context.Context, id uuid.UUID) (*circulation.LoanDetails, error) {
	var loan circulation.LoanDetails
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/loans/%s/return", id), nil, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *CirculationClient) GetLoan(ctx context.Context, id uuid.UUID) (*circulation.LoanDetails, error) {
	var loan circulation.LoanDetails
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/loans/%s", id), nil, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

// SweepOverdue triggers the server-side overdue sweep.
func (c *CirculationClient) SweepOverdue(ctx context.Context) (*circulation.SweepResult, error) {
	var result circulation.SweepResult
	if err := c.do(ctx, http.MethodPatch, "/loans/update-overdue", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *CirculationClient) MemberLoans(ctx context.Context, memberID uuid.UUID, page, size int) (web.Page[circulation.LoanDetails], error) {
	var out web.Page[circulation.LoanDetails]
	path := fmt.Sprintf("/loans/member/%s?page=%d&size=%d", memberID, page, size)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return out, err
	}
	return out, nil
}
