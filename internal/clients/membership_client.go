// internal/clients/membership_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"libraryhub/internal/membership"
)

type MembershipClient struct {
	base
}

func NewMembershipClient(baseURL string, hc *http.Client) *MembershipClient {
	return &MembershipClient{base: newBase(baseURL, hc)}
}

func (c *MembershipClient) RegisterMember(ctx context.Context, in membership.MemberInput) (*membership.Member, error) {
	var member membership.Member
	if err := c.do(ctx, http.MethodPost, "/members", in, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *MembershipClient) GetMember(ctx context.Context, id uuid.UUID) (*membership.Member, error) {
	var member membership.Member
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/members/%s", id), nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *MembershipClient) UpdateStatus(ctx context.Context, id uuid.UUID, status membership.Status) (*membership.Member, error) {
	req := struct {
		Status membership.Status `json:"status"`
	}{Status: status}

	var member membership.Member
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/members/%s/status", id), req, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// Login returns a bearer token; pass it on with WithToken.
func (c *MembershipClient) Login(ctx context.Context, email, password string) (*membership.Token, error) {
	req := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: email, Password: password}

	var token membership.Token
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &token); err != nil {
		return nil, err
	}
	return &token, nil
}
