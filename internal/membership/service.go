// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"

	"libraryhub/pkg/web"
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterMember(ctx context.Context, in MemberInput) (*Member, error)
	Login(ctx context.Context, email, password string) (*Token, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	GetMemberByEmail(ctx context.Context, email string) (*Member, error)
	ListMembers(ctx context.Context, filter MemberFilter, page web.PageRequest) (web.Page[Member], error)
	UpdateMember(ctx context.Context, id uuid.UUID, in MemberInput) (*Member, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Member, error)
	DeleteMember(ctx context.Context, id uuid.UUID) error
}
