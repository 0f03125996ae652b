// internal/membership/domain.go
package membership

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"libraryhub/pkg/apperr"
	"libraryhub/pkg/web"
)

const aggregateMember = "member"

// Status gates borrowing: only ACTIVE members may open new loans.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusExpired   Status = "EXPIRED"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusActive, StatusSuspended, StatusExpired:
		return st, nil
	}
	return "", apperr.Invalid("status must be one of ACTIVE, SUSPENDED, EXPIRED")
}

var (
	ErrMemberNotFound     = apperr.NotFound("MEMBER_NOT_FOUND", "member not found")
	ErrDuplicateEmail     = apperr.Conflict("DUPLICATE_EMAIL", "a member with this email already exists")
	ErrMemberHasLoans     = apperr.Conflict("MEMBER_HAS_LOANS", "member is referenced by loans")
	ErrInvalidCredentials = apperr.Unauthorized("INVALID_CREDENTIALS", "invalid email or password")
	ErrRateLimited        = apperr.RateLimited("RATE_LIMITED", "too many attempts, try again later")
)

// Member represents a library member.
type Member struct {
	ID             uuid.UUID `db:"id" json:"id"`
	FirstName      string    `db:"first_name" json:"firstName"`
	LastName       string    `db:"last_name" json:"lastName"`
	Email          string    `db:"email" json:"email"`
	Phone          string    `db:"phone" json:"phone,omitempty"`
	Address        string    `db:"address" json:"address,omitempty"`
	MembershipDate web.Date  `db:"membership_date" json:"membershipDate"`
	Status         Status    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Credential represents a member's login credentials.
type Credential struct {
	MemberID     uuid.UUID `db:"member_id"`
	PasswordHash string    `db:"password_hash"`
	Salt         string    `db:"salt"`
}

// MemberInput is the writable part of a member. Password is only read on
// registration; a member registered without one cannot log in.
type MemberInput struct {
	FirstName      string   `json:"firstName" validate:"notblank,max=100"`
	LastName       string   `json:"lastName" validate:"notblank,max=100"`
	Email          string   `json:"email" validate:"notblank,max=150,email"`
	Phone          string   `json:"phone" validate:"omitempty,max=20,phone"`
	Address        string   `json:"address" validate:"max=200"`
	MembershipDate web.Date `json:"membershipDate" validate:"notfuture"`
	Status         Status   `json:"status"`
	Password       string   `json:"password,omitempty"`
}

// MemberFilter narrows member listings; zero values match everything.
type MemberFilter struct {
	Name   string
	Status Status
}

// Token is the result of a successful login.
type Token struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Member      *Member   `json:"member"`
}

// MemberRegisteredEvent is recorded when a new member registers.
type MemberRegisteredEvent struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
}

type MemberUpdatedEvent struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// MemberStatusChangedEvent is recorded when a member's status changes.
type MemberStatusChangedEvent struct {
	ID        uuid.UUID `json:"id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
}

type MemberDeletedEvent struct {
	ID uuid.UUID `json:"id"`
}
