package membership

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"libraryhub/internal/clock"
	"libraryhub/internal/database"
	"libraryhub/internal/eventstore"
	"libraryhub/pkg/web"
)

func newTestService(t *testing.T) (Service, *TokenIssuer) {
	t.Helper()
	db := database.NewTestDB(t)
	clk := clock.NewFixed(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	tokens := NewTokenIssuer("test-secret", clk)
	return NewService(db, eventstore.NewEventStore(db), tokens, clk, zap.NewNop()), tokens
}

func TestRegisterAndLogin(t *testing.T) {
	svc, tokens := newTestService(t)
	ctx := context.Background()

	member, err := svc.RegisterMember(ctx, MemberInput{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "Ada@Example.com",
		Password:  "analytical-engine",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", member.Email)
	assert.Equal(t, StatusActive, member.Status)
	assert.Equal(t, "2026-03-10", member.MembershipDate.Format(web.DateLayout))

	token, err := svc.Login(ctx, "ADA@example.com", "analytical-engine")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.TokenType)
	id, err := tokens.Parse(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, member.ID, id)

	_, err = svc.Login(ctx, "ada@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "analytical-engine")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.RegisterMember(ctx, MemberInput{FirstName: "A", LastName: "L", Email: "ada@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestLoginWithoutPasswordIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterMember(ctx, MemberInput{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, "grace@example.com", "anything-at-all")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegistrationIsRateLimitedPerClient(t *testing.T) {
	svc, _ := newTestService(t)
	svc.(*service).regLimiter = newKeyedLimiter(time.Hour, 2)
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	for i := 0; i < 2; i++ {
		_, err := svc.RegisterMember(ctx, MemberInput{FirstName: "Bot", LastName: "Net", Email: fmt.Sprintf("bot%d@example.com", i)})
		require.NoError(t, err)
	}
	_, err := svc.RegisterMember(ctx, MemberInput{FirstName: "Bot", LastName: "Net", Email: "bot-fresh@example.com"})
	assert.ErrorIs(t, err, ErrRateLimited)

	other := WithClientIP(context.Background(), "198.51.100.4")
	_, err = svc.RegisterMember(other, MemberInput{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
	assert.NoError(t, err)
}

func TestLoginDerivesKeyForUnknownMembers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var calls []*Credential
	orig := checkPassword
	checkPassword = func(password string, cred *Credential) (bool, error) {
		calls = append(calls, cred)
		return orig(password, cred)
	}
	t.Cleanup(func() { checkPassword = orig })

	_, err := svc.Login(ctx, "nobody@example.com", "guess")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.RegisterMember(ctx, MemberInput{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"})
	require.NoError(t, err)
	_, err = svc.Login(ctx, "grace@example.com", "guess")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.Len(t, calls, 2)
	assert.Same(t, dummyCredential, calls[0])
	assert.Same(t, dummyCredential, calls[1])
}

func TestLoginIsRateLimited(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var err error
	for i := 0; i <= attemptBurst; i++ {
		_, err = svc.Login(ctx, "mallory@example.com", "guess")
	}
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestUpdateStatusAndList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ada, err := svc.RegisterMember(ctx, MemberInput{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
	require.NoError(t, err)
	_, err = svc.RegisterMember(ctx, MemberInput{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"})
	require.NoError(t, err)

	suspended, err := svc.UpdateStatus(ctx, ada.ID, "suspended")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, suspended.Status)

	_, err = svc.UpdateStatus(ctx, uuid.New(), StatusActive)
	assert.ErrorIs(t, err, ErrMemberNotFound)

	page, err := svc.ListMembers(ctx, MemberFilter{Status: StatusSuspended}, web.PageRequest{Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ada.ID, page.Items[0].ID)

	page, err = svc.ListMembers(ctx, MemberFilter{Name: "hop"}, web.PageRequest{Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Grace", page.Items[0].FirstName)
}

func TestUpdateAndDeleteMember(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ada, err := svc.RegisterMember(ctx, MemberInput{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
	require.NoError(t, err)
	_, err = svc.RegisterMember(ctx, MemberInput{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"})
	require.NoError(t, err)

	updated, err := svc.UpdateMember(ctx, ada.ID, MemberInput{
		FirstName: "Ada", LastName: "King", Email: "ada@example.com", Status: StatusExpired,
	})
	require.NoError(t, err)
	assert.Equal(t, "King", updated.LastName)
	assert.Equal(t, StatusExpired, updated.Status)

	_, err = svc.UpdateMember(ctx, ada.ID, MemberInput{FirstName: "Ada", LastName: "King", Email: "grace@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	require.NoError(t, svc.DeleteMember(ctx, ada.ID))
	_, err = svc.GetMember(ctx, ada.ID)
	assert.ErrorIs(t, err, ErrMemberNotFound)
	assert.ErrorIs(t, svc.DeleteMember(ctx, ada.ID), ErrMemberNotFound)
}
