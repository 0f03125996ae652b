// internal/membership/implementation.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"libraryhub/internal/clock"
	"libraryhub/internal/database"
	"libraryhub/internal/eventstore"
	"libraryhub/pkg/web"
)

const memberColumns = `id, first_name, last_name, email, phone, address, membership_date, status, created_at, updated_at`

// Five login attempts per email per minute; registrations are counted per
// client address.
const (
	attemptInterval = time.Minute / 5
	attemptBurst    = 5

	registerInterval = time.Second / 10
	registerBurst    = 100
)

// service implements the Service interface.
type service struct {
	db           *sqlx.DB
	eventStore   *eventstore.EventStore
	tokens       *TokenIssuer
	clock        clock.Clock
	log          *zap.Logger
	loginLimiter *keyedLimiter
	regLimiter   *keyedLimiter
}

// NewService creates a new membership service instance.
func NewService(db *sqlx.DB, es *eventstore.EventStore, tokens *TokenIssuer, clk clock.Clock, log *zap.Logger) Service {
	return &service{
		db:           db,
		eventStore:   es,
		tokens:       tokens,
		clock:        clk,
		log:          log,
		loginLimiter: newKeyedLimiter(attemptInterval, attemptBurst),
		regLimiter:   newKeyedLimiter(registerInterval, registerBurst),
	}
}

func (s *service) record(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, eventType string, payload any) error {
	event, err := eventstore.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	if err := s.eventStore.AppendEvents(ctx, tx, id, aggregateMember, eventstore.AnyVersion, []eventstore.Event{event}); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// RegisterMember creates a new member and, when a password is given, its credentials.
func (s *service) RegisterMember(ctx context.Context, in MemberInput) (*Member, error) {
	today := clock.Today(s.clock)
	in.normalize(today)
	if err := in.validate(today, true); err != nil {
		return nil, err
	}
	if !s.regLimiter.Allow(clientIP(ctx)) {
		return nil, ErrRateLimited
	}

	var cred *Credential
	id := uuid.New()
	if in.Password != "" {
		hash, salt, err := hashPassword(in.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		cred = &Credential{MemberID: id, PasswordHash: hash, Salt: salt}
	}

	var member Member
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &member, `
			INSERT INTO members (id, first_name, last_name, email, phone, address, membership_date, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+memberColumns,
			id, in.FirstName, in.LastName, in.Email, in.Phone, in.Address, in.MembershipDate, in.Status)
		if err != nil {
			return translateMemberError(err)
		}

		if cred != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO credentials (member_id, password_hash, salt)
				VALUES ($1, $2, $3)
			`, cred.MemberID, cred.PasswordHash, cred.Salt); err != nil {
				return fmt.Errorf("failed to insert credentials: %w", err)
			}
		}

		return s.record(ctx, tx, id, "MemberRegistered", MemberRegisteredEvent{
			ID:    id,
			Email: member.Email,
			Name:  member.FirstName + " " + member.LastName,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Member registered", zap.String("member_id", id.String()))
	return &member, nil
}

// Login verifies a member's credentials and issues a bearer token.
func (s *service) Login(ctx context.Context, email, password string) (*Token, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !s.loginLimiter.Allow(email) {
		return nil, ErrRateLimited
	}

	member, err := s.GetMemberByEmail(ctx, email)
	if errors.Is(err, ErrMemberNotFound) {
		_, _ = checkPassword(password, dummyCredential)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	var cred Credential
	err = s.db.GetContext(ctx, &cred, `
		SELECT member_id, password_hash, salt
		FROM credentials
		WHERE member_id = $1
	`, member.ID)
	if errors.Is(err, sql.ErrNoRows) {
		_, _ = checkPassword(password, dummyCredential)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	ok, err := checkPassword(password, &cred)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		s.log.Warn("Login failed", zap.String("member_id", member.ID.String()))
		return nil, ErrInvalidCredentials
	}

	signed, expires, err := s.tokens.Issue(member)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expires, Member: member}, nil
}

// GetMember retrieves a member by their ID.
func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.getMemberWhere(ctx, "id = $1", id)
}

func (s *service) GetMemberByEmail(ctx context.Context, email string) (*Member, error) {
	return s.getMemberWhere(ctx, "email = $1", strings.ToLower(strings.TrimSpace(email)))
}

func (s *service) getMemberWhere(ctx context.Context, where string, arg any) (*Member, error) {
	var member Member
	err := s.db.GetContext(ctx, &member, `SELECT `+memberColumns+` FROM members WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &member, nil
}

// ListMembers pages through members by last name, optionally filtered by
// a name fragment and status.
func (s *service) ListMembers(ctx context.Context, filter MemberFilter, page web.PageRequest) (web.Page[Member], error) {
	ds := database.Dialect.From("members").
		Select("id", "first_name", "last_name", "email", "phone", "address", "membership_date", "status", "created_at", "updated_at").
		Order(goqu.C("last_name").Asc(), goqu.C("first_name").Asc(), goqu.C("id").Asc())

	if name := strings.TrimSpace(filter.Name); name != "" {
		pattern := "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(name) + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("first_name").ILike(pattern),
			goqu.C("last_name").ILike(pattern),
			goqu.C("email").ILike(pattern),
		))
	}
	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(filter.Status)))
	}

	var members []Member
	total, err := database.SelectPage(ctx, s.db, ds, &members, page.Limit(), page.Offset())
	if err != nil {
		return web.Page[Member]{}, fmt.Errorf("failed to list members: %w", err)
	}
	return web.NewPage(members, page, total), nil
}

// UpdateMember replaces a member's profile, status included.
func (s *service) UpdateMember(ctx context.Context, id uuid.UUID, in MemberInput) (*Member, error) {
	today := clock.Today(s.clock)
	in.normalize(today)
	if err := in.validate(today, false); err != nil {
		return nil, err
	}

	var member Member
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &member, `
			UPDATE members
			SET first_name = $2, last_name = $3, email = $4, phone = $5, address = $6,
			    membership_date = $7, status = $8, updated_at = NOW()
			WHERE id = $1
			RETURNING `+memberColumns,
			id, in.FirstName, in.LastName, in.Email, in.Phone, in.Address, in.MembershipDate, in.Status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMemberNotFound
		}
		if err != nil {
			return translateMemberError(err)
		}
		return s.record(ctx, tx, id, "MemberUpdated", MemberUpdatedEvent{ID: id, Email: member.Email})
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// UpdateStatus changes only the member's status. Loan creation locks the
// member row, so a suspension serialises with in-flight loan requests.
func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Member, error) {
	status, err := ParseStatus(string(status))
	if err != nil {
		return nil, err
	}

	var member Member
	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var old Status
		err := tx.GetContext(ctx, &old, `SELECT status FROM members WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMemberNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock member: %w", err)
		}

		if err := tx.GetContext(ctx, &member, `
			UPDATE members SET status = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING `+memberColumns, id, status); err != nil {
			return fmt.Errorf("failed to update member status: %w", err)
		}
		return s.record(ctx, tx, id, "MemberStatusChanged", MemberStatusChangedEvent{
			ID: id, OldStatus: old, NewStatus: status,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Member status changed", zap.String("member_id", id.String()), zap.String("status", string(status)))
	return &member, nil
}

// DeleteMember removes a member that no loan references.
func (s *service) DeleteMember(ctx context.Context, id uuid.UUID) error {
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM members WHERE id = $1`, id)
		if err != nil {
			if database.IsForeignKeyViolation(err) {
				return ErrMemberHasLoans
			}
			return fmt.Errorf("failed to delete member: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrMemberNotFound
		}
		return s.record(ctx, tx, id, "MemberDeleted", MemberDeletedEvent{ID: id})
	})
	if err != nil {
		return err
	}

	s.log.Info("Member deleted", zap.String("member_id", id.String()))
	return nil
}

func translateMemberError(err error) error {
	if database.IsUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return fmt.Errorf("failed to write member: %w", err)
}
