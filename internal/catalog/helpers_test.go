package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"libraryhub/internal/clock"
	"libraryhub/internal/database"
	"libraryhub/internal/eventstore"
	"libraryhub/pkg/web"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (Service, *sqlx.DB) {
	t.Helper()
	db := database.NewTestDB(t)
	svc := NewService(db, eventstore.NewEventStore(db), clock.NewFixed(testNow), zap.NewNop())
	return svc, db
}

func mustAuthor(t *testing.T, svc Service, first, last string) *Author {
	t.Helper()
	a, err := svc.CreateAuthor(context.Background(), AuthorInput{FirstName: first, LastName: last})
	require.NoError(t, err)
	return a
}

func mustBook(t *testing.T, svc Service, authorID uuid.UUID, isbn, title string, copies int) *BookDetails {
	t.Helper()
	b, err := svc.CreateBook(context.Background(), bookInput(authorID, isbn, title, copies))
	require.NoError(t, err)
	return b
}

func bookInput(authorID uuid.UUID, isbn, title string, copies int) BookInput {
	return BookInput{
		ISBN:            isbn,
		Title:           title,
		PublicationDate: web.NewDate(time.Date(1965, 8, 1, 0, 0, 0, 0, time.UTC)),
		TotalCopies:     copies,
		AuthorID:        authorID,
	}
}

func intPtr(n int) *int { return &n }
