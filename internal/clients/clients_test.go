package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/internal/circulation"
	"libraryhub/pkg/apperr"
)

func TestCreateLoanDecodesResponse(t *testing.T) {
	loanID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/loans", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in circulation.CreateLoanInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.NotEqual(t, uuid.Nil, in.BookID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"` + loanID.String() + `","status":"ACTIVE","loanDate":"2026-03-10","dueDate":"2026-03-24","returnDate":null}`))
	}))
	defer srv.Close()

	c := NewCirculationClient(srv.URL+"/", nil)
	loan, err := c.CreateLoan(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, loanID, loan.ID)
	assert.Equal(t, circulation.StatusActive, loan.Status)
	assert.Equal(t, "2026-03-24", loan.DueDate.Format("2006-01-02"))
	assert.True(t, loan.ReturnDate.IsZero())
}

func TestErrorEnvelopeMatchesSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"BOOK_UNAVAILABLE","message":"no copies of this book are available"}}`))
	}))
	defer srv.Close()

	_, err := NewCirculationClient(srv.URL, nil).CreateLoan(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, circulation.ErrBookUnavailable))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestUnexpectedStatusWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewCatalogClient(srv.URL, nil).GetBook(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestWithTokenSetsBearer(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"id":"` + uuid.NewString() + `","status":"ACTIVE"}`))
	}))
	defer srv.Close()

	ctx := WithToken(context.Background(), "abc")
	_, err := NewMembershipClient(srv.URL, nil).GetMember(ctx, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", got)
}
