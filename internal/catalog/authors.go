// internal/catalog/authors.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"libraryhub/internal/clock"
	"libraryhub/internal/database"
	"libraryhub/pkg/web"
)

const authorColumns = `id, first_name, last_name, nationality, birth_date, biography, created_at, updated_at`

func (s *service) CreateAuthor(ctx context.Context, in AuthorInput) (*Author, error) {
	if err := in.validate(clock.Today(s.clock)); err != nil {
		return nil, err
	}

	var author Author
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &author, `
			INSERT INTO authors (id, first_name, last_name, nationality, birth_date, biography)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+authorColumns,
			uuid.New(), strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName), in.Nationality, in.BirthDate, in.Biography)
		if err != nil {
			return fmt.Errorf("failed to insert author: %w", err)
		}
		return s.record(ctx, tx, author.ID, aggregateAuthor, "AuthorCreated", AuthorChangedEvent{
			ID: author.ID, FirstName: author.FirstName, LastName: author.LastName,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Author created", zap.String("author_id", author.ID.String()))
	return &author, nil
}

func (s *service) GetAuthor(ctx context.Context, id uuid.UUID) (*Author, error) {
	var author Author
	err := s.db.GetContext(ctx, &author, `SELECT `+authorColumns+` FROM authors WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAuthorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get author: %w", err)
	}
	return &author, nil
}

// GetAuthorWithBooks returns the author and their books ordered by title.
func (s *service) GetAuthorWithBooks(ctx context.Context, id uuid.UUID) (*AuthorWithBooks, error) {
	author, err := s.GetAuthor(ctx, id)
	if err != nil {
		return nil, err
	}

	books := []BookSummary{}
	if err := s.db.SelectContext(ctx, &books, `
		SELECT id, title, isbn, publication_date
		FROM books
		WHERE author_id = $1
		ORDER BY title
	`, id); err != nil {
		return nil, fmt.Errorf("failed to get author books: %w", err)
	}
	return &AuthorWithBooks{Author: *author, Books: books}, nil
}

// ListAuthors pages through authors whose first or last name contains
// filter.Name, optionally restricted to one nationality (case-insensitive).
func (s *service) ListAuthors(ctx context.Context, filter AuthorFilter, page web.PageRequest) (web.Page[Author], error) {
	ds := database.Dialect.From("authors").
		Select("id", "first_name", "last_name", "nationality", "birth_date", "biography", "created_at", "updated_at").
		Order(goqu.C("last_name").Asc(), goqu.C("first_name").Asc(), goqu.C("id").Asc())

	if name := strings.TrimSpace(filter.Name); name != "" {
		pattern := likePattern(name)
		ds = ds.Where(goqu.Or(
			goqu.C("first_name").ILike(pattern),
			goqu.C("last_name").ILike(pattern),
		))
	}
	if nationality := strings.TrimSpace(filter.Nationality); nationality != "" {
		ds = ds.Where(goqu.Func("LOWER", goqu.C("nationality")).Eq(strings.ToLower(nationality)))
	}

	var authors []Author
	total, err := database.SelectPage(ctx, s.db, ds, &authors, page.Limit(), page.Offset())
	if err != nil {
		return web.Page[Author]{}, fmt.Errorf("failed to list authors: %w", err)
	}
	return web.NewPage(authors, page, total), nil
}

func (s *service) UpdateAuthor(ctx context.Context, id uuid.UUID, in AuthorInput) (*Author, error) {
	if err := in.validate(clock.Today(s.clock)); err != nil {
		return nil, err
	}

	var author Author
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &author, `
			UPDATE authors
			SET first_name = $2, last_name = $3, nationality = $4, birth_date = $5, biography = $6, updated_at = NOW()
			WHERE id = $1
			RETURNING `+authorColumns,
			id, strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName), in.Nationality, in.BirthDate, in.Biography)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAuthorNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to update author: %w", err)
		}
		return s.record(ctx, tx, id, aggregateAuthor, "AuthorUpdated", AuthorChangedEvent{
			ID: id, FirstName: author.FirstName, LastName: author.LastName,
		})
	})
	if err != nil {
		return nil, err
	}
	return &author, nil
}

// DeleteAuthor removes an author who has no books.
func (s *service) DeleteAuthor(ctx context.Context, id uuid.UUID) error {
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM authors WHERE id = $1`, id)
		if err != nil {
			if database.IsForeignKeyViolation(err) {
				return ErrAuthorHasBooks
			}
			return fmt.Errorf("failed to delete author: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrAuthorNotFound
		}
		return s.record(ctx, tx, id, aggregateAuthor, "AuthorDeleted", DeletedEvent{ID: id})
	})
	if err != nil {
		return err
	}

	s.log.Info("Author deleted", zap.String("author_id", id.String()))
	return nil
}

func authorSummary(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*AuthorSummary, error) {
	var a AuthorSummary
	err := sqlx.GetContext(ctx, q, &a, `SELECT id, first_name, last_name FROM authors WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAuthorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get author: %w", err)
	}
	return &a, nil
}
