// internal/catalog/implementation.go
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
	"libraryhub/internal/eventstore"
	"libraryhub/pkg/web"
)

// service implements the Service interface.
type service struct {
	db         *sqlx.DB
	eventStore *eventstore.EventStore
	clock      clock.Clock
	log        *zap.Logger
}

// NewService creates a new catalog service instance.
func NewService(db *sqlx.DB, es *eventstore.EventStore, clk clock.Clock, log *zap.Logger) Service {
	return &service{
		db:         db,
		eventStore: es,
		clock:      clk,
		log:        log,
	}
}

// record appends one event for a catalog aggregate inside tx.
func (s *service) record(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, aggregateType, eventType string, payload any) error {
	event, err := eventstore.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	if err := s.eventStore.AppendEvents(ctx, tx, id, aggregateType, eventstore.AnyVersion, []eventstore.Event{event}); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// likePattern escapes LIKE wildcards in user input and wraps it for a substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(s)) + "%"
}

const qualifiedBookColumns = `b.id, b.isbn, b.title, b.description, b.publication_date, b.total_copies,
	b.available_copies, b.author_id, b.version, b.created_at, b.updated_at`

type bookRow struct {
	Book
	Author AuthorSummary `db:"author"`
}

// CreateBook adds a title with all of its copies on the shelf unless
// availableCopies says otherwise.
func (s *service) CreateBook(ctx context.Context, in BookInput) (*BookDetails, error) {
	if err := in.validate(clock.Today(s.clock)); err != nil {
		return nil, err
	}

	book := Book{
		ID:              uuid.New(),
		ISBN:            strings.TrimSpace(in.ISBN),
		Title:           strings.TrimSpace(in.Title),
		Description:     in.Description,
		PublicationDate: in.PublicationDate,
		TotalCopies:     in.TotalCopies,
		AvailableCopies: in.TotalCopies,
		AuthorID:        in.AuthorID,
	}
	if in.AvailableCopies != nil {
		book.AvailableCopies = *in.AvailableCopies
	}

	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := authorSummary(ctx, tx, in.AuthorID); err != nil {
			return err
		}
		if err := ensureCategories(ctx, tx, in.CategoryIDs); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO books (id, isbn, title, description, publication_date, total_copies, available_copies, author_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, book.ID, book.ISBN, book.Title, book.Description, book.PublicationDate, book.TotalCopies, book.AvailableCopies, book.AuthorID)
		if err != nil {
			return translateBookError(err)
		}

		if err := setBookCategories(ctx, tx, book.ID, in.CategoryIDs); err != nil {
			return err
		}
		return s.record(ctx, tx, book.ID, aggregateBook, "BookCreated", BookChangedEvent{
			ID:              book.ID,
			ISBN:            book.ISBN,
			Title:           book.Title,
			TotalCopies:     book.TotalCopies,
			AvailableCopies: book.AvailableCopies,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Book created", zap.String("book_id", book.ID.String()), zap.String("isbn", book.ISBN))
	return s.GetBook(ctx, book.ID)
}

// GetBook returns a book with its author and categories.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*BookDetails, error) {
	return s.getBookWhere(ctx, "b.id = $1", id)
}

func (s *service) GetBookByISBN(ctx context.Context, isbn string) (*BookDetails, error) {
	return s.getBookWhere(ctx, "b.isbn = $1", strings.TrimSpace(isbn))
}

func (s *service) getBookWhere(ctx context.Context, where string, arg any) (*BookDetails, error) {
	var row bookRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+qualifiedBookColumns+`,
		       a.id AS "author.id", a.first_name AS "author.first_name", a.last_name AS "author.last_name"
		FROM books b
		JOIN authors a ON a.id = b.author_id
		WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	categories := []CategorySummary{}
	if err := s.db.SelectContext(ctx, &categories, `
		SELECT c.id, c.name
		FROM categories c
		JOIN book_categories bc ON bc.category_id = c.id
		WHERE bc.book_id = $1
		ORDER BY c.name
	`, row.ID); err != nil {
		return nil, fmt.Errorf("failed to get book categories: %w", err)
	}

	details := &BookDetails{
		Book:        row.Book,
		Author:      row.Author,
		CategoryIDs: make([]uuid.UUID, 0, len(categories)),
		Categories:  categories,
	}
	for _, c := range categories {
		details.CategoryIDs = append(details.CategoryIDs, c.ID)
	}
	return details, nil
}

// ListBooks pages through books matching filter, ordered by title.
func (s *service) ListBooks(ctx context.Context, filter BookFilter, page web.PageRequest) (web.Page[Book], error) {
	ds := database.Dialect.
		From(goqu.T("books").As("b")).
		Join(goqu.T("authors").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("b.author_id")))).
		Select(
			goqu.I("b.id"), goqu.I("b.isbn"), goqu.I("b.title"), goqu.I("b.description"),
			goqu.I("b.publication_date"), goqu.I("b.total_copies"), goqu.I("b.available_copies"),
			goqu.I("b.author_id"), goqu.I("b.version"), goqu.I("b.created_at"), goqu.I("b.updated_at"),
		).
		Order(goqu.I("b.title").Asc(), goqu.I("b.id").Asc())

	if kw := strings.TrimSpace(filter.Keyword); kw != "" {
		pattern := likePattern(kw)
		ds = ds.Where(goqu.Or(
			goqu.I("b.title").ILike(pattern),
			goqu.I("b.description").ILike(pattern),
			goqu.I("a.first_name").ILike(pattern),
			goqu.I("a.last_name").ILike(pattern),
		))
	}
	if filter.AvailableOnly {
		ds = ds.Where(goqu.I("b.available_copies").Gt(0))
	}
	if filter.AuthorID != nil {
		ds = ds.Where(goqu.I("b.author_id").Eq(filter.AuthorID.String()))
	}
	if filter.CategoryID != nil {
		ds = ds.Where(goqu.I("b.id").In(
			database.Dialect.From("book_categories").
				Select("book_id").
				Where(goqu.C("category_id").Eq(filter.CategoryID.String())),
		))
	}

	var books []Book
	total, err := database.SelectPage(ctx, s.db, ds, &books, page.Limit(), page.Offset())
	if err != nil {
		return web.Page[Book]{}, fmt.Errorf("failed to list books: %w", err)
	}
	return web.NewPage(books, page, total), nil
}

// UpdateBook replaces a book's fields. When availableCopies is omitted the
// available count moves with totalCopies, so copies out on loan stay out.
func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, in BookInput) (*BookDetails, error) {
	if err := in.validate(clock.Today(s.clock)); err != nil {
		return nil, err
	}

	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		current, err := LockBook(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := authorSummary(ctx, tx, in.AuthorID); err != nil {
			return err
		}

		base, delta := current.AvailableCopies, in.TotalCopies-current.TotalCopies
		if in.AvailableCopies != nil {
			base, delta = *in.AvailableCopies, 0
		}
		available, err := nextAvailable(base, in.TotalCopies, delta)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE books
			SET isbn = $2, title = $3, description = $4, publication_date = $5,
			    total_copies = $6, available_copies = $7, author_id = $8,
			    version = version + 1, updated_at = NOW()
			WHERE id = $1
		`, id, strings.TrimSpace(in.ISBN), strings.TrimSpace(in.Title), in.Description, in.PublicationDate,
			in.TotalCopies, available, in.AuthorID)
		if err != nil {
			return translateBookError(err)
		}

		if in.CategoryIDs != nil {
			if err := ensureCategories(ctx, tx, in.CategoryIDs); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM book_categories WHERE book_id = $1`, id); err != nil {
				return fmt.Errorf("failed to clear book categories: %w", err)
			}
			if err := setBookCategories(ctx, tx, id, in.CategoryIDs); err != nil {
				return err
			}
		}

		return s.record(ctx, tx, id, aggregateBook, "BookUpdated", BookChangedEvent{
			ID:              id,
			ISBN:            in.ISBN,
			Title:           in.Title,
			TotalCopies:     in.TotalCopies,
			AvailableCopies: available,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Book updated", zap.String("book_id", id.String()))
	return s.GetBook(ctx, id)
}

// DeleteBook removes a book that no loan references.
func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
		if err != nil {
			if database.IsForeignKeyViolation(err) {
				return ErrBookHasLoans
			}
			return fmt.Errorf("failed to delete book: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrBookNotFound
		}
		return s.record(ctx, tx, id, aggregateBook, "BookDeleted", DeletedEvent{ID: id})
	})
	if err != nil {
		return err
	}

	s.log.Info("Book deleted", zap.String("book_id", id.String()))
	return nil
}

// AdjustCopies is the administrative entry to the Copy-Count Ledger.
func (s *service) AdjustCopies(ctx context.Context, id uuid.UUID, delta int) (*Book, error) {
	if delta == 0 {
		return nil, ErrInvalidCopyCount.WithMessage("delta must not be zero")
	}

	var book *Book
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		if book, err = AdjustCopies(ctx, tx, id, delta); err != nil {
			return err
		}
		return s.record(ctx, tx, id, aggregateBook, "BookCopiesAdjusted", BookCopiesAdjustedEvent{
			ID:           id,
			Delta:        delta,
			NewAvailable: book.AvailableCopies,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Book copies adjusted",
		zap.String("book_id", id.String()),
		zap.Int("delta", delta),
		zap.Int("available", book.AvailableCopies),
	)
	return book, nil
}

func translateBookError(err error) error {
	v, ok := database.AsConstraintViolation(err)
	if !ok {
		return fmt.Errorf("failed to write book: %w", err)
	}
	switch v.Constraint {
	case "books_isbn_key":
		return ErrDuplicateISBN
	case "books_available_copies_check":
		return ErrInvalidCopyCount
	case "books_author_id_fkey":
		return ErrAuthorNotFound
	}
	return fmt.Errorf("failed to write book: %w", err)
}

// ensureCategories fails with CATEGORY_NOT_FOUND unless every id exists.
func ensureCategories(ctx context.Context, q sqlx.QueryerContext, ids []uuid.UUID) error {
	unique := uniqueIDs(ids)
	if len(unique) == 0 {
		return nil
	}

	ds := database.Dialect.From("categories").
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C("id").In(unique))
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build category query: %w", err)
	}

	var found int
	if err := sqlx.GetContext(ctx, q, &found, query, args...); err != nil {
		return fmt.Errorf("failed to check categories: %w", err)
	}
	if found != len(unique) {
		return ErrCategoryNotFound.WithMessage("one or more categories not found")
	}
	return nil
}

func setBookCategories(ctx context.Context, tx *sqlx.Tx, bookID uuid.UUID, ids []uuid.UUID) error {
	for _, id := range uniqueIDs(ids) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO book_categories (book_id, category_id) VALUES ($1, $2)
		`, bookID, id); err != nil {
			return fmt.Errorf("failed to link category: %w", err)
		}
	}
	return nil
}

// uniqueIDs returns ids as strings without duplicates, preserving order.
func uniqueIDs(ids []uuid.UUID) []string {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id.String())
		}
	}
	return out
}
