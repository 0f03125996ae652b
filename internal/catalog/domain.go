// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"

	"libraryhub/pkg/apperr"
	"libraryhub/pkg/web"
)

// Aggregate types recorded in the event store.
const (
	aggregateAuthor   = "author"
	aggregateCategory = "category"
	aggregateBook     = "book"
)

var (
	ErrBookNotFound     = apperr.NotFound("BOOK_NOT_FOUND", "book not found")
	ErrAuthorNotFound   = apperr.NotFound("AUTHOR_NOT_FOUND", "author not found")
	ErrCategoryNotFound = apperr.NotFound("CATEGORY_NOT_FOUND", "category not found")
	ErrInvalidCopyCount = apperr.Conflict("INVALID_COPY_COUNT", "available copies must stay between 0 and total copies")
	ErrDuplicateISBN    = apperr.Conflict("DUPLICATE_ISBN", "a book with this ISBN already exists")
	ErrDuplicateName    = apperr.Conflict("DUPLICATE_CATEGORY", "a category with this name already exists")
	ErrAuthorHasBooks   = apperr.Conflict("AUTHOR_HAS_BOOKS", "author is referenced by books")
	ErrBookHasLoans     = apperr.Conflict("BOOK_HAS_LOANS", "book is referenced by loans")
)

// Author writes books.
type Author struct {
	ID          uuid.UUID `db:"id" json:"id"`
	FirstName   string    `db:"first_name" json:"firstName"`
	LastName    string    `db:"last_name" json:"lastName"`
	Nationality string    `db:"nationality" json:"nationality,omitempty"`
	BirthDate   web.Date  `db:"birth_date" json:"birthDate"`
	Biography   string    `db:"biography" json:"biography,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// AuthorWithBooks is an author plus summaries of the books they wrote.
type AuthorWithBooks struct {
	Author
	Books []BookSummary `json:"books"`
}

// Category groups books; names are unique ignoring case.
type Category struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Book is a title held by the library. AvailableCopies is the Copy-Count
// Ledger: 0 <= AvailableCopies <= TotalCopies at all times.
type Book struct {
	ID              uuid.UUID `db:"id" json:"id"`
	ISBN            string    `db:"isbn" json:"isbn"`
	Title           string    `db:"title" json:"title"`
	Description     string    `db:"description" json:"description,omitempty"`
	PublicationDate web.Date  `db:"publication_date" json:"publicationDate"`
	TotalCopies     int       `db:"total_copies" json:"totalCopies"`
	AvailableCopies int       `db:"available_copies" json:"availableCopies"`
	AuthorID        uuid.UUID `db:"author_id" json:"authorId"`
	Version         int       `db:"version" json:"version"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// BookDetails is a book with its author and categories resolved.
type BookDetails struct {
	Book
	Author      AuthorSummary     `json:"author"`
	CategoryIDs []uuid.UUID       `json:"categoryIds"`
	Categories  []CategorySummary `json:"categories"`
}

type AuthorSummary struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FirstName string    `db:"first_name" json:"firstName"`
	LastName  string    `db:"last_name" json:"lastName"`
}

type CategorySummary struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Name string    `db:"name" json:"name"`
}

type BookSummary struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Title           string    `db:"title" json:"title"`
	ISBN            string    `db:"isbn" json:"isbn"`
	PublicationDate web.Date  `db:"publication_date" json:"publicationDate"`
}

// AuthorInput is the writable part of an author.
type AuthorInput struct {
	FirstName   string   `json:"firstName" validate:"notblank,max=100"`
	LastName    string   `json:"lastName" validate:"notblank,max=100"`
	Nationality string   `json:"nationality" validate:"max=100"`
	BirthDate   web.Date `json:"birthDate" validate:"past"`
	Biography   string   `json:"biography" validate:"max=1000"`
}

// CategoryInput is the writable part of a category.
type CategoryInput struct {
	Name        string `json:"name" validate:"notblank,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// BookInput is the writable part of a book. On update, a nil
// AvailableCopies shifts the available count by the change in TotalCopies.
type BookInput struct {
	ISBN            string      `json:"isbn" validate:"notblank,max=20,isbn_digits"`
	Title           string      `json:"title" validate:"notblank,max=200"`
	Description     string      `json:"description" validate:"max=1000"`
	PublicationDate web.Date    `json:"publicationDate" validate:"required,notfuture"`
	TotalCopies     int         `json:"totalCopies" validate:"min=1,max=1000"`
	AvailableCopies *int        `json:"availableCopies,omitempty" validate:"omitempty,gte=0,ltefield=TotalCopies"`
	AuthorID        uuid.UUID   `json:"authorId" validate:"required"`
	CategoryIDs     []uuid.UUID `json:"categoryIds"`
}

// AuthorFilter narrows author listings; zero values match everything.
type AuthorFilter struct {
	Name        string
	Nationality string
}

// BookFilter narrows book listings; zero values match everything.
type BookFilter struct {
	Keyword       string
	AvailableOnly bool
	CategoryID    *uuid.UUID
	AuthorID      *uuid.UUID
}

// Events recorded for catalog aggregates.
type AuthorChangedEvent struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

type CategoryChangedEvent struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type BookChangedEvent struct {
	ID              uuid.UUID `json:"id"`
	ISBN            string    `json:"isbn"`
	Title           string    `json:"title"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
}

type BookCopiesAdjustedEvent struct {
	ID           uuid.UUID `json:"id"`
	Delta        int       `json:"delta"`
	NewAvailable int       `json:"new_available"`
}

type DeletedEvent struct {
	ID uuid.UUID `json:"id"`
}
