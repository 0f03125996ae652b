// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"

	"libraryhub/pkg/web"
)

// Service defines the interface for the catalog service.
type Service interface {
	CreateAuthor(ctx context.Context, in AuthorInput) (*Author, error)
	GetAuthor(ctx context.Context, id uuid.UUID) (*Author, error)
	GetAuthorWithBooks(ctx context.Context, id uuid.UUID) (*AuthorWithBooks, error)
	ListAuthors(ctx context.Context, filter AuthorFilter, page web.PageRequest) (web.Page[Author], error)
	UpdateAuthor(ctx context.Context, id uuid.UUID, in AuthorInput) (*Author, error)
	DeleteAuthor(ctx context.Context, id uuid.UUID) error

	CreateCategory(ctx context.Context, in CategoryInput) (*Category, error)
	GetCategory(ctx context.Context, id uuid.UUID) (*Category, error)
	GetCategoryByName(ctx context.Context, name string) (*Category, error)
	ListCategories(ctx context.Context, name string, page web.PageRequest) (web.Page[Category], error)
	UpdateCategory(ctx context.Context, id uuid.UUID, in CategoryInput) (*Category, error)
	DeleteCategory(ctx context.Context, id uuid.UUID) error

	CreateBook(ctx context.Context, in BookInput) (*BookDetails, error)
	GetBook(ctx context.Context, id uuid.UUID) (*BookDetails, error)
	GetBookByISBN(ctx context.Context, isbn string) (*BookDetails, error)
	ListBooks(ctx context.Context, filter BookFilter, page web.PageRequest) (web.Page[Book], error)
	UpdateBook(ctx context.Context, id uuid.UUID, in BookInput) (*BookDetails, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error

	// AdjustCopies applies an administrative delta through the Copy-Count Ledger.
	AdjustCopies(ctx context.Context, id uuid.UUID, delta int) (*Book, error)
}
