// internal/clients/catalog_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"libraryhub/internal/catalog"
)

type CatalogClient struct {
	base
}

func NewCatalogClient(baseURL string, hc *http.Client) *CatalogClient {
	return &CatalogClient{base: newBase(baseURL, hc)}
}

func (c *CatalogClient) CreateAuthor(ctx context.Context, in catalog.AuthorInput) (*catalog.Author, error) {
	var author catalog.Author
	if err := c.do(ctx, http.MethodPost, "/authors", in, &author); err != nil {
		return nil, err
	}
	return &author, nil
}

func (c *CatalogClient) CreateBook(ctx context.Context, in catalog.BookInput) (*catalog.BookDetails, error) {
	var book catalog.BookDetails
	if err := c.do(ctx, http.MethodPost, "/books", in, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *CatalogClient) GetBook(ctx context.Context, id uuid.UUID) (*catalog.BookDetails, error) {
	var book catalog.BookDetails
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/books/%s", id), nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *CatalogClient) AdjustCopies(ctx context.Context, id uuid.UUID, delta int) (*catalog.Book, error) {
	req := struct {
		Delta int `json:"delta"`
	}{Delta: delta}

	var book catalog.Book
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/books/%s/copies/adjust", id), req, &book); err != nil {
		return nil, err
	}
	return &book, nil
}
