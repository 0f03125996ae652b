// internal/catalog/handler.go
package catalog

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"libraryhub/pkg/apperr"
	"libraryhub/pkg/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts /authors, /categories and /books.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/authors", func(r chi.Router) {
		r.Get("/", h.handleListAuthors)
		r.Post("/", h.handleCreateAuthor)
		r.Get("/nationality/{nationality}", h.handleListAuthorsByNationality)
		r.Get("/{id}", h.handleGetAuthor)
		r.Get("/{id}/books", h.handleGetAuthorWithBooks)
		r.Put("/{id}", h.handleUpdateAuthor)
		r.Delete("/{id}", h.handleDeleteAuthor)
	})

	r.Route("/categories", func(r chi.Router) {
		r.Get("/", h.handleListCategories)
		r.Post("/", h.handleCreateCategory)
		r.Get("/name/{name}", h.handleGetCategoryByName)
		r.Get("/{id}", h.handleGetCategory)
		r.Put("/{id}", h.handleUpdateCategory)
		r.Delete("/{id}", h.handleDeleteCategory)
	})

	r.Route("/books", func(r chi.Router) {
		r.Get("/", h.handleListBooks)
		r.Post("/", h.handleCreateBook)
		r.Get("/isbn/{isbn}", h.handleGetBookByISBN)
		r.Get("/{id}", h.handleGetBook)
		r.Put("/{id}", h.handleUpdateBook)
		r.Delete("/{id}", h.handleDeleteBook)
		r.Post("/{id}/copies/adjust", h.handleAdjustCopies)
	})
}

// handleListAuthors serves GET /authors?name=&nationality=.
func (h *Handler) handleListAuthors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.listAuthors(w, r, AuthorFilter{Name: q.Get("name"), Nationality: q.Get("nationality")})
}

func (h *Handler) handleListAuthorsByNationality(w http.ResponseWriter, r *http.Request) {
	h.listAuthors(w, r, AuthorFilter{Nationality: chi.URLParam(r, "nationality")})
}

func (h *Handler) listAuthors(w http.ResponseWriter, r *http.Request, filter AuthorFilter) {
	page, err := web.ParsePage(r)
	if err != nil {
		web.Error(w, err)
		return
	}
	authors, err := h.service.ListAuthors(r.Context(), filter, page)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, authors)
}

func (h *Handler) handleCreateAuthor(w http.ResponseWriter, r *http.Request) {
	var req AuthorInput
	if err := web.DecodeJSON(r, &req); err != nil {
		web.Error(w, err)
		return
	}
	author, err := h.service.CreateAuthor(r.Context(), req)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusCreated, author)
}

func (h *Handler) handleGetAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	author, err := h.service.GetAuthor(r.Context(), id)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, author)
}

func (h *Handler) handleGetAuthorWithBooks(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	author, err := h.service.GetAuthorWithBooks(r.Context(), id)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, author)
}

func (h *Handler) handleUpdateAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	var req AuthorInput
	if err := web.DecodeJSON(r, &req); err != nil {
		web.Error(w, err)
		return
	}
	author, err := h.service.UpdateAuthor(r.Context(), id, req)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, author)
}

func (h *Handler) handleDeleteAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	if err := h.service.DeleteAuthor(r.Context(), id); err != nil {
		web.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	page, err := web.ParsePage(r)
	if err != nil {
		web.Error(w, err)
		return
	}
	categories, err := h.service.ListCategories(r.Context(), r.URL.Query().Get("name"), page)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, categories)
}

func (h *Handler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryInput
	if err := web.DecodeJSON(r, &req); err != nil {
		web.Error(w, err)
		return
	}
	category, err := h.service.CreateCategory(r.Context(), req)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusCreated, category)
}

func (h *Handler) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	category, err := h.service.GetCategory(r.Context(), id)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, category)
}

func (h *Handler) handleGetCategoryByName(w http.ResponseWriter, r *http.Request) {
	category, err := h.service.GetCategoryByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, category)
}

func (h *Handler) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	var req CategoryInput
	if err := web.DecodeJSON(r, &req); err != nil {
		web.Error(w, err)
		return
	}
	category, err := h.service.UpdateCategory(r.Context(), id, req)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, category)
}

func (h *Handler) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	if err := h.service.DeleteCategory(r.Context(), id); err != nil {
		web.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListBooks serves GET /books?q=&available=&categoryId=&authorId=.
func (h *Handler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	page, err := web.ParsePage(r)
	if err != nil {
		web.Error(w, err)
		return
	}

	q := r.URL.Query()
	filter := BookFilter{Keyword: q.Get("q")}
	if v := q.Get("available"); v != "" {
		if filter.AvailableOnly, err = strconv.ParseBool(v); err != nil {
			web.Error(w, apperr.Invalid("available must be true or false"))
			return
		}
	}
	if filter.CategoryID, err = web.OptionalUUIDQuery(r, "categoryId"); err != nil {
		web.Error(w, err)
		return
	}
	if filter.AuthorID, err = web.OptionalUUIDQuery(r, "authorId"); err != nil {
		web.Error(w, err)
		return
	}

	books, err := h.service.ListBooks(r.Context(), filter, page)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, books)
}

func (h *Handler) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req BookInput
	if err := web.DecodeJSON(r, &req); err != nil {
		web.Error(w, err)
		return
	}
	book, err := h.service.CreateBook(r.Context(), req)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusCreated, book)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, book)
}

func (h *Handler) handleGetBookByISBN(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.GetBookByISBN(r.Context(), chi.URLParam(r, "isbn"))
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, book)
}

func (h *Handler) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	var req BookInput
	if err := web.DecodeJSON(r, &req); err != nil {
		web.Error(w, err)
		return
	}
	book, err := h.service.UpdateBook(r.Context(), id, req)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, book)
}

func (h *Handler) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		web.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAdjustCopies(w http.ResponseWriter, r *http.Request) {
	id, err := web.UUIDParam(r, "id")
	if err != nil {
		web.Error(w, err)
		return
	}
	var req struct {
		Delta int `json:"delta"`
	}
	if err := web.DecodeJSON(r, &req); err != nil {
		web.Error(w, err)
		return
	}
	book, err := h.service.AdjustCopies(r.Context(), id, req.Delta)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, book)
}
