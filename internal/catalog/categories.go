// internal/catalog/categories.go
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

	"libraryhub/internal/database"
	"libraryhub/pkg/web"
)

const categoryColumns = `id, name, description, created_at, updated_at`

func (s *service) CreateCategory(ctx context.Context, in CategoryInput) (*Category, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var category Category
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &category, `
			INSERT INTO categories (id, name, description)
			VALUES ($1, $2, $3)
			RETURNING `+categoryColumns,
			uuid.New(), strings.TrimSpace(in.Name), in.Description)
		if err != nil {
			return translateCategoryError(err)
		}
		return s.record(ctx, tx, category.ID, aggregateCategory, "CategoryCreated", CategoryChangedEvent{
			ID: category.ID, Name: category.Name,
		})
	})
	if err != nil {
		return nil, err
	}
	return &category, nil
}

func (s *service) GetCategory(ctx context.Context, id uuid.UUID) (*Category, error) {
	return s.getCategoryWhere(ctx, "id = $1", id)
}

// GetCategoryByName matches the name ignoring case.
func (s *service) GetCategoryByName(ctx context.Context, name string) (*Category, error) {
	return s.getCategoryWhere(ctx, "LOWER(name) = LOWER($1)", strings.TrimSpace(name))
}

func (s *service) getCategoryWhere(ctx context.Context, where string, arg any) (*Category, error) {
	var category Category
	err := s.db.GetContext(ctx, &category, `SELECT `+categoryColumns+` FROM categories WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCategoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &category, nil
}

func (s *service) ListCategories(ctx context.Context, name string, page web.PageRequest) (web.Page[Category], error) {
	ds := database.Dialect.From("categories").
		Select("id", "name", "description", "created_at", "updated_at").
		Order(goqu.C("name").Asc(), goqu.C("id").Asc())

	if name = strings.TrimSpace(name); name != "" {
		ds = ds.Where(goqu.C("name").ILike(likePattern(name)))
	}

	var categories []Category
	total, err := database.SelectPage(ctx, s.db, ds, &categories, page.Limit(), page.Offset())
	if err != nil {
		return web.Page[Category]{}, fmt.Errorf("failed to list categories: %w", err)
	}
	return web.NewPage(categories, page, total), nil
}

func (s *service) UpdateCategory(ctx context.Context, id uuid.UUID, in CategoryInput) (*Category, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var category Category
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &category, `
			UPDATE categories
			SET name = $2, description = $3, updated_at = NOW()
			WHERE id = $1
			RETURNING `+categoryColumns,
			id, strings.TrimSpace(in.Name), in.Description)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCategoryNotFound
		}
		if err != nil {
			return translateCategoryError(err)
		}
		return s.record(ctx, tx, id, aggregateCategory, "CategoryUpdated", CategoryChangedEvent{
			ID: id, Name: category.Name,
		})
	})
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// DeleteCategory removes the category and unlinks it from its books.
func (s *service) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	return database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete category: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrCategoryNotFound
		}
		return s.record(ctx, tx, id, aggregateCategory, "CategoryDeleted", DeletedEvent{ID: id})
	})
}

func translateCategoryError(err error) error {
	if database.IsUniqueViolation(err) {
		return ErrDuplicateName
	}
	return fmt.Errorf("failed to write category: %w", err)
}
