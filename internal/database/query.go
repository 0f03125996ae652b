// internal/database/query.go
package database

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// SelectPage runs ds with LIMIT/OFFSET into dest and returns the unpaged count.
func SelectPage(ctx context.Context, q sqlx.QueryerContext, ds *goqu.SelectDataset, dest any, limit, offset uint) (int64, error) {
	countSQL, countArgs, err := ds.ClearOrder().ClearLimit().ClearOffset().
		ClearSelect().Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var total int64
	if err := sqlx.GetContext(ctx, q, &total, countSQL, countArgs...); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}

	if err := Select(ctx, q, ds.Limit(limit).Offset(offset), dest); err != nil {
		return 0, err
	}
	return total, nil
}

// Select runs ds into dest.
func Select(ctx context.Context, q sqlx.QueryerContext, ds *goqu.SelectDataset, dest any) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err := sqlx.SelectContext(ctx, q, dest, query, args...); err != nil {
		return fmt.Errorf("select rows: %w", err)
	}
	return nil
}
