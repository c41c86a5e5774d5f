package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"booth-pos/models"
	"booth-pos/services"
)

type MenuRepo struct {
	db *sql.DB
}

func NewMenuRepo(db *sql.DB) *MenuRepo {
	return &MenuRepo{db: db}
}

func (r *MenuRepo) GetByID(ctx context.Context, id int) (*models.MenuItem, error) {
	var item models.MenuItem
	var category sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, price, category, available FROM menu_items WHERE id = ?`, id).
		Scan(&item.ID, &item.Name, &item.Price, &category, &item.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.ErrMenuItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get menu item: %w", err)
	}
	if category.Valid {
		item.Category = &category.String
	}
	return &item, nil
}

func (r *MenuRepo) List(ctx context.Context, availableOnly bool) ([]models.MenuItem, error) {
	query := `SELECT id, name, price, category, available FROM menu_items`
	if availableOnly {
		query += ` WHERE available = TRUE`
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list menu: %w", err)
	}
	defer rows.Close()

	items := []models.MenuItem{}
	for rows.Next() {
		var item models.MenuItem
		var category sql.NullString
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &category, &item.Available); err != nil {
			return nil, fmt.Errorf("failed to scan menu item: %w", err)
		}
		if category.Valid {
			c := category.String
			item.Category = &c
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
