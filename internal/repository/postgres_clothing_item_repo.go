package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/rewear/internal/model"
)

// PostgresClothingItemRepo はPostgreSQLを使用した出品アイテムリポジトリ。
type PostgresClothingItemRepo struct {
	db *sql.DB
}

// NewPostgresClothingItemRepo はPostgresClothingItemRepoを生成する。
func NewPostgresClothingItemRepo(db *sql.DB) *PostgresClothingItemRepo {
	return &PostgresClothingItemRepo{db: db}
}

const clothingItemColumns = `id, user_id, title, description, category, size, condition, price, images, status, created_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// ListByOwner は所有者のアイテムを作成日時の降順で返す。
func (r *PostgresClothingItemRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.ClothingItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clothingItemColumns+`
		 FROM clothing_items
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list clothing items: %w", err)
	}
	defer rows.Close()

	items := []model.ClothingItem{}
	for rows.Next() {
		item, err := scanClothingItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clothing item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clothing items: %w", err)
	}

	return items, nil
}

// Create はアイテムを登録する。
// IDとStatusが空の場合は列のデフォルト値を使用する。
func (r *PostgresClothingItemRepo) Create(ctx context.Context, item *model.ClothingItem) (*model.ClothingItem, error) {
	images := item.Images
	if images == nil {
		images = []string{}
	}

	cols := []string{"user_id", "title", "description", "category", "size", "condition", "price", "images", "created_at"}
	args := []any{item.OwnerID, item.Title, item.Description, item.Category, item.Size, item.Condition,
		nullFloat(item.Price), pq.Array(images), item.CreatedAt}
	if item.ID != "" {
		cols = append(cols, "id")
		args = append(args, item.ID)
	}
	if item.Status != "" {
		cols = append(cols, "status")
		args = append(args, string(item.Status))
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(
		`INSERT INTO clothing_items (%s) VALUES (%s) RETURNING `+clothingItemColumns,
		strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)

	created, err := scanClothingItem(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to insert clothing item: %w", err)
	}
	return created, nil
}

// UpdateByIDAndOwner はIDと所有者が一致する行のうち、updで指定されたフィールドのみを更新する。
func (r *PostgresClothingItemRepo) UpdateByIDAndOwner(ctx context.Context, id, ownerID string, upd model.ItemUpdate) (int64, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Title != nil {
		add("title", *upd.Title)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.Category != nil {
		add("category", *upd.Category)
	}
	if upd.Size != nil {
		add("size", *upd.Size)
	}
	if upd.Condition != nil {
		add("condition", *upd.Condition)
	}
	if upd.Price != nil {
		add("price", *upd.Price)
	}
	if upd.Images != nil {
		images := *upd.Images
		if images == nil {
			images = []string{}
		}
		add("images", pq.Array(images))
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}

	if len(sets) == 0 {
		return 0, nil
	}

	args = append(args, id, ownerID)
	query := fmt.Sprintf(
		`UPDATE clothing_items SET %s WHERE id = $%d AND user_id = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args),
	)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update clothing item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DeleteByIDAndOwner はIDと所有者が一致する行を削除する。
func (r *PostgresClothingItemRepo) DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM clothing_items WHERE id = $1 AND user_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete clothing item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// scanClothingItem は1行をClothingItemに変換する。
func scanClothingItem(s rowScanner) (*model.ClothingItem, error) {
	item := &model.ClothingItem{}
	var price sql.NullFloat64
	var images pq.StringArray
	var status string

	err := s.Scan(&item.ID, &item.OwnerID, &item.Title, &item.Description, &item.Category,
		&item.Size, &item.Condition, &price, &images, &status, &item.CreatedAt)
	if err != nil {
		return nil, err
	}

	if price.Valid {
		p := price.Float64
		item.Price = &p
	}
	item.Images = []string(images)
	if item.Images == nil {
		item.Images = []string{}
	}
	item.Status = model.ItemStatus(status)
	return item, nil
}

// compile-time interface check
var _ ClothingItemRepository = (*PostgresClothingItemRepo)(nil)
