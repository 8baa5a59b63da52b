package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/rewear/internal/model"
)

// PostgRESTのテーブルエンドポイント
const (
	usersPath = "/rest/v1/users"
	itemsPath = "/rest/v1/clothing_items"
)

// PostgRESTのPreferヘッダー値
const (
	preferRepresentation = "return=representation"
	preferMinimal        = "return=minimal"
)

// rlsViolationCode は行レベルセキュリティ違反のPostgreSQLエラーコード。
const rlsViolationCode = "42501"

// accountRow はusersテーブルの行。
type accountRow struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  *string   `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// itemInsertRow はclothing_itemsへの挿入行。
// IDとStatusが空の場合は列のデフォルト値に任せるため送信しない。
type itemInsertRow struct {
	ID          string           `json:"id,omitempty"`
	UserID      string           `json:"user_id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Size        string           `json:"size"`
	Condition   string           `json:"condition"`
	Price       *float64         `json:"price"`
	Images      []string         `json:"images"`
	Status      model.ItemStatus `json:"status,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

func eq(v string) string { return "eq." + v }

// FindAccount はusersテーブルからアカウントを取得する。
// 存在しない場合はnil, nilを返す。
func (c *Client) FindAccount(ctx context.Context, accessToken, id string) (*model.Account, error) {
	var rows []accountRow
	err := c.do(ctx, request{
		method:      http.MethodGet,
		path:        usersPath,
		query:       url.Values{"select": {"*"}, "id": {eq(id)}, "limit": {"1"}},
		accessToken: accessToken,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", mapRowError(err))
	}
	if len(rows) == 0 {
		return nil, nil
	}

	a := &model.Account{
		ID:        rows[0].ID,
		Email:     rows[0].Email,
		CreatedAt: rows[0].CreatedAt,
	}
	if rows[0].Username != nil {
		a.Username = *rows[0].Username
	}
	return a, nil
}

// InsertAccount はusersテーブルにアカウント行を追加する。
func (c *Client) InsertAccount(ctx context.Context, accessToken string, account *model.Account) error {
	row := accountRow{
		ID:        account.ID,
		Email:     account.Email,
		CreatedAt: account.CreatedAt,
	}
	if account.Username != "" {
		row.Username = &account.Username
	}

	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        usersPath,
		body:        row,
		accessToken: accessToken,
		prefer:      preferMinimal,
	}, nil)
	if err != nil {
		return fmt.Errorf("insert account: %w", mapRowError(err))
	}
	return nil
}

// ListByOwner は所有者のアイテムを作成日時の降順で取得する。
func (c *Client) ListByOwner(ctx context.Context, accessToken, ownerID string) ([]model.ClothingItem, error) {
	var items []model.ClothingItem
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   itemsPath,
		query: url.Values{
			"select":  {"*"},
			"user_id": {eq(ownerID)},
			"order":   {"created_at.desc"},
		},
		accessToken: accessToken,
	}, &items)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", mapRowError(err))
	}
	if items == nil {
		items = []model.ClothingItem{}
	}
	return items, nil
}

// Insert はアイテムを登録し、ストアが返した行を返す。
func (c *Client) Insert(ctx context.Context, accessToken string, item *model.ClothingItem) (*model.ClothingItem, error) {
	row := itemInsertRow{
		ID:          item.ID,
		UserID:      item.OwnerID,
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		Size:        item.Size,
		Condition:   item.Condition,
		Price:       item.Price,
		Images:      item.Images,
		Status:      item.Status,
		CreatedAt:   item.CreatedAt,
	}
	if row.Images == nil {
		row.Images = []string{}
	}

	var created []model.ClothingItem
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        itemsPath,
		body:        row,
		accessToken: accessToken,
		prefer:      preferRepresentation,
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", mapRowError(err))
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("insert item: 登録結果が返されませんでした")
	}
	return &created[0], nil
}

// UpdateByIDAndOwner はIDと所有者で絞り込んで更新し、一致した行数を返す。
func (c *Client) UpdateByIDAndOwner(ctx context.Context, accessToken, id, ownerID string, upd model.ItemUpdate) (int64, error) {
	var updated []model.ClothingItem
	err := c.do(ctx, request{
		method:      http.MethodPatch,
		path:        itemsPath,
		query:       url.Values{"id": {eq(id)}, "user_id": {eq(ownerID)}},
		body:        upd,
		accessToken: accessToken,
		prefer:      preferRepresentation,
	}, &updated)
	if err != nil {
		return 0, fmt.Errorf("update item: %w", mapRowError(err))
	}
	return int64(len(updated)), nil
}

// DeleteByIDAndOwner はIDと所有者で絞り込んで削除し、一致した行数を返す。
func (c *Client) DeleteByIDAndOwner(ctx context.Context, accessToken, id, ownerID string) (int64, error) {
	var deleted []model.ClothingItem
	err := c.do(ctx, request{
		method:      http.MethodDelete,
		path:        itemsPath,
		query:       url.Values{"id": {eq(id)}, "user_id": {eq(ownerID)}},
		accessToken: accessToken,
		prefer:      preferRepresentation,
	}, &deleted)
	if err != nil {
		return 0, fmt.Errorf("delete item: %w", mapRowError(err))
	}
	return int64(len(deleted)), nil
}

// mapRowError はPostgRESTのエラーレスポンスをAPIErrorに変換する。
func mapRowError(err error) error {
	var se *statusError
	if !errors.As(err, &se) {
		return err
	}
	if se.stringCode() == rlsViolationCode {
		return model.NewRowSecurityError()
	}
	if se.Status == http.StatusUnauthorized {
		return model.NewInvalidSessionError()
	}
	return err
}
