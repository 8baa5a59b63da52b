// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// ItemStatus は出品アイテムの状態を表す。
type ItemStatus string

const (
	// ItemStatusAvailable は交換・購入可能な状態。行ストアのデフォルト値。
	ItemStatusAvailable ItemStatus = "available"
	// ItemStatusSold は取引済みの状態。
	ItemStatusSold ItemStatus = "sold"
	// ItemStatusPending は取引中の状態。
	ItemStatusPending ItemStatus = "pending"
)

// Valid はステータスが定義済みの値かどうかを返す。
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusAvailable, ItemStatusSold, ItemStatusPending:
		return true
	}
	return false
}

// MaxItemImages は1アイテムに添付できる画像の最大数。
const MaxItemImages = 5

// ItemCategories は出品フォームで選択できるカテゴリ。
var ItemCategories = []string{
	"Outerwear", "Tops", "Bottoms", "Dresses", "Shoes",
	"Accessories", "Formal", "Casual", "Sportswear",
}

// ItemSizes は出品フォームで選択できるサイズ。
var ItemSizes = []string{"XS", "S", "M", "L", "XL", "XXL"}

// ItemConditions は出品フォームで選択できる状態。
var ItemConditions = []string{"Like New", "Excellent", "Good", "Fair"}

// InCatalog はvalueがcatalogに含まれるかを大文字小文字を区別せずに判定する。
func InCatalog(catalog []string, value string) bool {
	for _, c := range catalog {
		if strings.EqualFold(c, value) {
			return true
		}
	}
	return false
}

// ClothingItem は出品された衣類を表す。
// 所有アカウントのみが作成・更新・削除できる。
type ClothingItem struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Size        string     `json:"size"`
	Condition   string     `json:"condition"`
	Price       *float64   `json:"price,omitempty"`
	Images      []string   `json:"images"`
	Status      ItemStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewItem はアイテム作成時の入力を表す。
// ID・所有者・作成日時はリポジトリが付与する。
// Statusが空の場合は行ストアのデフォルト値に任せる。
type NewItem struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Size        string     `json:"size"`
	Condition   string     `json:"condition"`
	Price       *float64   `json:"price,omitempty"`
	Images      []string   `json:"images"`
	Status      ItemStatus `json:"status,omitempty"`
}

// ItemUpdate はアイテムの部分更新を表す。
// nilフィールドは変更しない。
type ItemUpdate struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Category    *string     `json:"category,omitempty"`
	Size        *string     `json:"size,omitempty"`
	Condition   *string     `json:"condition,omitempty"`
	Price       *float64    `json:"price,omitempty"`
	Images      *[]string   `json:"images,omitempty"`
	Status      *ItemStatus `json:"status,omitempty"`
}

// IsEmpty は更新対象のフィールドが1つもないかどうかを返す。
func (u ItemUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Category == nil &&
		u.Size == nil && u.Condition == nil && u.Price == nil &&
		u.Images == nil && u.Status == nil
}
