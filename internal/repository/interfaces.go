// Package repository はセルフホスト構成におけるデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/rewear/internal/model"
)

// ErrDuplicateEmail は登録済みのメールアドレスで資格情報を作成しようとした場合のエラー。
var ErrDuplicateEmail = errors.New("email already registered")

// AccountRepository はusersテーブル（アカウント行）の永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)
	// Create はアカウントを作成する。
	Create(ctx context.Context, account *model.Account) error
}

// CredentialRepository はログイン資格情報の永続化インターフェース。
type CredentialRepository interface {
	// FindByEmail はメールアドレスで資格情報を検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)
	// FindByUserID はユーザーIDで資格情報を検索する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Credential, error)
	// Create は資格情報を作成する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, cred *model.Credential) error
}

// SessionRepository はリフレッシュセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.RefreshSession) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.RefreshSession, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ClothingItemRepository は出品アイテムの永続化インターフェース。
// 読み取り・更新・削除は常に所有者IDで絞り込む。
type ClothingItemRepository interface {
	// ListByOwner は所有者のアイテムを作成日時の降順で返す。
	ListByOwner(ctx context.Context, ownerID string) ([]model.ClothingItem, error)
	// Create はアイテムを登録し、列のデフォルト値を反映したレコードを返す。
	Create(ctx context.Context, item *model.ClothingItem) (*model.ClothingItem, error)
	// UpdateByIDAndOwner はIDと所有者が一致する行を更新し、一致した行数を返す。
	UpdateByIDAndOwner(ctx context.Context, id, ownerID string, upd model.ItemUpdate) (int64, error)
	// DeleteByIDAndOwner はIDと所有者が一致する行を削除し、一致した行数を返す。
	DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (int64, error)
}
