// Package backend はSession ProviderとItem Repositoryが利用するバックエンドの契約を定義する。
// 認証と行ストアの実装はSupabase（backend/supabase）とセルフホストPostgres（selfhost）がある。
package backend

import (
	"context"

	"github.com/hitoshi/rewear/internal/model"
)

// Auth はバックエンドの認証プリミティブを表す。
type Auth interface {
	// SignUp はアカウントを作成する。メール確認が必要でセッションが発行されない場合はnilを返す。
	SignUp(ctx context.Context, email, password, username string) (*model.Session, error)
	// SignInWithPassword はメールアドレスとパスワードでセッションを発行する。
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	// RefreshSession はリフレッシュトークンから新しいセッションを発行する。
	RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error)
	// SignOut はアクセストークンに紐づくセッションを失効させる。
	SignOut(ctx context.Context, accessToken string) error
	// ResetPasswordForEmail はパスワード再設定を要求する。
	ResetPasswordForEmail(ctx context.Context, email string) error
}

// AccountStore はアカウント行へのアクセスを表す。
// accessTokenは行レベルセキュリティの判定に使われる。
type AccountStore interface {
	// FindAccount は指定IDのアカウントを返す。存在しない場合はnil, nilを返す。
	FindAccount(ctx context.Context, accessToken, id string) (*model.Account, error)
	InsertAccount(ctx context.Context, accessToken string, account *model.Account) error
}

// ItemStore はclothing_items行へのアクセスを表す。
// 読み取り・更新・削除はすべて所有者IDで絞り込まれる。
type ItemStore interface {
	// ListByOwner は所有者のアイテムを作成日時の降順で返す。
	ListByOwner(ctx context.Context, accessToken, ownerID string) ([]model.ClothingItem, error)
	// Insert はアイテムを登録し、ストアが付与した値を含むレコードを返す。
	Insert(ctx context.Context, accessToken string, item *model.ClothingItem) (*model.ClothingItem, error)
	// UpdateByIDAndOwner はIDと所有者が一致する行を更新し、一致した行数を返す。
	UpdateByIDAndOwner(ctx context.Context, accessToken, id, ownerID string, upd model.ItemUpdate) (int64, error)
	// DeleteByIDAndOwner はIDと所有者が一致する行を削除し、一致した行数を返す。
	DeleteByIDAndOwner(ctx context.Context, accessToken, id, ownerID string) (int64, error)
}

// Backend は1つのバックエンド構成を束ねる。
// nilの*Backendはデモモード（バックエンド未設定）を表す。
type Backend struct {
	Name     string
	Auth     Auth
	Accounts AccountStore
	Items    ItemStore
}

// Available はバックエンドが設定されているかを返す。
func (b *Backend) Available() bool {
	return b != nil
}
