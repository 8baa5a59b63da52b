// Package selfhost はPostgreSQLを直接利用するバックエンドを提供する。
// アクセストークンを検証し、Supabaseの行レベルセキュリティと同じ可視性を再現する。
package selfhost

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/hitoshi/rewear/internal/auth"
	"github.com/hitoshi/rewear/internal/backend"
	"github.com/hitoshi/rewear/internal/model"
	"github.com/hitoshi/rewear/internal/repository"
)

// TokenVerifier はアクセストークンからアカウントIDを取り出す。
type TokenVerifier interface {
	VerifyAccessToken(accessToken string) (string, error)
}

// AccountStore はbackend.AccountStoreのセルフホスト実装。
// 自分自身の行のみ参照・作成できる。
type AccountStore struct {
	verifier TokenVerifier
	repo     repository.AccountRepository
}

// ItemStore はbackend.ItemStoreのセルフホスト実装。
// 所有者本人の行のみ参照・変更できる。
type ItemStore struct {
	verifier TokenVerifier
	repo     repository.ClothingItemRepository
}

// コンパイル時にインターフェースの実装を検証する。
var (
	_ backend.AccountStore = (*AccountStore)(nil)
	_ backend.ItemStore    = (*ItemStore)(nil)
)

// NewAccountStore はAccountStoreを生成する。
func NewAccountStore(verifier TokenVerifier, repo repository.AccountRepository) *AccountStore {
	return &AccountStore{verifier: verifier, repo: repo}
}

// NewItemStore はItemStoreを生成する。
func NewItemStore(verifier TokenVerifier, repo repository.ClothingItemRepository) *ItemStore {
	return &ItemStore{verifier: verifier, repo: repo}
}

// NewBackend は認証サービスとデータベースからセルフホストのBackendを組み立てる。
func NewBackend(authSvc *auth.Service, db *sql.DB) *backend.Backend {
	return &backend.Backend{
		Name:     "selfhost",
		Auth:     authSvc,
		Accounts: NewAccountStore(authSvc, repository.NewPostgresAccountRepo(db)),
		Items:    NewItemStore(authSvc, repository.NewPostgresClothingItemRepo(db)),
	}
}

// FindAccount はトークンの持ち主が自分自身を参照する場合のみアカウントを返す。
// 他人のIDでは行が見えないためnilを返す。
func (s *AccountStore) FindAccount(ctx context.Context, accessToken, id string) (*model.Account, error) {
	uid, err := s.verifier.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	if uid != id {
		return nil, nil
	}
	return s.repo.FindByID(ctx, id)
}

// InsertAccount は自分自身のアカウント行を作成する。他人のIDでは拒否する。
func (s *AccountStore) InsertAccount(ctx context.Context, accessToken string, account *model.Account) error {
	uid, err := s.verifier.VerifyAccessToken(accessToken)
	if err != nil {
		return err
	}
	if uid != account.ID {
		return model.NewRowSecurityError()
	}
	return s.repo.Create(ctx, account)
}

// ListByOwner は所有者本人であればアイテム一覧を返し、それ以外は空を返す。
func (s *ItemStore) ListByOwner(ctx context.Context, accessToken, ownerID string) ([]model.ClothingItem, error) {
	uid, err := s.verifier.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	if uid != ownerID {
		return []model.ClothingItem{}, nil
	}
	return s.repo.ListByOwner(ctx, ownerID)
}

// Insert は所有者本人としてアイテムを登録する。他人の所有者IDでは拒否する。
func (s *ItemStore) Insert(ctx context.Context, accessToken string, item *model.ClothingItem) (*model.ClothingItem, error) {
	uid, err := s.verifier.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	if uid != item.OwnerID {
		return nil, model.NewRowSecurityError()
	}
	return s.repo.Create(ctx, item)
}

// UpdateByIDAndOwner は所有者本人の行のみ更新する。
// 他人の行やUUIDでないIDは一致0件として扱う。
func (s *ItemStore) UpdateByIDAndOwner(ctx context.Context, accessToken, id, ownerID string, upd model.ItemUpdate) (int64, error) {
	uid, err := s.verifier.VerifyAccessToken(accessToken)
	if err != nil {
		return 0, err
	}
	if uid != ownerID || !isUUID(id) {
		return 0, nil
	}
	return s.repo.UpdateByIDAndOwner(ctx, id, ownerID, upd)
}

// DeleteByIDAndOwner は所有者本人の行のみ削除する。
func (s *ItemStore) DeleteByIDAndOwner(ctx context.Context, accessToken, id, ownerID string) (int64, error) {
	uid, err := s.verifier.VerifyAccessToken(accessToken)
	if err != nil {
		return 0, err
	}
	if uid != ownerID || !isUUID(id) {
		return 0, nil
	}
	return s.repo.DeleteByIDAndOwner(ctx, id, ownerID)
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
