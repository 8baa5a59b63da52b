// Package model はドメインモデルを定義する。
package model

import "time"

// Account は行ストアに永続化されるユーザーのプロフィールを表す。
// セッショントークンとは独立しており、初回サインイン時に暗黙的に作成される。
// このレイヤーから削除されることはない。
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username,omitempty"` // 空文字列は未設定
	CreatedAt time.Time `json:"created_at"`
}

// Session はクライアントが保持する認証済みセッションを表す。
// サインインで生成され、サインアウトまたは期限切れで破棄される。
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         Account
}

// Expired は指定時刻においてアクセストークンが期限切れかどうかを返す。
// ExpiresAtがゼロ値の場合は期限なしとして扱う。
func (s *Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Credential はセルフホスト構成でのログイン資格情報を表す。
// Supabase構成ではauth.usersが同じ役割を担う。
type Credential struct {
	UserID       string
	Email        string
	PasswordHash string
	Username     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefreshSession はセルフホスト構成で永続化されるリフレッシュセッションを表す。
// IDがそのままリフレッシュトークンとしてクライアントに渡される。
type RefreshSession struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
