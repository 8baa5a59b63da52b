// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, data, unavailable, validation, system
	Action   string // ユーザー向け対処方法

	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は元になったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// エラーカテゴリ
const (
	CategoryAuth        = "auth"
	CategoryData        = "data"
	CategoryUnavailable = "unavailable"
	CategoryValidation  = "validation"
	CategorySystem      = "system"
)

// 定義済みエラーコード
const (
	ErrCodeUnavailable        = "BACKEND_UNAVAILABLE"
	ErrCodeNotSignedIn        = "NOT_SIGNED_IN"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeDuplicateAccount   = "DUPLICATE_ACCOUNT"
	ErrCodeInvalidSession     = "INVALID_SESSION"
	ErrCodeAuthFailed         = "AUTH_FAILED"
	ErrCodeDataFailed         = "DATA_FAILED"
	ErrCodeInvalidItem        = "INVALID_ITEM"
	ErrCodeEmptyUpdate        = "EMPTY_UPDATE"
	ErrCodeRowSecurity        = "ROW_SECURITY_VIOLATION"
)

// HasCategory はerrがAPIErrorであり、指定カテゴリに属するかを返す。
func HasCategory(err error, category string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category == category
	}
	return false
}

// HasCode はerrがAPIErrorであり、指定コードを持つかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsAuthError は認証エラーかどうかを返す。
func IsAuthError(err error) bool { return HasCategory(err, CategoryAuth) }

// IsDataError は行ストアのエラーかどうかを返す。
func IsDataError(err error) bool { return HasCategory(err, CategoryData) }

// IsUnavailableError はバックエンド未設定エラーかどうかを返す。
func IsUnavailableError(err error) bool { return HasCategory(err, CategoryUnavailable) }

// NewUnavailableError はバックエンド未設定（デモモード）エラーを生成する。
// ネットワークI/Oを行わずに返されるため、常に同じ内容になる。
func NewUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUnavailable,
		Message:  "backend unavailable",
		Category: CategoryUnavailable,
		Action:   "デモモードで動作しています。SUPABASE_URL と SUPABASE_ANON_KEY を設定してください。",
	}
}

// NewNotSignedInError は未ログインエラーを生成する。
func NewNotSignedInError() *APIError {
	return &APIError{
		Code:     ErrCodeNotSignedIn,
		Message:  "not signed in",
		Category: CategoryAuth,
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError は資格情報不正エラーを生成する。
func NewInvalidCredentialsError(message string) *APIError {
	if message == "" {
		message = "invalid login credentials"
	}
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  message,
		Category: CategoryAuth,
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewDuplicateAccountError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewDuplicateAccountError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateAccount,
		Message:  "user already registered",
		Category: CategoryAuth,
		Action:   "ログイン画面からサインインしてください。",
	}
}

// NewInvalidSessionError はリフレッシュトークンやアクセストークンが無効な場合のエラーを生成する。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "session not found or expired",
		Category: CategoryAuth,
		Action:   "ログインし直してください。",
	}
}

// NewAuthError は認証基盤の呼び出し失敗をAuthErrorとしてラップする。
// errが既にAPIErrorの場合はそのまま返す。
func NewAuthError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  err.Error(),
		Category: CategoryAuth,
		Action:   "しばらく待ってから再度お試しください。",
		cause:    err,
	}
}

// NewDataError は行ストアの問い合わせ・更新失敗をDataErrorとしてラップする。
// errが既にAPIErrorの場合はそのまま返す。
func NewDataError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return &APIError{
		Code:     ErrCodeDataFailed,
		Message:  err.Error(),
		Category: CategoryData,
		Action:   "しばらく待ってから再度お試しください。",
		cause:    err,
	}
}

// NewInvalidItemError はアイテム入力のバリデーションエラーを生成する。
func NewInvalidItemError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidItem,
		Message:  fmt.Sprintf("invalid item: %s", reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
	}
}

// NewEmptyUpdateError は更新フィールドが指定されていない場合のエラーを生成する。
func NewEmptyUpdateError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyUpdate,
		Message:  "no fields to update",
		Category: CategoryValidation,
		Action:   "更新するフィールドを指定してください。",
	}
}

// NewRowSecurityError は他アカウントの行への書き込みが拒否された場合のエラーを生成する。
func NewRowSecurityError() *APIError {
	return &APIError{
		Code:     ErrCodeRowSecurity,
		Message:  "new row violates row-level security policy",
		Category: CategoryData,
		Action:   "自分のアカウントのアイテムのみ登録できます。",
	}
}
