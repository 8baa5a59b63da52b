package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/rewear/internal/model"
)

// GoTrueのエンドポイント
const (
	signupPath  = "/auth/v1/signup"
	tokenPath   = "/auth/v1/token"
	logoutPath  = "/auth/v1/logout"
	recoverPath = "/auth/v1/recover"
)

// authUser はGoTrueのユーザーオブジェクト。
type authUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// tokenResponse はGoTrueのセッションレスポンス。
// メール確認が必要なサインアップではaccess_tokenが空でユーザー情報のみが返る。
type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	User         *authUser `json:"user"`
}

// SignUp はGoTrueにアカウントを作成する。
// ユーザー名はuser_metadata.usernameとして保存される。
func (c *Client) SignUp(ctx context.Context, email, password, username string) (*model.Session, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if username != "" {
		body["data"] = map[string]string{"username": username}
	}

	var resp tokenResponse
	err := c.do(ctx, request{method: http.MethodPost, path: signupPath, body: body}, &resp)
	if err != nil {
		return nil, mapAuthError(err, false)
	}
	if resp.AccessToken == "" {
		c.logger.Info("サインアップはメール確認待ちです")
		return nil, nil
	}
	return c.toSession(&resp), nil
}

// SignInWithPassword はパスワードグラントでセッションを取得する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	var resp tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   tokenPath,
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
	}, &resp)
	if err != nil {
		return nil, mapAuthError(err, false)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("トークンレスポンスにaccess_tokenが含まれていません")
	}
	return c.toSession(&resp), nil
}

// RefreshSession はリフレッシュトークングラントで新しいセッションを取得する。
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	var resp tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   tokenPath,
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": refreshToken},
	}, &resp)
	if err != nil {
		return nil, mapAuthError(err, true)
	}
	if resp.AccessToken == "" {
		return nil, model.NewInvalidSessionError()
	}
	return c.toSession(&resp), nil
}

// SignOut はアクセストークンのセッションをサーバー側で失効させる。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        logoutPath,
		accessToken: accessToken,
	}, nil)
	if err != nil {
		return mapAuthError(err, true)
	}
	return nil
}

// ResetPasswordForEmail はパスワード再設定メールの送信を要求する。
func (c *Client) ResetPasswordForEmail(ctx context.Context, email string) error {
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   recoverPath,
		body:   map[string]string{"email": email},
	}, nil)
	if err != nil {
		return mapAuthError(err, false)
	}
	return nil
}

// toSession はトークンレスポンスをmodel.Sessionに変換する。
func (c *Client) toSession(resp *tokenResponse) *model.Session {
	s := &model.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	switch {
	case resp.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(resp.ExpiresAt, 0).UTC()
	case resp.ExpiresIn > 0:
		s.ExpiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second).UTC()
	}
	if resp.User != nil {
		s.User = model.Account{
			ID:        resp.User.ID,
			Email:     resp.User.Email,
			Username:  metadataString(resp.User.UserMetadata, "username"),
			CreatedAt: resp.User.CreatedAt,
		}
	}
	return s
}

func metadataString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// mapAuthError はGoTrueのエラーレスポンスをAPIErrorに変換する。
// tokenGrantがtrueの場合、invalid_grantはセッション無効として扱う。
func mapAuthError(err error, tokenGrant bool) error {
	var se *statusError
	if !errors.As(err, &se) {
		return err
	}

	code := firstNonEmpty(se.Body.ErrorCode, se.Body.Error)
	msg := firstNonEmpty(se.Body.Msg, se.Body.ErrorDescription, se.Body.Message)

	switch {
	case code == "user_already_exists" || code == "email_exists" ||
		strings.Contains(strings.ToLower(msg), "already registered"):
		return model.NewDuplicateAccountError()
	case code == "refresh_token_not_found" || code == "session_not_found" ||
		code == "refresh_token_already_used" || se.Status == http.StatusUnauthorized && tokenGrant:
		return model.NewInvalidSessionError()
	case code == "invalid_grant" && tokenGrant && strings.Contains(strings.ToLower(msg), "refresh token"):
		return model.NewInvalidSessionError()
	case code == "invalid_credentials" || code == "invalid_grant" ||
		code == "weak_password" || code == "validation_failed" || code == "email_address_invalid":
		return model.NewInvalidCredentialsError(strings.ToLower(msg))
	}
	return err
}
