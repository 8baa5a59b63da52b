// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/rewear/internal/client"
)

const (
	// ClientCookieName はクライアントIDを保持するCookieの名前。
	ClientCookieName = "rewear_client"
	// RefreshCookieName はセッション復元用のリフレッシュトークンを保持するCookieの名前。
	RefreshCookieName = "rewear_refresh"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var instanceContextKey = contextKey("client_instance")

// ClientRegistry はクライアント解決に必要なインターフェース。
// client.Registryの部分集合として定義する。
type ClientRegistry interface {
	Get(id string) *client.Instance
	Create(ctx context.Context, refreshToken string) *client.Instance
}

// CookieConfig はクライアントCookieとリフレッシュCookieの設定。
type CookieConfig struct {
	Secure bool
	Domain string
	MaxAge int // リフレッシュCookieの有効期間（秒）
}

// NewClientMiddleware はCookieからクライアントIDを読み取り、対応するInstanceを
// リクエストコンテキストに注入するミドルウェアを返す。
// 未知のクライアントには新しいInstanceを生成し、リフレッシュCookieがあればセッションを復元する。
func NewClientMiddleware(registry ClientRegistry, config CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var inst *client.Instance
			if c, err := r.Cookie(ClientCookieName); err == nil && c.Value != "" {
				inst = registry.Get(c.Value)
			}

			if inst == nil {
				var refreshToken string
				if c, err := r.Cookie(RefreshCookieName); err == nil {
					refreshToken = c.Value
				}
				inst = registry.Create(r.Context(), refreshToken)

				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookieName,
					Value:    inst.ID,
					Path:     "/",
					Domain:   config.Domain,
					HttpOnly: true,
					Secure:   config.Secure,
					SameSite: http.SameSiteLaxMode,
				})
				if refreshToken != "" {
					// 復元の成否に関わらず、現在のリフレッシュトークンに揃える
					SyncRefreshCookie(w, r, inst, config)
				}
			}

			if u := inst.Provider.CurrentUser(); u != nil {
				setLogUserID(r.Context(), u.ID)
			}

			ctx := context.WithValue(r.Context(), instanceContextKey, inst)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InstanceFromContext はリクエストコンテキストからクライアントInstanceを取得する。
// クライアントミドルウェアを通過したリクエストでのみ有効。
func InstanceFromContext(ctx context.Context) (*client.Instance, error) {
	inst, ok := ctx.Value(instanceContextKey).(*client.Instance)
	if !ok || inst == nil {
		return nil, fmt.Errorf("client instance not found in context")
	}
	return inst, nil
}

// ContextWithInstance はコンテキストにクライアントInstanceを注入する。
// テストで使用する。
func ContextWithInstance(ctx context.Context, inst *client.Instance) context.Context {
	return context.WithValue(ctx, instanceContextKey, inst)
}

// SyncRefreshCookie はリフレッシュCookieを現在のセッションに合わせる。
// サインアウト状態ではCookieを削除する。値が変わらない場合は何もしない。
func SyncRefreshCookie(w http.ResponseWriter, r *http.Request, inst *client.Instance, config CookieConfig) {
	var current string
	if c, err := r.Cookie(RefreshCookieName); err == nil {
		current = c.Value
	}

	var token string
	if s := inst.Provider.CurrentSession(); s != nil {
		token = s.RefreshToken
	}
	if token == current {
		return
	}

	cookie := &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   config.MaxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if token == "" {
		cookie.MaxAge = -1
	}
	http.SetCookie(w, cookie)
}
