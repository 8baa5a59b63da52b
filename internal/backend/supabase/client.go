// Package supabase はSupabase（GoTrue認証とPostgREST行ストア）をバックエンドとして利用するクライアントを提供する。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hitoshi/rewear/internal/backend"
)

// maxResponseSize はレスポンスボディの読み取り上限。
const maxResponseSize = 4 << 20

// Client はSupabaseプロジェクトのREST APIクライアント。
// 状態を持たないため、全クライアントインスタンスで共有できる。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	anonKey    string
	now        func() time.Time // テスト用に差し替え可能
}

// コンパイル時にインターフェースの実装を検証する。
var (
	_ backend.Auth         = (*Client)(nil)
	_ backend.AccountStore = (*Client)(nil)
	_ backend.ItemStore    = (*Client)(nil)
)

// NewHTTPClient はOpenTelemetryで計装したHTTPクライアントを生成する。
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLはプロジェクトURL（例: https://xyz.supabase.co）。
func NewClient(httpClient *http.Client, baseURL, anonKey string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		now:        time.Now,
	}
}

// NewBackend はSupabaseクライアントを認証・行ストアとして束ねたBackendを返す。
func NewBackend(c *Client) *backend.Backend {
	return &backend.Backend{
		Name:     "supabase",
		Auth:     c,
		Accounts: c,
		Items:    c,
	}
}

// request は1回のAPI呼び出しを表す。
type request struct {
	method      string
	path        string
	query       url.Values
	body        any
	accessToken string
	prefer      string
}

// errorBody はGoTrueとPostgRESTのエラーレスポンスの共通部分。
// GoTrueのcodeは数値、PostgRESTのcodeは文字列のためRawMessageで受ける。
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Details          string          `json:"details"`
	Hint             string          `json:"hint"`
}

// statusError は2xx以外のレスポンスを表す。
type statusError struct {
	Status int
	Body   errorBody
}

func (e *statusError) Error() string {
	msg := firstNonEmpty(e.Body.Msg, e.Body.Message, e.Body.ErrorDescription, e.Body.Error)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("supabase: status %d: %s", e.Status, msg)
}

// stringCode はPostgRESTの文字列エラーコードを返す。数値コードの場合は空文字列。
func (e *statusError) stringCode() string {
	var s string
	if err := json.Unmarshal(e.Body.Code, &s); err != nil {
		return ""
	}
	return s
}

// do はリクエストを送信し、2xxであればレスポンスをoutにデコードする。
// outがnilの場合はボディを読み捨てる。
func (c *Client) do(ctx context.Context, r request, out any) error {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	token := r.accessToken
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Supabase APIの呼び出しに失敗しました",
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &statusError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, &se.Body)
		c.logger.Warn("Supabase APIがエラーステータスを返しました",
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("error_code", firstNonEmpty(se.Body.ErrorCode, se.stringCode(), se.Body.Error)),
		)
		return se
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
