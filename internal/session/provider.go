// Package session はクライアント1つ分の認証状態を保持するSession Providerを提供する。
//
// Providerはバックエンドの認証プリミティブをラップし、現在のユーザーとセッションを公開する。
// セッションが変化するたびに購読者へイベントを通知し、サインイン時には
// アカウント行のブートストラップをバックグラウンドで実行する。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/rewear/internal/backend"
	"github.com/hitoshi/rewear/internal/metrics"
	"github.com/hitoshi/rewear/internal/model"
)

// Event はセッション遷移の種類を表す。
type Event string

const (
	// EventInitialSession はInitで初回のセッション確認が終わったときに通知される。
	EventInitialSession Event = "INITIAL_SESSION"
	// EventSignedIn はサインイン（サインアップ直後を含む）で通知される。
	EventSignedIn Event = "SIGNED_IN"
	// EventSignedOut はサインアウトまたはセッション失効で通知される。
	EventSignedOut Event = "SIGNED_OUT"
	// EventTokenRefreshed はアクセストークンの更新で通知される。ユーザーは変わらない。
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener はセッション遷移の通知を受け取る。
// sessionはサインアウト時にnilになる。
type Listener func(ctx context.Context, event Event, session *model.Session)

// bootstrapTimeout はアカウント行ブートストラップ1回あたりの上限時間。
const bootstrapTimeout = 30 * time.Second

type subscription struct {
	id       int
	listener Listener
}

// Provider は1クライアント分のセッションを所有する。
// 状態はmuで保護し、ネットワークI/Oの間はロックを保持しない。
type Provider struct {
	backend *backend.Backend
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time

	mu           sync.RWMutex
	session      *model.Session
	initializing bool
	initialized  bool
	subs         []subscription
	nextSubID    int

	// refreshMu はトークン更新を直列化する。
	refreshMu sync.Mutex

	// bootstrapMu は同一Provider内のブートストラップを直列化する。
	bootstrapMu sync.Mutex
	wg          sync.WaitGroup
}

// NewProvider はProviderを生成する。bがnilの場合はデモモードで動作する。
func NewProvider(b *backend.Backend, logger *slog.Logger, m metrics.MetricsCollector) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		backend:      b,
		logger:       logger,
		metrics:      metrics.OrNop(m),
		now:          time.Now,
		initializing: true,
	}
}

// Init は初回のセッション確認を行う。
// refreshTokenが空でなければバックエンドでセッションを復元する。
// 復元の失敗はログに記録するのみで、結果に関わらずIsInitializingはfalseになる。
// 2回目以降の呼び出しは何もしない。
func (p *Provider) Init(ctx context.Context, refreshToken string) {
	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		return
	}
	p.initialized = true
	p.mu.Unlock()

	var restored *model.Session
	switch {
	case !p.backend.Available():
		p.logger.Warn("running in demo mode: backend credentials not configured")
	case refreshToken != "":
		s, err := p.backend.Auth.RefreshSession(ctx, refreshToken)
		if err != nil {
			p.logger.Warn("failed to restore session", slog.String("error", err.Error()))
			p.metrics.RecordAuthOperation("restore", metrics.ResultFailure)
		} else {
			restored = s
			p.metrics.RecordAuthOperation("restore", metrics.ResultSuccess)
		}
	}

	p.mu.Lock()
	p.session = restored
	p.initializing = false
	p.mu.Unlock()

	p.notify(ctx, EventInitialSession, restored)
}

// SignUp はアカウントを作成する。
// バックエンドがセッションを発行した場合はサインイン状態に遷移し、ブートストラップを起動する。
// メール確認が必要でセッションが発行されない場合は遷移しない。
func (p *Provider) SignUp(ctx context.Context, email, password, username string) error {
	if !p.backend.Available() {
		p.metrics.RecordAuthOperation("signup", metrics.ResultUnavailable)
		return model.NewUnavailableError()
	}

	s, err := p.backend.Auth.SignUp(ctx, email, password, username)
	if err != nil {
		p.metrics.RecordAuthOperation("signup", metrics.ResultFailure)
		return model.NewAuthError(err)
	}
	p.metrics.RecordAuthOperation("signup", metrics.ResultSuccess)

	if s == nil {
		p.logger.Info("sign up requires email confirmation")
		return nil
	}
	p.signedIn(ctx, s)
	return nil
}

// SignIn はメールアドレスとパスワードでサインインする。
func (p *Provider) SignIn(ctx context.Context, email, password string) error {
	if !p.backend.Available() {
		p.metrics.RecordAuthOperation("signin", metrics.ResultUnavailable)
		return model.NewUnavailableError()
	}

	s, err := p.backend.Auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		p.metrics.RecordAuthOperation("signin", metrics.ResultFailure)
		return model.NewAuthError(err)
	}
	p.metrics.RecordAuthOperation("signin", metrics.ResultSuccess)

	p.signedIn(ctx, s)
	return nil
}

// SignOut はセッションを終了する。
// ローカルのセッションはバックエンド呼び出しの結果に関わらず破棄される。
func (p *Provider) SignOut(ctx context.Context) error {
	if !p.backend.Available() {
		p.metrics.RecordAuthOperation("signout", metrics.ResultUnavailable)
		return model.NewUnavailableError()
	}

	p.mu.Lock()
	prev := p.session
	p.session = nil
	p.mu.Unlock()

	var err error
	if prev != nil {
		err = p.backend.Auth.SignOut(ctx, prev.AccessToken)
	}
	if err != nil {
		p.metrics.RecordAuthOperation("signout", metrics.ResultFailure)
		p.logger.Warn("backend sign out failed", slog.String("error", err.Error()))
	} else {
		p.metrics.RecordAuthOperation("signout", metrics.ResultSuccess)
	}

	if prev != nil {
		p.notify(ctx, EventSignedOut, nil)
	}

	if err != nil {
		return model.NewAuthError(err)
	}
	return nil
}

// ResetPassword はパスワード再設定を要求する。ローカルのセッションは変更しない。
func (p *Provider) ResetPassword(ctx context.Context, email string) error {
	if !p.backend.Available() {
		p.metrics.RecordAuthOperation("reset_password", metrics.ResultUnavailable)
		return model.NewUnavailableError()
	}

	if err := p.backend.Auth.ResetPasswordForEmail(ctx, email); err != nil {
		p.metrics.RecordAuthOperation("reset_password", metrics.ResultFailure)
		return model.NewAuthError(err)
	}
	p.metrics.RecordAuthOperation("reset_password", metrics.ResultSuccess)
	return nil
}

// CurrentUser は現在のアカウントを返す。未サインインの場合はnil。
func (p *Provider) CurrentUser() *model.Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return nil
	}
	u := p.session.User
	return &u
}

// CurrentSession は現在のセッションのコピーを返す。未サインインの場合はnil。
func (p *Provider) CurrentSession() *model.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return nil
	}
	s := *p.session
	return &s
}

// IsInitializing は初回のセッション確認が終わっていなければtrueを返す。
func (p *Provider) IsInitializing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initializing
}

// Mode はバックエンド構成名を返す。デモモードでは"demo"。
func (p *Provider) Mode() string {
	if !p.backend.Available() {
		return "demo"
	}
	return p.backend.Name
}

// AccessToken は有効なアクセストークンを返す。
// 期限切れの場合はリフレッシュトークンで更新し、失敗した場合はサインアウト状態に遷移する。
// 更新はProvider内で直列化し、ローテーション済みのトークンで二重に更新しない。
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	if !p.backend.Available() {
		return "", model.NewUnavailableError()
	}

	p.mu.RLock()
	s := p.session
	p.mu.RUnlock()
	if s == nil {
		return "", model.NewNotSignedInError()
	}
	if !s.Expired(p.now()) {
		return s.AccessToken, nil
	}

	event, current, err := p.refresh(ctx)
	if event != "" {
		p.notify(ctx, event, current)
	}
	if err != nil {
		return "", err
	}
	return current.AccessToken, nil
}

// refresh は期限切れのセッションを更新する。通知すべきイベントがあれば返す。
// 待っている間に別の呼び出しが更新を済ませていれば、その結果を使う。
func (p *Provider) refresh(ctx context.Context) (Event, *model.Session, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.RLock()
	s := p.session
	p.mu.RUnlock()
	if s == nil {
		return "", nil, model.NewNotSignedInError()
	}
	if !s.Expired(p.now()) {
		return "", s, nil
	}

	refreshed, err := p.backend.Auth.RefreshSession(ctx, s.RefreshToken)
	if err != nil {
		p.logger.Warn("failed to refresh session",
			slog.String("user_id", s.User.ID),
			slog.String("error", err.Error()),
		)
		p.mu.Lock()
		// 並行して別のセッションに切り替わっていれば触らない
		cleared := p.session == s
		if cleared {
			p.session = nil
		}
		p.mu.Unlock()
		if cleared {
			return EventSignedOut, nil, model.NewAuthError(err)
		}
		return "", nil, model.NewAuthError(err)
	}

	p.mu.Lock()
	replaced := p.session == s
	if replaced {
		p.session = refreshed
	}
	p.mu.Unlock()
	if !replaced {
		return "", nil, model.NewInvalidSessionError()
	}
	return EventTokenRefreshed, refreshed, nil
}

// Subscribe はセッション遷移の購読を登録し、解除関数を返す。
// 通知は登録順に同期的に行われる。
func (p *Provider) Subscribe(l Listener) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextSubID++
	id := p.nextSubID
	p.subs = append(p.subs, subscription{id: id, listener: l})

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, s := range p.subs {
				if s.id == id {
					p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Wait はバックグラウンドのブートストラップがすべて終わるまで待つ。
func (p *Provider) Wait() {
	p.wg.Wait()
}

// signedIn はセッションを設定し、購読者への通知とブートストラップの起動を行う。
func (p *Provider) signedIn(ctx context.Context, s *model.Session) {
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()

	p.notify(ctx, EventSignedIn, s)
	p.startBootstrap(ctx, s)
}

func (p *Provider) notify(ctx context.Context, event Event, s *model.Session) {
	p.mu.RLock()
	subs := make([]subscription, len(p.subs))
	copy(subs, p.subs)
	p.mu.RUnlock()

	for _, sub := range subs {
		sub.listener(ctx, event, s)
	}
}

// startBootstrap はアカウント行のブートストラップを起動する。
// 呼び出し元のキャンセルには追従せず、結果は呼び出し元に返さない。
func (p *Provider) startBootstrap(ctx context.Context, s *model.Session) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bootstrapTimeout)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				p.metrics.RecordBootstrap(metrics.ResultFailure)
				p.logger.Error("panic in account bootstrap",
					slog.String("user_id", s.User.ID),
					slog.Any("panic", r),
				)
			}
		}()

		p.bootstrapMu.Lock()
		defer p.bootstrapMu.Unlock()

		if err := p.bootstrap(bctx, s); err != nil {
			p.metrics.RecordBootstrap(metrics.ResultFailure)
			p.logger.Error("failed to bootstrap account",
				slog.String("user_id", s.User.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		p.metrics.RecordBootstrap(metrics.ResultSuccess)
	}()
}

// bootstrap はアカウント行が存在しなければ作成する。
func (p *Provider) bootstrap(ctx context.Context, s *model.Session) error {
	existing, err := p.backend.Accounts.FindAccount(ctx, s.AccessToken, s.User.ID)
	if err != nil {
		return fmt.Errorf("find account: %w", err)
	}
	if existing != nil {
		return nil
	}

	account := &model.Account{
		ID:        s.User.ID,
		Email:     s.User.Email,
		Username:  s.User.Username,
		CreatedAt: p.now().UTC(),
	}
	if err := p.backend.Accounts.InsertAccount(ctx, s.AccessToken, account); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}

	p.logger.Info("account created", slog.String("user_id", account.ID))
	return nil
}
