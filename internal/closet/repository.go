// Package closet はサインイン中のアカウントが所有する出品アイテムを扱うItem Repositoryを提供する。
//
// Repositoryは一覧をメモリ上に保持し、作成・更新・削除のたびに行ストアから読み直す。
// ローカルでの差分適用は行わない。
package closet

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/rewear/internal/backend"
	"github.com/hitoshi/rewear/internal/metrics"
	"github.com/hitoshi/rewear/internal/model"
	"github.com/hitoshi/rewear/internal/security"
	"github.com/hitoshi/rewear/internal/session"
)

// State はRepositoryの状態を表す。
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateError         State = "error"
)

// Identity はRepositoryが参照する現在のユーザーを提供する。
// session.Providerが実装する。
type Identity interface {
	CurrentUser() *model.Account
	AccessToken(ctx context.Context) (string, error)
	Subscribe(l session.Listener) (unsubscribe func())
}

// Repository は1クライアント分のアイテム一覧キャッシュを所有する。
type Repository struct {
	identity  Identity
	store     backend.ItemStore
	sanitizer security.TextSanitizerService
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	now       func() time.Time

	mu       sync.RWMutex
	items    []model.ClothingItem
	state    State
	errMsg   string
	owner    string
	gen      uint64
	inflight int

	unsubscribe func()
}

// NewRepository はRepositoryを生成し、identityのセッション遷移を購読する。
// bがnilの場合はデモモードで動作する。
func NewRepository(
	identity Identity,
	b *backend.Backend,
	sanitizer security.TextSanitizerService,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	r := &Repository{
		identity:  identity,
		sanitizer: sanitizer,
		logger:    logger,
		metrics:   metrics.OrNop(m),
		now:       time.Now,
		state:     StateUninitialized,
	}
	if b.Available() {
		r.store = b.Items
	}
	r.unsubscribe = identity.Subscribe(r.onSessionChange)
	return r
}

// Close はセッション遷移の購読を解除する。
func (r *Repository) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

// onSessionChange はサインイン中のユーザーが変わったときにキャッシュを破棄して読み直す。
func (r *Repository) onSessionChange(ctx context.Context, event session.Event, s *model.Session) {
	if event == session.EventTokenRefreshed {
		return
	}

	var userID string
	if s != nil {
		userID = s.User.ID
	}

	r.mu.Lock()
	switched := userID != r.owner || r.state == StateUninitialized
	if switched {
		r.resetLocked(userID)
	}
	r.mu.Unlock()

	if switched {
		r.FetchItems(ctx)
	}
}

// resetLocked はキャッシュを破棄してuninitializedに戻す。r.muを保持して呼ぶこと。
func (r *Repository) resetLocked(owner string) {
	r.items = nil
	r.state = StateUninitialized
	r.errMsg = ""
	r.owner = owner
	r.inflight = 0
	r.gen++
}

// FetchItems は現在のユーザーのアイテムを作成日時の降順で読み直し、キャッシュを置き換える。
// 未サインインまたはデモモードでは空の一覧を返す。
// 失敗はエラーとして返さず、ErrorMessageで参照できる。
func (r *Repository) FetchItems(ctx context.Context) []model.ClothingItem {
	user := r.identity.CurrentUser()
	if user == nil || r.store == nil {
		r.mu.Lock()
		if user == nil && r.owner != "" {
			r.resetLocked("")
		}
		r.items = []model.ClothingItem{}
		r.state = StateReady
		r.errMsg = ""
		r.mu.Unlock()
		return []model.ClothingItem{}
	}

	r.mu.Lock()
	if r.owner != user.ID {
		r.resetLocked(user.ID)
	}
	gen := r.gen
	r.inflight++
	r.state = StateLoading
	r.mu.Unlock()

	start := r.now()
	items, err := r.list(ctx, user.ID)
	r.metrics.RecordFetchLatency(r.now().Sub(start))

	r.mu.Lock()
	defer r.mu.Unlock()

	// 取得中にユーザーが切り替わった場合は結果を捨てる
	if gen != r.gen {
		r.logger.Debug("discarding stale fetch", slog.String("user_id", user.ID))
		return []model.ClothingItem{}
	}

	r.inflight--
	if err != nil {
		r.metrics.RecordItemOperation("fetch", metrics.ResultFailure)
		r.logger.Error("failed to fetch items",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		r.errMsg = err.Error()
		r.state = StateError
		return copyItems(r.items)
	}

	r.metrics.RecordItemOperation("fetch", metrics.ResultSuccess)
	r.items = items
	r.errMsg = ""
	r.state = StateReady
	return copyItems(r.items)
}

func (r *Repository) list(ctx context.Context, ownerID string) ([]model.ClothingItem, error) {
	token, err := r.identity.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	items, err := r.store.ListByOwner(ctx, token, ownerID)
	if err != nil {
		return nil, model.NewDataError(err)
	}
	if items == nil {
		items = []model.ClothingItem{}
	}
	return items, nil
}

// AddItem は現在のユーザーを所有者としてアイテムを登録し、一覧を読み直してから作成したレコードを返す。
// Statusが空の場合は行ストアのデフォルト値が使われる。
func (r *Repository) AddItem(ctx context.Context, in model.NewItem) (*model.ClothingItem, error) {
	user := r.identity.CurrentUser()
	if user == nil {
		return nil, model.NewNotSignedInError()
	}
	if r.store == nil {
		return nil, model.NewUnavailableError()
	}

	in, err := normalizeNewItem(r.sanitizer, in)
	if err != nil {
		return nil, err
	}

	token, err := r.identity.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	item := &model.ClothingItem{
		OwnerID:     user.ID,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Size:        in.Size,
		Condition:   in.Condition,
		Price:       in.Price,
		Images:      in.Images,
		Status:      in.Status,
		CreatedAt:   r.now().UTC(),
	}
	created, err := r.store.Insert(ctx, token, item)
	if err != nil {
		r.metrics.RecordItemOperation("add", metrics.ResultFailure)
		r.logger.Error("failed to add item",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewDataError(err)
	}
	r.metrics.RecordItemOperation("add", metrics.ResultSuccess)

	r.FetchItems(ctx)
	return created, nil
}

// UpdateItem はIDと所有者が一致するアイテムを更新し、一覧を読み直す。
// 他のアカウントのアイテムや存在しないIDは何も更新せず、エラーも返さない。
func (r *Repository) UpdateItem(ctx context.Context, id string, upd model.ItemUpdate) error {
	user := r.identity.CurrentUser()
	if user == nil {
		return model.NewNotSignedInError()
	}
	if r.store == nil {
		return model.NewUnavailableError()
	}

	upd, err := normalizeUpdate(r.sanitizer, upd)
	if err != nil {
		return err
	}

	token, err := r.identity.AccessToken(ctx)
	if err != nil {
		return err
	}

	n, err := r.store.UpdateByIDAndOwner(ctx, token, id, user.ID, upd)
	if err != nil {
		r.metrics.RecordItemOperation("update", metrics.ResultFailure)
		r.logger.Error("failed to update item",
			slog.String("item_id", id),
			slog.String("error", err.Error()),
		)
		return model.NewDataError(err)
	}
	r.metrics.RecordItemOperation("update", metrics.ResultSuccess)
	if n == 0 {
		r.logger.Debug("update matched no rows", slog.String("item_id", id))
	}

	r.FetchItems(ctx)
	return nil
}

// DeleteItem はIDと所有者が一致するアイテムを削除し、一覧を読み直す。
func (r *Repository) DeleteItem(ctx context.Context, id string) error {
	user := r.identity.CurrentUser()
	if user == nil {
		return model.NewNotSignedInError()
	}
	if r.store == nil {
		return model.NewUnavailableError()
	}

	token, err := r.identity.AccessToken(ctx)
	if err != nil {
		return err
	}

	n, err := r.store.DeleteByIDAndOwner(ctx, token, id, user.ID)
	if err != nil {
		r.metrics.RecordItemOperation("delete", metrics.ResultFailure)
		r.logger.Error("failed to delete item",
			slog.String("item_id", id),
			slog.String("error", err.Error()),
		)
		return model.NewDataError(err)
	}
	r.metrics.RecordItemOperation("delete", metrics.ResultSuccess)
	if n == 0 {
		r.logger.Debug("delete matched no rows", slog.String("item_id", id))
	}

	r.FetchItems(ctx)
	return nil
}

// Search はキャッシュからタイトルまたはカテゴリに語を含むアイテムを返す。
// 大文字小文字は区別しない。空の語は全件を返す。
func (r *Repository) Search(term string) []model.ClothingItem {
	r.mu.RLock()
	defer r.mu.RUnlock()

	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return copyItems(r.items)
	}

	out := []model.ClothingItem{}
	for _, it := range r.items {
		if strings.Contains(strings.ToLower(it.Title), term) ||
			strings.Contains(strings.ToLower(it.Category), term) {
			out = append(out, it)
		}
	}
	return out
}

// Items はキャッシュのコピーを返す。
func (r *Repository) Items() []model.ClothingItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyItems(r.items)
}

// Loading は取得中であればtrueを返す。
func (r *Repository) Loading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inflight > 0
}

// State は現在の状態を返す。
func (r *Repository) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// ErrorMessage は直近の取得失敗のメッセージを返す。成功後は空文字列になる。
func (r *Repository) ErrorMessage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errMsg
}

func copyItems(items []model.ClothingItem) []model.ClothingItem {
	out := make([]model.ClothingItem, len(items))
	for i, it := range items {
		if it.Images != nil {
			imgs := make([]string, len(it.Images))
			copy(imgs, it.Images)
			it.Images = imgs
		}
		if it.Price != nil {
			p := *it.Price
			it.Price = &p
		}
		out[i] = it
	}
	return out
}
