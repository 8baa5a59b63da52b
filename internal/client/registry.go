// Package client はブラウザクライアントごとのSession ProviderとItem Repositoryを管理する。
//
// 1つのクライアントは不透明なクライアントIDで識別され、Instanceとして
// Providerとそれを購読するRepositoryの組を持つ。一定時間アクセスのない
// Instanceはクリーンアップワーカーによって破棄される。
package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/rewear/internal/backend"
	"github.com/hitoshi/rewear/internal/closet"
	"github.com/hitoshi/rewear/internal/metrics"
	"github.com/hitoshi/rewear/internal/security"
	"github.com/hitoshi/rewear/internal/session"
)

// Instance は1クライアント分の状態。
type Instance struct {
	ID         string
	Provider   *session.Provider
	Repository *closet.Repository

	lastSeen time.Time
}

// close はRepositoryの購読を解除し、実行中のブートストラップを待つ。
func (i *Instance) close() {
	i.Repository.Close()
	i.Provider.Wait()
}

// Registry はクライアントIDからInstanceを引く。
type Registry struct {
	backend     *backend.Backend
	sanitizer   security.TextSanitizerService
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
	idleTimeout time.Duration
	maxClients  int
	now         func() time.Time

	mu        sync.Mutex
	instances map[string]*Instance
}

// NewRegistry はRegistryを生成する。bがnilの場合、生成されるInstanceはデモモードで動作する。
func NewRegistry(
	b *backend.Backend,
	sanitizer security.TextSanitizerService,
	logger *slog.Logger,
	m metrics.MetricsCollector,
	idleTimeout time.Duration,
) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &Registry{
		backend:     b,
		sanitizer:   sanitizer,
		logger:      logger,
		metrics:     metrics.OrNop(m),
		idleTimeout: idleTimeout,
		now:         time.Now,
		instances:   make(map[string]*Instance),
	}
}

// SetMaxClients は保持するInstance数の上限を設定する。0以下なら上限なし。
// 上限に達した状態でCreateされると、最終アクセスが最も古いInstanceから破棄する。
func (r *Registry) SetMaxClients(n int) {
	r.mu.Lock()
	r.maxClients = n
	r.mu.Unlock()
}

// Get は指定IDのInstanceを返し、最終アクセス時刻を更新する。存在しない場合はnil。
func (r *Registry) Get(id string) *Instance {
	if id == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return nil
	}
	inst.lastSeen = r.now()
	return inst
}

// Create は新しいInstanceを生成して登録する。
// refreshTokenが空でなければセッションの復元を試みる。
func (r *Registry) Create(ctx context.Context, refreshToken string) *Instance {
	p := session.NewProvider(r.backend, r.logger, r.metrics)
	repo := closet.NewRepository(p, r.backend, r.sanitizer, r.logger, r.metrics)
	inst := &Instance{
		ID:         uuid.New().String(),
		Provider:   p,
		Repository: repo,
	}

	// Repositoryが購読済みなので、復元されたユーザーの一覧はInitの中で読み込まれる
	p.Init(ctx, refreshToken)

	r.mu.Lock()
	var evicted []*Instance
	for r.maxClients > 0 && len(r.instances) >= r.maxClients {
		oldest := r.oldestLocked()
		delete(r.instances, oldest.ID)
		evicted = append(evicted, oldest)
	}
	inst.lastSeen = r.now()
	r.instances[inst.ID] = inst
	n := len(r.instances)
	r.mu.Unlock()

	for _, old := range evicted {
		old.close()
	}
	if len(evicted) > 0 {
		r.logger.Warn("client limit reached, evicted oldest clients",
			slog.Int("count", len(evicted)),
			slog.Int("max_clients", r.maxClients),
		)
	}

	r.metrics.SetLiveClients(n)
	r.logger.Debug("client instance created", slog.String("client_id", inst.ID))
	return inst
}

// oldestLocked は最終アクセスが最も古いInstanceを返す。r.muを保持して呼ぶこと。
func (r *Registry) oldestLocked() *Instance {
	var oldest *Instance
	for _, inst := range r.instances {
		if oldest == nil || inst.lastSeen.Before(oldest.lastSeen) {
			oldest = inst
		}
	}
	return oldest
}

// Remove は指定IDのInstanceを破棄する。
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if ok {
		delete(r.instances, id)
	}
	n := len(r.instances)
	r.mu.Unlock()

	if ok {
		inst.close()
		r.metrics.SetLiveClients(n)
	}
}

// EvictIdle はidleTimeoutを超えてアクセスのないInstanceを破棄し、破棄した数を返す。
func (r *Registry) EvictIdle() int {
	if r.idleTimeout <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTimeout)

	r.mu.Lock()
	var evicted []*Instance
	for id, inst := range r.instances {
		if inst.lastSeen.Before(cutoff) {
			evicted = append(evicted, inst)
			delete(r.instances, id)
		}
	}
	n := len(r.instances)
	r.mu.Unlock()

	for _, inst := range evicted {
		inst.close()
	}
	if len(evicted) > 0 {
		r.metrics.SetLiveClients(n)
		r.logger.Info("evicted idle clients", slog.Int("count", len(evicted)))
	}
	return len(evicted)
}

// Len は保持しているInstance数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Close は全Instanceを破棄する。シャットダウン時に呼ぶ。
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		all = append(all, inst)
	}
	r.instances = make(map[string]*Instance)
	r.mu.Unlock()

	for _, inst := range all {
		inst.close()
	}
	r.metrics.SetLiveClients(0)
}

// Mode はバックエンド構成名を返す。
func (r *Registry) Mode() string {
	if !r.backend.Available() {
		return "demo"
	}
	return r.backend.Name
}
