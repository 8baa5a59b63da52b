// Package cleanup は定期的な後始末ジョブを提供する。
// アクセスのないクライアントInstanceを破棄し、セルフホスト構成では
// 期限切れのリフレッシュセッションを削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ClientEvictor はアイドル状態のクライアントを破棄する。client.Registryが実装する。
type ClientEvictor interface {
	EvictIdle() int
}

// SessionPurger は期限切れのリフレッシュセッションを削除する。auth.Serviceが実装する。
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// CleanupJob はクライアントとセッションの後始末を行うジョブ。
// 冪等であり、何度実行しても結果は変わらない。
type CleanupJob struct {
	clients  ClientEvictor
	sessions SessionPurger
	logger   *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
// sessionsはセルフホスト構成以外ではnilを渡す。
func NewCleanupJob(clients ClientEvictor, sessions SessionPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		clients:  clients,
		sessions: sessions,
		logger:   logger,
	}
}

// Run は1回分の後始末を実行する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	evicted := 0
	if j.clients != nil {
		evicted = j.clients.EvictIdle()
	}

	var purged int64
	if j.sessions != nil {
		n, err := j.sessions.PurgeExpiredSessions(ctx)
		if err != nil {
			j.logger.Error("期限切れセッションの削除に失敗しました",
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
		}
		purged = n
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int("evicted_clients", evicted),
		slog.Int64("purged_sessions", purged),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はctxがキャンセルされるまでintervalごとにRunを実行する。
// 起動直後に1回実行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
