// Package auth はセルフホスト構成の認証（パスワード認証、アクセストークン発行、リフレッシュセッション管理）を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/rewear/internal/backend"
	"github.com/hitoshi/rewear/internal/model"
	"github.com/hitoshi/rewear/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // リフレッシュセッション有効期間（秒）
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
}

// Service はセルフホスト構成の認証ロジックを提供する。
// backend.Authを実装し、Session Providerから利用される。
type Service struct {
	credRepo    repository.CredentialRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenIssuer
	config      ServiceConfig
	logger      *slog.Logger
	now         func() time.Time
}

// コンパイル時にインターフェースの実装を検証する。
var _ backend.Auth = (*Service)(nil)

// NewService はServiceを生成する。
func NewService(
	credRepo repository.CredentialRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenIssuer,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		credRepo:    credRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// SignUp は資格情報を作成し、そのままセッションを発行する。
// セルフホスト構成ではメール確認を行わない。
func (s *Service) SignUp(ctx context.Context, email, password, username string) (*model.Session, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.NewInvalidCredentialsError("unable to validate email address: invalid format")
	}
	if password == "" {
		return nil, model.NewInvalidCredentialsError("password is required")
	}

	existing, err := s.credRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateAccountError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	cred := &model.Credential{
		UserID:       uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		Username:     strings.TrimSpace(username),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.credRepo.Create(ctx, cred); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateAccountError()
		}
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}

	s.logger.Info("new account registered",
		slog.String("user_id", cred.UserID),
	)

	return s.issueSession(ctx, cred)
}

// SignInWithPassword はパスワードを照合してセッションを発行する。
// メールアドレスの未登録とパスワード不一致は区別しない。
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	cred, err := s.credRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	if cred == nil {
		return nil, model.NewInvalidCredentialsError("")
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		return nil, model.NewInvalidCredentialsError("")
	}

	s.logger.Info("user signed in", slog.String("user_id", cred.UserID))
	return s.issueSession(ctx, cred)
}

// RefreshSession はリフレッシュトークンを検証し、ローテーションした新しいセッションを返す。
// 使用済みのリフレッシュトークンは削除される。
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	if refreshToken == "" {
		return nil, model.NewInvalidSessionError()
	}

	rs, err := s.sessionRepo.FindByID(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if rs == nil {
		return nil, model.NewInvalidSessionError()
	}

	if err := s.sessionRepo.DeleteByID(ctx, rs.ID); err != nil {
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}

	cred, err := s.credRepo.FindByUserID(ctx, rs.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	if cred == nil {
		return nil, model.NewInvalidSessionError()
	}

	return s.issueSession(ctx, cred)
}

// SignOut はアクセストークンの持ち主の全リフレッシュセッションを破棄する。
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	claims, err := s.tokens.Verify(accessToken)
	if err != nil {
		return model.NewInvalidSessionError()
	}

	if err := s.sessionRepo.DeleteByUserID(ctx, claims.Subject); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	s.logger.Info("user signed out", slog.String("user_id", claims.Subject))
	return nil
}

// ResetPasswordForEmail はパスワード再設定要求を受け付ける。
// メール送信手段を持たないため要求をログに記録するのみで、
// アカウントの有無は呼び出し元に返さない。
func (s *Service) ResetPasswordForEmail(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return model.NewInvalidCredentialsError("email is required")
	}

	cred, err := s.credRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find credential: %w", err)
	}
	if cred == nil {
		s.logger.Info("password reset requested for unknown email")
		return nil
	}

	s.logger.Info("password reset requested",
		slog.String("user_id", cred.UserID),
	)
	return nil
}

// VerifyAccessToken はアクセストークンを検証し、アカウントIDを返す。
func (s *Service) VerifyAccessToken(accessToken string) (string, error) {
	claims, err := s.tokens.Verify(accessToken)
	if err != nil {
		return "", model.NewInvalidSessionError()
	}
	return claims.Subject, nil
}

// PurgeExpiredSessions は期限切れのリフレッシュセッションを削除する。
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessionRepo.DeleteExpired(ctx, s.now())
}

// issueSession はリフレッシュセッションを永続化し、アクセストークンと合わせて返す。
func (s *Service) issueSession(ctx context.Context, cred *model.Credential) (*model.Session, error) {
	refreshToken, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	rs := &model.RefreshSession{
		ID:        refreshToken,
		UserID:    cred.UserID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, rs); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	accessToken, expiresAt, err := s.tokens.Issue(cred.UserID, cred.Email, cred.Username)
	if err != nil {
		return nil, err
	}

	return &model.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		User: model.Account{
			ID:        cred.UserID,
			Email:     cred.Email,
			Username:  cred.Username,
			CreatedAt: cred.CreatedAt,
		},
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
