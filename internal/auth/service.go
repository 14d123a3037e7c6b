// Package auth はOAuth認証フロー、セッション管理を提供する。
//
// ログインできるのはユーザー名簿に登録済みのemailのみで、未登録ユーザーの自動作成は行わない。
// 発行するセッションはログイン時点のユーザー情報のスナップショットで、
// 以降のリクエストでは名簿を再参照しない。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/eyescreen/internal/model"
	"github.com/hitoshi/eyescreen/internal/repository"
	"github.com/hitoshi/eyescreen/internal/security"
)

// ログイン結果のメトリクスラベル。
const (
	LoginSuccess      = "success"
	LoginUnregistered = "unregistered"
	LoginUnverified   = "unverified"
	LoginFailed       = "failed"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Picture        string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// LoginRecorder はログイン結果のメトリクス記録インターフェース。
type LoginRecorder interface {
	RecordLogin(result string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge time.Duration // セッションの絶対有効期間
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	metrics     LoginRecorder
	sanitizer   security.TextSanitizer
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
// oauthがnilの場合（クライアント認証情報が未設定）はログイン操作がLoginUnavailableエラーになる。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	metrics LoginRecorder,
	sanitizer security.TextSanitizer,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		metrics:     metrics,
		sanitizer:   sanitizer,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", model.NewLoginUnavailableError()
	}
	return s.oauth.GetLoginURL(state), nil
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 名簿に存在しないemailはUserNotRegisteredエラーになる。
// 登録済みの場合は氏名とプロフィール画像をIdPの値で更新してからスナップショットを取る。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if s.oauth == nil {
		return nil, model.NewLoginUnavailableError()
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if errors.Is(err, ErrEmailNotVerified) {
		// 未確認のemailは名簿照合に使わない
		s.recordLogin(LoginUnverified)
		return nil, model.NewUserNotRegisteredError()
	}
	if err != nil {
		s.recordLogin(LoginFailed)
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. 名簿をemailで検索
	email := strings.ToLower(strings.TrimSpace(userInfo.Email))
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		s.recordLogin(LoginFailed)
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.recordLogin(LoginUnregistered)
		slog.Info("unregistered user attempted to log in",
			slog.String("provider", userInfo.Provider),
		)
		return nil, model.NewUserNotRegisteredError()
	}

	// 3. IdPの氏名とプロフィール画像を反映（他の列は書き換えない）
	if changes, ok := s.identityChanges(user, userInfo); ok {
		refreshed, err := s.userRepo.Patch(ctx, user.ID, changes)
		switch {
		case err != nil:
			slog.Warn("failed to refresh user profile from identity provider",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		case refreshed != nil:
			user = refreshed
		}
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, user)
	if err != nil {
		s.recordLogin(LoginFailed)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.recordLogin(LoginSuccess)
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return session, nil
}

// Logout はセッションを破棄する。セッションIDが空の場合は何もしない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// FindSession は有効なセッションを取得する。見つからない・期限切れの場合はnilを返す。
func (s *Service) FindSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || !session.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return session, nil
}

// createSession はユーザーのスナップショットからセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, user *model.User) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := model.NewSessionSnapshot(sessionID, user, s.now(), s.config.SessionMaxAge)

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func (s *Service) recordLogin(result string) {
	if s.metrics != nil {
		s.metrics.RecordLogin(result)
	}
}

// identityChanges はIdPの氏名とプロフィール画像のうち、名簿と異なるものをパッチにする。
// 氏名はマークアップを除去してから比較する。IdPが空の値を返した項目は対象外。
func (s *Service) identityChanges(user *model.User, info *OAuthUserInfo) (model.UserPatch, bool) {
	var changes model.UserPatch
	if name := s.sanitizer.Sanitize(info.Name); name != "" && name != user.Name {
		changes.Name = &name
	}
	if picture := strings.TrimSpace(info.Picture); picture != "" && picture != user.ProfileImage {
		changes.ProfileImage = &picture
	}
	return changes, !changes.IsEmpty()
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
