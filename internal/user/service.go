// Package user はユーザー名簿（User Directory）のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hitoshi/eyescreen/internal/model"
	"github.com/hitoshi/eyescreen/internal/repository"
	"github.com/hitoshi/eyescreen/internal/security"
)

// CreateInput は管理者によるユーザー作成の入力。
// Roleが空の場合はuserとして作成する。
type CreateInput struct {
	Email        string
	Name         string
	Role         string
	ProfileImage string
	District     string
	State        string
}

// UpdatePatch は管理者によるユーザー更新の入力。nilのフィールドは変更しない。
type UpdatePatch struct {
	Email        *string
	Name         *string
	Role         *string
	ProfileImage *string
	District     *string
	State        *string
}

// ProfileInput は本人によるプロフィール更新の入力。
// Nameがnilの場合は現在の値を維持する。
type ProfileInput struct {
	Name     *string
	District string
	State    string
}

// Service はユーザー名簿のサービス層。
type Service struct {
	userRepo  repository.UserRepository
	sanitizer security.TextSanitizer
	validate  *validator.Validate
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{
		userRepo:  userRepo,
		sanitizer: sanitizer,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// List は全ユーザーを作成日時順に返す。
func (s *Service) List(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// GetSelf はセッションのユーザーIDでユーザー名簿を引き直す。
// セッション作成後に削除されたユーザーはNotFoundになる。
func (s *Service) GetSelf(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Create はユーザーを作成する。
func (s *Service) Create(ctx context.Context, input CreateInput) (*model.User, error) {
	email, err := s.normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}

	role := model.RoleUser
	if input.Role != "" {
		role = model.Role(input.Role)
		if !role.IsValid() {
			return nil, model.NewInvalidRoleError(input.Role)
		}
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailAlreadyExistsError()
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         s.sanitizer.Sanitize(input.Name),
		Role:         role,
		ProfileImage: strings.TrimSpace(input.ProfileImage),
		District:     s.sanitizer.Sanitize(input.District),
		State:        s.sanitizer.Sanitize(input.State),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailAlreadyExistsError()
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを作成しました",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// Update は指定フィールドのみを上書きする。
// 更新は指定した列だけに限定され、同時に行われた別の列の更新を打ち消さない。
func (s *Service) Update(ctx context.Context, id string, patch UpdatePatch) (*model.User, error) {
	var changes model.UserPatch

	if patch.Email != nil {
		email, err := s.normalizeEmail(*patch.Email)
		if err != nil {
			return nil, err
		}
		changes.Email = &email
	}
	if patch.Role != nil {
		role := model.Role(*patch.Role)
		if !role.IsValid() {
			return nil, model.NewInvalidRoleError(*patch.Role)
		}
		changes.Role = &role
	}
	if patch.Name != nil {
		changes.Name = s.sanitizeOptional(*patch.Name)
	}
	if patch.ProfileImage != nil {
		image := strings.TrimSpace(*patch.ProfileImage)
		changes.ProfileImage = &image
	}
	if patch.District != nil {
		changes.District = s.sanitizeOptional(*patch.District)
	}
	if patch.State != nil {
		changes.State = s.sanitizeOptional(*patch.State)
	}

	user, err := s.userRepo.Patch(ctx, id, changes)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailAlreadyExistsError()
		}
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}

// UpdateProfile は本人のプロフィール（氏名・地区・州）を更新する。
// 地区と州はどちらも必須。
func (s *Service) UpdateProfile(ctx context.Context, userID string, input ProfileInput) (*model.User, error) {
	district := s.sanitizer.Sanitize(input.District)
	state := s.sanitizer.Sanitize(input.State)
	if district == "" || state == "" {
		return nil, model.NewProfileFieldsRequiredError()
	}

	changes := model.UserPatch{District: &district, State: &state}
	if input.Name != nil {
		changes.Name = s.sanitizeOptional(*input.Name)
	}

	user, err := s.userRepo.Patch(ctx, userID, changes)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}

// Delete はユーザーを削除する。
// 判定履歴とセッションは削除しない。既存セッションは有効期限まで使える。
func (s *Service) Delete(ctx context.Context, id string) error {
	deleted, err := s.userRepo.DeleteByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewUserNotFoundError()
	}

	slog.Info("ユーザーを削除しました",
		slog.String("user_id", id),
	)
	return nil
}

// EnsureAdmin は指定emailのユーザーを管理者にする。
// 未登録なら管理者として作成し、登録済みなら権限を昇格する。
// 作成した場合はtrueを返す。
func (s *Service) EnsureAdmin(ctx context.Context, rawEmail string) (*model.User, bool, error) {
	email, err := s.normalizeEmail(rawEmail)
	if err != nil {
		return nil, false, err
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}

	if user == nil {
		created, err := s.Create(ctx, CreateInput{Email: email, Role: string(model.RoleAdmin)})
		if err != nil {
			return nil, false, err
		}
		return created, true, nil
	}

	if user.IsAdmin() {
		return user, false, nil
	}

	admin := model.RoleAdmin
	promoted, err := s.userRepo.Patch(ctx, user.ID, model.UserPatch{Role: &admin})
	if err != nil {
		return nil, false, fmt.Errorf("管理者権限の付与に失敗しました: %w", err)
	}
	if promoted == nil {
		return nil, false, model.NewUserNotFoundError()
	}
	user = promoted

	slog.Info("ユーザーを管理者に昇格しました",
		slog.String("user_id", user.ID),
	)
	return user, false, nil
}

func (s *Service) sanitizeOptional(raw string) *string {
	v := s.sanitizer.Sanitize(raw)
	return &v
}

// normalizeEmail はemailを小文字化・トリムし、形式を検証する。
func (s *Service) normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", model.NewEmailRequiredError()
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return "", model.NewInvalidEmailError(email)
	}
	return email, nil
}
