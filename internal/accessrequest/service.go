// Package accessrequest は利用申請キュー（pending → approved / rejected）のドメインロジックを提供する。
//
// 申請の作成は未認証で行われ、承認・却下は管理者のみが行う。
// 承認時には同じemailのユーザーを名簿に作成する。
package accessrequest

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
)

// SubmitResult は申請作成の結果。
type SubmitResult int

const (
	// Submitted は新しいpending申請を作成したことを表す。
	Submitted SubmitResult = iota
	// AlreadyRequested は同じemailのpending申請が既に存在したことを表す。
	AlreadyRequested
)

// ApproveResult は申請承認の結果。
type ApproveResult int

const (
	// Approved は承認によりユーザーを作成したことを表す。
	Approved ApproveResult = iota
	// UserAlreadyExisted は承認時点で同じemailのユーザーが既に存在したことを表す。
	UserAlreadyExisted
)

// TransitionRecorder は状態遷移のメトリクス記録インターフェース。
type TransitionRecorder interface {
	RecordAccessRequestTransition(status string)
}

// Service は利用申請キューのサービス層。
type Service struct {
	requestRepo repository.AccessRequestRepository
	userRepo    repository.UserRepository
	metrics     TransitionRecorder
	validate    *validator.Validate
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsがnilの場合はメトリクスを記録しない。
func NewService(
	requestRepo repository.AccessRequestRepository,
	userRepo repository.UserRepository,
	metrics TransitionRecorder,
) *Service {
	return &Service{
		requestRepo: requestRepo,
		userRepo:    userRepo,
		metrics:     metrics,
		validate:    validator.New(),
		now:         time.Now,
	}
}

// Submit は利用申請を作成する。
// 登録済みユーザーのemailはUserAlreadyExistsエラー、
// pending申請が既にある場合はAlreadyRequestedを返す。
func (s *Service) Submit(ctx context.Context, rawEmail string) (SubmitResult, error) {
	email := strings.ToLower(strings.TrimSpace(rawEmail))
	if email == "" {
		return 0, model.NewEmailRequiredError()
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return 0, model.NewInvalidEmailError(email)
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user != nil {
		return 0, model.NewUserAlreadyExistsError()
	}

	pending, err := s.requestRepo.FindPendingByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("申請の取得に失敗しました: %w", err)
	}
	if pending != nil {
		return AlreadyRequested, nil
	}

	now := s.now()
	req := &model.AccessRequest{
		ID:        uuid.NewString(),
		Email:     email,
		Status:    model.RequestStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.requestRepo.Create(ctx, req); err != nil {
		// 同時に送信された申請が部分ユニークインデックスに先着した場合
		if errors.Is(err, repository.ErrDuplicate) {
			return AlreadyRequested, nil
		}
		return 0, fmt.Errorf("申請の作成に失敗しました: %w", err)
	}

	s.recordTransition(model.RequestStatusPending)
	slog.Info("利用申請を受け付けました",
		slog.String("request_id", req.ID),
	)
	return Submitted, nil
}

// List は全申請を新しい順に返す。
func (s *Service) List(ctx context.Context) ([]*model.AccessRequest, error) {
	reqs, err := s.requestRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("申請一覧の取得に失敗しました: %w", err)
	}
	return reqs, nil
}

// Approve は申請を承認し、同じemailのユーザーが名簿に存在する状態にする。
// 承認済みの申請を再度承認した場合はユーザー作成のみを再実行する。
// 却下済みの申請はRequestAlreadyResolvedエラーになる。
func (s *Service) Approve(ctx context.Context, id string) (ApproveResult, error) {
	req, err := s.requestRepo.FindByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("申請の取得に失敗しました: %w", err)
	}
	if req == nil {
		return 0, model.NewRequestNotFoundError(id)
	}

	switch req.Status {
	case model.RequestStatusRejected:
		return 0, model.NewRequestAlreadyResolvedError(req.Status)
	case model.RequestStatusPending:
		if err := s.resolve(ctx, id, model.RequestStatusApproved); err != nil {
			return 0, err
		}
	}

	return s.ensureUser(ctx, req.Email)
}

// Reject は申請を却下する。
// 却下済みの申請の再却下は何もしない。承認済みの申請はRequestAlreadyResolvedエラーになる。
func (s *Service) Reject(ctx context.Context, id string) error {
	req, err := s.requestRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("申請の取得に失敗しました: %w", err)
	}
	if req == nil {
		return model.NewRequestNotFoundError(id)
	}

	switch req.Status {
	case model.RequestStatusRejected:
		return nil
	case model.RequestStatusApproved:
		return model.NewRequestAlreadyResolvedError(req.Status)
	}

	return s.resolve(ctx, id, model.RequestStatusRejected)
}

// resolve はpending申請をtargetに遷移させる。
// 読み取り後に別のリクエストが先に遷移させていた場合は申請を読み直し、
// 同じ状態なら成功、異なる状態ならRequestAlreadyResolvedエラーを返す。
func (s *Service) resolve(ctx context.Context, id string, target model.RequestStatus) error {
	updated, err := s.requestRepo.ResolvePending(ctx, id, target)
	if err != nil {
		return fmt.Errorf("申請の状態変更に失敗しました: %w", err)
	}
	if updated != nil {
		s.recordTransition(target)
		slog.Info("利用申請の状態を変更しました",
			slog.String("request_id", id),
			slog.String("status", string(target)),
		)
		return nil
	}

	current, err := s.requestRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("申請の取得に失敗しました: %w", err)
	}
	if current == nil {
		return model.NewRequestNotFoundError(id)
	}
	if current.Status != target {
		return model.NewRequestAlreadyResolvedError(current.Status)
	}
	return nil
}

// ensureUser はemailのユーザーが存在しなければrole=userで作成する。
func (s *Service) ensureUser(ctx context.Context, email string) (ApproveResult, error) {
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return UserAlreadyExisted, nil
	}

	now := s.now()
	user := &model.User{
		ID:        uuid.NewString(),
		Email:     email,
		Role:      model.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return UserAlreadyExisted, nil
		}
		return 0, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("承認によりユーザーを作成しました",
		slog.String("user_id", user.ID),
	)
	return Approved, nil
}

func (s *Service) recordTransition(status model.RequestStatus) {
	if s.metrics != nil {
		s.metrics.RecordAccessRequestTransition(string(status))
	}
}
