// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/eyescreen/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
// users.email、access_requestsのpending中email重複で返される。
var ErrDuplicate = errors.New("duplicate key")

// UserRepository はユーザーディレクトリの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// List は全ユーザーを作成日時の昇順で返す。
	List(ctx context.Context) ([]*model.User, error)

	// Create はユーザーを作成する。emailが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// Patch はパッチで指定された列だけを更新し、更新後のユーザーを返す。
	// 見つからない場合はnilを返す。emailが重複する場合はErrDuplicateを返す。
	Patch(ctx context.Context, id string, patch model.UserPatch) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 削除対象が存在しなかった場合はfalseを返す。
	DeleteByID(ctx context.Context, id string) (bool, error)
}

// AccessRequestRepository は利用申請の永続化インターフェース。
type AccessRequestRepository interface {
	// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.AccessRequest, error)

	// FindPendingByEmail はemailのpending申請を取得する。見つからない場合はnilを返す。
	FindPendingByEmail(ctx context.Context, email string) (*model.AccessRequest, error)

	// List は全申請を作成日時の降順で返す。
	List(ctx context.Context) ([]*model.AccessRequest, error)

	// Create は申請を作成する。
	// 同一emailのpending申請が既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, req *model.AccessRequest) error

	// ResolvePending はpending状態の申請だけをstatusに遷移させ、更新後の申請を返す。
	// 申請が存在しない、または既にpendingでない場合はnilを返す。
	ResolvePending(ctx context.Context, id string, status model.RequestStatus) (*model.AccessRequest, error)
}

// PredictionRepository は判定履歴の永続化インターフェース。追記のみ。
type PredictionRepository interface {
	// Create は判定結果を記録する。
	Create(ctx context.Context, prediction *model.Prediction) error

	// List は全判定履歴を新しい順に返す。
	List(ctx context.Context) ([]*model.Prediction, error)

	// ListByUserEmail は指定emailの判定履歴を新しい順に返す。
	ListByUserEmail(ctx context.Context, email string) ([]*model.Prediction, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}
