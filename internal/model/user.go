// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限ロールを表す。
type Role string

const (
	// RoleUser は一般ユーザー。判定の実行と自分の履歴参照のみ可能。
	RoleUser Role = "user"
	// RoleAdmin は管理者。ユーザー管理と利用申請の承認・却下が可能。
	RoleAdmin Role = "admin"
)

// IsValid はロールが定義済みの値かどうかを返す。
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User はサービス利用を許可されたユーザーを表す。
// emailは全ユーザーで一意。
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	ProfileImage string    `json:"profile_image"`
	District     string    `json:"district"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAdmin は管理者ロールかどうかを返す。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserPatch はユーザーの部分更新を表す。nilのフィールドは変更しない。
// リポジトリは指定された列だけを単一のUPDATEで書き換える。
type UserPatch struct {
	Email        *string
	Name         *string
	Role         *Role
	ProfileImage *string
	District     *string
	State        *string
}

// IsEmpty は変更するフィールドがひとつもないかどうかを返す。
func (p UserPatch) IsEmpty() bool {
	return p.Email == nil && p.Name == nil && p.Role == nil &&
		p.ProfileImage == nil && p.District == nil && p.State == nil
}

// Apply はパッチの非nilフィールドをuserに反映する。
func (p UserPatch) Apply(user *User) {
	if p.Email != nil {
		user.Email = *p.Email
	}
	if p.Name != nil {
		user.Name = *p.Name
	}
	if p.Role != nil {
		user.Role = *p.Role
	}
	if p.ProfileImage != nil {
		user.ProfileImage = *p.ProfileImage
	}
	if p.District != nil {
		user.District = *p.District
	}
	if p.State != nil {
		user.State = *p.State
	}
}

// Session はユーザーのログインセッションを表す。
//
// ログイン時点のユーザー情報のスナップショットを保持する。
// ユーザーディレクトリが正であり、ロール変更や削除は再ログインまで反映されない。
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	ProfileImage string    `json:"profile_image"`
	District     string    `json:"district"`
	State        string    `json:"state"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdmin はスナップショット上のロールが管理者かどうかを返す。
func (s *Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// NewSessionSnapshot はユーザーからセッションスナップショットを生成する。
func NewSessionSnapshot(id string, user *User, createdAt time.Time, maxAge time.Duration) *Session {
	return &Session{
		ID:           id,
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Role:         user.Role,
		ProfileImage: user.ProfileImage,
		District:     user.District,
		State:        user.State,
		ExpiresAt:    createdAt.Add(maxAge),
		CreatedAt:    createdAt,
	}
}
