package model

import "time"

// RequestStatus は利用申請の状態を表す。
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// IsTerminal は承認済み・却下済みのいずれかであるかを返す。
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// AccessRequest は未登録のメールアドレスからの利用申請を表す。
// 同一emailのpending申請は同時に1件まで。
type AccessRequest struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
