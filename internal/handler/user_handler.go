package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eyescreen/internal/model"
	"github.com/hitoshi/eyescreen/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context) ([]*model.User, error)
	GetSelf(ctx context.Context, userID string) (*model.User, error)
	Create(ctx context.Context, input user.CreateInput) (*model.User, error)
	Update(ctx context.Context, id string, patch user.UpdatePatch) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, input user.ProfileInput) (*model.User, error)
	Delete(ctx context.Context, id string) error
}

// UserHandler はユーザー名簿のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// createUserRequest はユーザー作成リクエストのボディ。
type createUserRequest struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	ProfileImage string `json:"profile_image"`
	District     string `json:"district"`
	State        string `json:"state"`
}

// updateUserRequest はユーザー更新リクエストのボディ。省略したフィールドは変更しない。
type updateUserRequest struct {
	Email        *string `json:"email"`
	Name         *string `json:"name"`
	Role         *string `json:"role"`
	ProfileImage *string `json:"profile_image"`
	District     *string `json:"district"`
	State        *string `json:"state"`
}

// updateProfileRequest は本人のプロフィール更新リクエストのボディ。
type updateProfileRequest struct {
	Name     *string `json:"name"`
	District string  `json:"district"`
	State    string  `json:"state"`
}

// Me は現在のログインユーザーを名簿から引き直して返す。
// GET /api/
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionOrUnauthorized(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetSelf(r.Context(), session.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// ListUsers は全ユーザーを返す。
// GET /api/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, users)
}

// CreateUser はユーザーを作成する。
// POST /api/user
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	u, err := h.service.Create(r.Context(), user.CreateInput{
		Email:        req.Email,
		Name:         req.Name,
		Role:         req.Role,
		ProfileImage: req.ProfileImage,
		District:     req.District,
		State:        req.State,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

// UpdateUser は指定フィールドのみを更新する。
// PUT /api/user/{id}
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isValidID(id) {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	var req updateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	u, err := h.service.Update(r.Context(), id, user.UpdatePatch{
		Email:        req.Email,
		Name:         req.Name,
		Role:         req.Role,
		ProfileImage: req.ProfileImage,
		District:     req.District,
		State:        req.State,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// UpdateProfile はログインユーザー本人のプロフィールを更新する。
// PUT /api/user/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), session.UserID, user.ProfileInput{
		Name:     req.Name,
		District: req.District,
		State:    req.State,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// DeleteUser はユーザーを削除する。
// DELETE /api/user/{id}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isValidID(id) {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	writeMessage(w, http.StatusOK, "User deleted successfully")
}
