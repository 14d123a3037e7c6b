package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eyescreen/internal/accessrequest"
	"github.com/hitoshi/eyescreen/internal/model"
)

// AccessRequestServiceInterface は利用申請ハンドラーが必要とするサービスインターフェース。
type AccessRequestServiceInterface interface {
	Submit(ctx context.Context, email string) (accessrequest.SubmitResult, error)
	List(ctx context.Context) ([]*model.AccessRequest, error)
	Approve(ctx context.Context, id string) (accessrequest.ApproveResult, error)
	Reject(ctx context.Context, id string) error
}

// AccessRequestHandler は利用申請キューのHTTPハンドラー。
type AccessRequestHandler struct {
	service AccessRequestServiceInterface
}

// NewAccessRequestHandler はAccessRequestHandlerを生成する。
func NewAccessRequestHandler(service AccessRequestServiceInterface) *AccessRequestHandler {
	return &AccessRequestHandler{service: service}
}

// submitRequest は利用申請リクエストのボディ。
type submitRequest struct {
	Email string `json:"email"`
}

// Submit は利用申請を受け付ける。認証不要。
// 同じemailのpending申請が既にある場合も200で通知メッセージを返す。
// POST /api/user/request
func (h *AccessRequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.service.Submit(r.Context(), req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	switch result {
	case accessrequest.AlreadyRequested:
		writeMessage(w, http.StatusOK, "Request Already Exists, Wait until Admin Approves")
	default:
		writeMessage(w, http.StatusOK, "Request has been sent to Admin!")
	}
}

// List は全申請を新しい順に返す。
// GET /api/user/requests
func (h *AccessRequestHandler) List(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reqs)
}

// Approve は申請を承認する。
// GET /api/user/approve/{id}
func (h *AccessRequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isValidID(id) {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewRequestNotFoundError(id))
		return
	}

	result, err := h.service.Approve(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	switch result {
	case accessrequest.UserAlreadyExisted:
		writeMessage(w, http.StatusOK, "User Already Exists")
	default:
		writeMessage(w, http.StatusOK, "Approved")
	}
}

// Reject は申請を却下する。
// GET /api/user/reject/{id}
func (h *AccessRequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isValidID(id) {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewRequestNotFoundError(id))
		return
	}

	if err := h.service.Reject(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	writeMessage(w, http.StatusOK, "Rejected")
}
