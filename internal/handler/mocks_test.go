package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eyescreen/internal/accessrequest"
	"github.com/hitoshi/eyescreen/internal/middleware"
	"github.com/hitoshi/eyescreen/internal/model"
	"github.com/hitoshi/eyescreen/internal/prediction"
	"github.com/hitoshi/eyescreen/internal/user"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) (string, error)
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) GetLoginURL(state string) (string, error) {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "", nil
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

type mockUserService struct {
	listFn          func(ctx context.Context) ([]*model.User, error)
	getSelfFn       func(ctx context.Context, userID string) (*model.User, error)
	createFn        func(ctx context.Context, input user.CreateInput) (*model.User, error)
	updateFn        func(ctx context.Context, id string, patch user.UpdatePatch) (*model.User, error)
	updateProfileFn func(ctx context.Context, userID string, input user.ProfileInput) (*model.User, error)
	deleteFn        func(ctx context.Context, id string) error
}

func (m *mockUserService) List(ctx context.Context) ([]*model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []*model.User{}, nil
}

func (m *mockUserService) GetSelf(ctx context.Context, userID string) (*model.User, error) {
	if m.getSelfFn != nil {
		return m.getSelfFn(ctx, userID)
	}
	return &model.User{ID: userID}, nil
}

func (m *mockUserService) Create(ctx context.Context, input user.CreateInput) (*model.User, error) {
	if m.createFn != nil {
		return m.createFn(ctx, input)
	}
	return &model.User{Email: input.Email}, nil
}

func (m *mockUserService) Update(ctx context.Context, id string, patch user.UpdatePatch) (*model.User, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, patch)
	}
	return &model.User{ID: id}, nil
}

func (m *mockUserService) UpdateProfile(ctx context.Context, userID string, input user.ProfileInput) (*model.User, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, userID, input)
	}
	return &model.User{ID: userID, District: input.District, State: input.State}, nil
}

func (m *mockUserService) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

type mockAccessRequestService struct {
	submitFn  func(ctx context.Context, email string) (accessrequest.SubmitResult, error)
	listFn    func(ctx context.Context) ([]*model.AccessRequest, error)
	approveFn func(ctx context.Context, id string) (accessrequest.ApproveResult, error)
	rejectFn  func(ctx context.Context, id string) error
}

func (m *mockAccessRequestService) Submit(ctx context.Context, email string) (accessrequest.SubmitResult, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, email)
	}
	return accessrequest.Submitted, nil
}

func (m *mockAccessRequestService) List(ctx context.Context) ([]*model.AccessRequest, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []*model.AccessRequest{}, nil
}

func (m *mockAccessRequestService) Approve(ctx context.Context, id string) (accessrequest.ApproveResult, error) {
	if m.approveFn != nil {
		return m.approveFn(ctx, id)
	}
	return accessrequest.Approved, nil
}

func (m *mockAccessRequestService) Reject(ctx context.Context, id string) error {
	if m.rejectFn != nil {
		return m.rejectFn(ctx, id)
	}
	return nil
}

type mockPredictionService struct {
	classifyFn func(ctx context.Context, image []byte, caller *model.Session) (*prediction.Result, error)
	listFn     func(ctx context.Context, caller *model.Session) ([]*model.Prediction, error)
}

func (m *mockPredictionService) Classify(ctx context.Context, image []byte, caller *model.Session) (*prediction.Result, error) {
	if m.classifyFn != nil {
		return m.classifyFn(ctx, image, caller)
	}
	return &prediction.Result{Label: model.LabelNormal, Confidence: 50, Stored: true}, nil
}

func (m *mockPredictionService) List(ctx context.Context, caller *model.Session) ([]*model.Prediction, error) {
	if m.listFn != nil {
		return m.listFn(ctx, caller)
	}
	return []*model.Prediction{}, nil
}

// --- テストヘルパー ---

const testUUID = "8b2c7f0e-4d1a-4f3b-9a6e-2c5d8e1f0a7b"

// withSession はテスト用にリクエストコンテキストにセッションスナップショットを注入するヘルパー。
func withSession(r *http.Request, session *model.Session) *http.Request {
	return r.WithContext(middleware.ContextWithSession(r.Context(), session))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// parseMessage はレスポンスボディの"message"を返すヘルパー。
func parseMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body messageResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode message response: %v", err)
	}
	return body.Message
}

var (
	userSession  = &model.Session{ID: "sess-user", UserID: "user-1", Email: "doc@clinic.org", Role: model.RoleUser}
	adminSession = &model.Session{ID: "sess-admin", UserID: "admin-1", Email: "admin@clinic.org", Role: model.RoleAdmin}
)
