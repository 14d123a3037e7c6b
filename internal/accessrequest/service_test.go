package accessrequest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/eyescreen/internal/model"
	"github.com/hitoshi/eyescreen/internal/repository"
)

// --- インメモリのリポジトリ ---

type memRequestRepo struct {
	mu        sync.Mutex
	reqs      map[string]*model.AccessRequest
	createErr error
	// beforeResolve はResolvePendingの書き込み前に呼ばれる
	beforeResolve func()
}

func newMemRequestRepo() *memRequestRepo {
	return &memRequestRepo{reqs: map[string]*model.AccessRequest{}}
}

func (r *memRequestRepo) FindByID(ctx context.Context, id string) (*model.AccessRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[id]
	if !ok {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

func (r *memRequestRepo) FindPendingByEmail(ctx context.Context, email string) (*model.AccessRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.reqs {
		if req.Email == email && req.Status == model.RequestStatusPending {
			cp := *req
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRequestRepo) List(ctx context.Context) ([]*model.AccessRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.AccessRequest, 0, len(r.reqs))
	for _, req := range r.reqs {
		cp := *req
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRequestRepo) Create(ctx context.Context, req *model.AccessRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.reqs {
		if existing.Email == req.Email && existing.Status == model.RequestStatusPending {
			return repository.ErrDuplicate
		}
	}
	cp := *req
	r.reqs[req.ID] = &cp
	return nil
}

func (r *memRequestRepo) ResolvePending(ctx context.Context, id string, status model.RequestStatus) (*model.AccessRequest, error) {
	if r.beforeResolve != nil {
		r.beforeResolve()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[id]
	if !ok || req.Status != model.RequestStatusPending {
		return nil, nil
	}
	req.Status = status
	cp := *req
	return &cp, nil
}

func (r *memRequestRepo) setStatus(id string, status model.RequestStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs[id].Status = status
}

func (r *memRequestRepo) statusOf(id string) model.RequestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[id].Status
}

type memUserRepo struct {
	mu        sync.Mutex
	users     map[string]*model.User
	createErr error
	creates   int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]*model.User{}}
}

func (r *memUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[email], nil
}

func (r *memUserRepo) List(ctx context.Context) ([]*model.User, error) { return nil, nil }

func (r *memUserRepo) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.users[user.Email]; ok {
		return repository.ErrDuplicate
	}
	r.users[user.Email] = user
	return nil
}

func (r *memUserRepo) Patch(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
	return nil, nil
}

func (r *memUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *memUserRepo) DeleteByID(ctx context.Context, id string) (bool, error) { return false, nil }

type recordedTransitions struct {
	mu       sync.Mutex
	statuses []string
}

func (r *recordedTransitions) RecordAccessRequestTransition(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func requireAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "expected *model.APIError, got %v", err)
	assert.Equal(t, code, apiErr.Code)
}

type fixture struct {
	svc      *Service
	requests *memRequestRepo
	users    *memUserRepo
	metrics  *recordedTransitions
}

func newFixture() *fixture {
	f := &fixture{
		requests: newMemRequestRepo(),
		users:    newMemUserRepo(),
		metrics:  &recordedTransitions{},
	}
	f.svc = NewService(f.requests, f.users, f.metrics)
	f.svc.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) onlyRequestID(t *testing.T) string {
	t.Helper()
	reqs, err := f.requests.List(context.Background())
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	return reqs[0].ID
}

// --- Submit ---

func TestService_Submit_CreatesPendingRequest(t *testing.T) {
	f := newFixture()

	result, err := f.svc.Submit(context.Background(), "  Alice@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, Submitted, result)

	id := f.onlyRequestID(t)
	req, _ := f.requests.FindByID(context.Background(), id)
	assert.Equal(t, "alice@example.com", req.Email)
	assert.Equal(t, model.RequestStatusPending, req.Status)
	assert.Equal(t, []string{"pending"}, f.metrics.statuses)
}

// 同じemailで2回申請しても申請は1件だけ
func TestService_Submit_Twice_ReportsAlreadyRequested(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, "a@x.com")
	require.NoError(t, err)
	second, err := f.svc.Submit(ctx, "A@x.com")
	require.NoError(t, err)

	assert.Equal(t, Submitted, first)
	assert.Equal(t, AlreadyRequested, second)
	f.onlyRequestID(t)
}

func TestService_Submit_RegisteredUser_Conflict(t *testing.T) {
	f := newFixture()
	f.users.users["a@x.com"] = &model.User{ID: "u1", Email: "a@x.com", Role: model.RoleUser}

	_, err := f.svc.Submit(context.Background(), "a@x.com")
	requireAPIError(t, err, model.ErrCodeUserAlreadyExists)

	reqs, _ := f.requests.List(context.Background())
	assert.Empty(t, reqs)
}

func TestService_Submit_InvalidEmail(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Submit(context.Background(), "")
	requireAPIError(t, err, model.ErrCodeEmailRequired)

	_, err = f.svc.Submit(context.Background(), "nobody-at-nowhere")
	requireAPIError(t, err, model.ErrCodeInvalidEmail)
}

// 確認後の挿入で部分ユニークインデックスに衝突した場合も重複申請として扱う
func TestService_Submit_ConcurrentDuplicate_ReportsAlreadyRequested(t *testing.T) {
	f := newFixture()
	f.requests.createErr = repository.ErrDuplicate

	result, err := f.svc.Submit(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, AlreadyRequested, result)
	assert.Empty(t, f.metrics.statuses)
}

func TestService_Submit_RepositoryError(t *testing.T) {
	f := newFixture()
	dbErr := errors.New("connection refused")
	f.requests.createErr = dbErr

	_, err := f.svc.Submit(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, dbErr)
}

// --- Approve ---

func TestService_Approve_CreatesUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, "new@x.com")
	require.NoError(t, err)
	id := f.onlyRequestID(t)

	result, err := f.svc.Approve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Approved, result)
	assert.Equal(t, model.RequestStatusApproved, f.requests.statusOf(id))

	user, _ := f.users.FindByEmail(ctx, "new@x.com")
	require.NotNil(t, user)
	assert.Equal(t, model.RoleUser, user.Role)
	assert.Equal(t, []string{"pending", "approved"}, f.metrics.statuses)
}

func TestService_Approve_ExistingUser_ReportsUserAlreadyExisted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, "dup@x.com")
	require.NoError(t, err)
	id := f.onlyRequestID(t)

	// 申請後に管理者が直接ユーザーを作成した
	f.users.users["dup@x.com"] = &model.User{ID: "u1", Email: "dup@x.com", Role: model.RoleAdmin}

	result, err := f.svc.Approve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, UserAlreadyExisted, result)
	assert.Equal(t, model.RequestStatusApproved, f.requests.statusOf(id))

	user, _ := f.users.FindByEmail(ctx, "dup@x.com")
	assert.Equal(t, model.RoleAdmin, user.Role, "既存ユーザーのroleは変更しない")
}

func TestService_Approve_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Approve(context.Background(), "missing")
	requireAPIError(t, err, model.ErrCodeRequestNotFound)
}

// 承認済み申請の再承認はユーザー作成をやり直す（前回の作成失敗からの復旧）
func TestService_Approve_Reapprove_RetriesUserCreation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, "retry@x.com")
	require.NoError(t, err)
	id := f.onlyRequestID(t)

	f.users.createErr = errors.New("db timeout")
	_, err = f.svc.Approve(ctx, id)
	require.Error(t, err)
	assert.Equal(t, model.RequestStatusApproved, f.requests.statusOf(id))

	f.users.createErr = nil
	result, err := f.svc.Approve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Approved, result)

	user, _ := f.users.FindByEmail(ctx, "retry@x.com")
	assert.NotNil(t, user)
	assert.Equal(t, []string{"pending", "approved"}, f.metrics.statuses, "再承認では遷移を記録しない")
}

func TestService_Approve_Rejected_Conflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, "r@x.com")
	require.NoError(t, err)
	id := f.onlyRequestID(t)
	require.NoError(t, f.svc.Reject(ctx, id))

	_, err = f.svc.Approve(ctx, id)
	requireAPIError(t, err, model.ErrCodeRequestResolved)

	user, _ := f.users.FindByEmail(ctx, "r@x.com")
	assert.Nil(t, user)
}

// --- Reject ---

func TestService_Reject_PendingBecomesRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, "no@x.com")
	require.NoError(t, err)
	id := f.onlyRequestID(t)

	require.NoError(t, f.svc.Reject(ctx, id))
	assert.Equal(t, model.RequestStatusRejected, f.requests.statusOf(id))

	// 再却下は何もしない
	require.NoError(t, f.svc.Reject(ctx, id))
	assert.Equal(t, []string{"pending", "rejected"}, f.metrics.statuses)

	user, _ := f.users.FindByEmail(ctx, "no@x.com")
	assert.Nil(t, user)
	assert.Zero(t, f.users.creates)
}

func TestService_Reject_Approved_Conflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, "ok@x.com")
	require.NoError(t, err)
	id := f.onlyRequestID(t)
	_, err = f.svc.Approve(ctx, id)
	require.NoError(t, err)

	err = f.svc.Reject(ctx, id)
	requireAPIError(t, err, model.ErrCodeRequestResolved)
	assert.Equal(t, model.RequestStatusApproved, f.requests.statusOf(id))
}

func TestService_Reject_NotFound(t *testing.T) {
	f := newFixture()

	err := f.svc.Reject(context.Background(), "missing")
	requireAPIError(t, err, model.ErrCodeRequestNotFound)
}

// 却下後は同じemailで再申請できる
func TestService_Submit_AfterReject_CreatesNewRequest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, "again@x.com")
	require.NoError(t, err)
	id := f.onlyRequestID(t)
	require.NoError(t, f.svc.Reject(ctx, id))

	result, err := f.svc.Submit(ctx, "again@x.com")
	require.NoError(t, err)
	assert.Equal(t, Submitted, result)

	reqs, _ := f.svc.List(ctx)
	assert.Len(t, reqs, 2)
}

// --- 承認と却下の競合 ---

// 読み取りから書き込みまでの間に却下された申請の承認は衝突エラーになり、ユーザーを作成しない
func TestService_Approve_RejectedAfterRead_Conflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, "late@x.com")
	require.NoError(t, err)
	id := f.onlyRequestID(t)

	f.requests.beforeResolve = func() {
		f.requests.beforeResolve = nil
		f.requests.setStatus(id, model.RequestStatusRejected)
	}

	_, err = f.svc.Approve(ctx, id)
	requireAPIError(t, err, model.ErrCodeRequestResolved)
	assert.Equal(t, model.RequestStatusRejected, f.requests.statusOf(id))
	assert.Zero(t, f.users.creates)
	assert.Equal(t, []string{"pending"}, f.metrics.statuses)
}

// 読み取り後に別の管理者が先に承認した場合、同じ承認は成功として扱う
func TestService_Approve_ApprovedAfterRead_Idempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, "twice@x.com")
	require.NoError(t, err)
	id := f.onlyRequestID(t)

	f.requests.beforeResolve = func() {
		f.requests.beforeResolve = nil
		f.requests.setStatus(id, model.RequestStatusApproved)
	}

	result, err := f.svc.Approve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Approved, result)
	user, _ := f.users.FindByEmail(ctx, "twice@x.com")
	assert.NotNil(t, user)
}

// 承認と却下が両方pendingを読んでから書き込んでも、片方だけが成功し状態とユーザーが整合する
func TestService_ApproveAndReject_Interleaved(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, "race@x.com")
	require.NoError(t, err)
	id := f.onlyRequestID(t)

	var barrier sync.WaitGroup
	barrier.Add(2)
	f.requests.beforeResolve = func() {
		barrier.Done()
		barrier.Wait()
	}

	var approveErr, rejectErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, approveErr = f.svc.Approve(ctx, id)
	}()
	go func() {
		defer wg.Done()
		rejectErr = f.svc.Reject(ctx, id)
	}()
	wg.Wait()

	switch f.requests.statusOf(id) {
	case model.RequestStatusApproved:
		require.NoError(t, approveErr)
		requireAPIError(t, rejectErr, model.ErrCodeRequestResolved)
		assert.Equal(t, 1, f.users.count())
	case model.RequestStatusRejected:
		require.NoError(t, rejectErr)
		requireAPIError(t, approveErr, model.ErrCodeRequestResolved)
		assert.Zero(t, f.users.count())
	default:
		t.Fatalf("request left in status %q", f.requests.statusOf(id))
	}
	assert.Len(t, f.metrics.statuses, 2, "pendingと勝った側の遷移だけを記録する")
}

func TestNewService_NilMetrics(t *testing.T) {
	svc := NewService(newMemRequestRepo(), newMemUserRepo(), nil)

	_, err := svc.Submit(context.Background(), "a@x.com")
	require.NoError(t, err)
}
