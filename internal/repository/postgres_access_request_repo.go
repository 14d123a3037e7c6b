package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/eyescreen/internal/model"
)

const accessRequestColumns = `id, email, status, created_at, updated_at`

// PostgresAccessRequestRepo はPostgreSQLを使用した利用申請リポジトリ。
// pending申請のemail一意性は部分ユニークインデックス
// access_requests_pending_email_key で保証する。
type PostgresAccessRequestRepo struct {
	db *sql.DB
}

// NewPostgresAccessRequestRepo はPostgresAccessRequestRepoを生成する。
func NewPostgresAccessRequestRepo(db *sql.DB) *PostgresAccessRequestRepo {
	return &PostgresAccessRequestRepo{db: db}
}

// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
func (r *PostgresAccessRequestRepo) FindByID(ctx context.Context, id string) (*model.AccessRequest, error) {
	req, err := scanAccessRequest(r.db.QueryRowContext(ctx,
		`SELECT `+accessRequestColumns+` FROM access_requests WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find access request: %w", err)
	}
	return req, nil
}

// FindPendingByEmail はemailのpending申請を取得する。見つからない場合はnilを返す。
func (r *PostgresAccessRequestRepo) FindPendingByEmail(ctx context.Context, email string) (*model.AccessRequest, error) {
	req, err := scanAccessRequest(r.db.QueryRowContext(ctx,
		`SELECT `+accessRequestColumns+` FROM access_requests WHERE email = $1 AND status = 'pending'`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending access request: %w", err)
	}
	return req, nil
}

// List は全申請を作成日時の降順で返す。
func (r *PostgresAccessRequestRepo) List(ctx context.Context) ([]*model.AccessRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accessRequestColumns+` FROM access_requests ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list access requests: %w", err)
	}
	defer rows.Close()

	reqs := make([]*model.AccessRequest, 0)
	for rows.Next() {
		req, err := scanAccessRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access request: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate access requests: %w", err)
	}
	return reqs, nil
}

// Create は申請を作成する。
func (r *PostgresAccessRequestRepo) Create(ctx context.Context, req *model.AccessRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_requests (id, email, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		req.ID, req.Email, string(req.Status), req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return translateError(err, "failed to insert access request")
	}
	return nil
}

// ResolvePending はpending申請をstatusに遷移させ、更新後の申請を返す。
// 該当するpending申請がない場合はnilを返す。
// 承認と却下が同時に走っても、先に書き込んだ側だけが成功する。
func (r *PostgresAccessRequestRepo) ResolvePending(ctx context.Context, id string, status model.RequestStatus) (*model.AccessRequest, error) {
	req, err := scanAccessRequest(r.db.QueryRowContext(ctx,
		`UPDATE access_requests SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+accessRequestColumns,
		id, string(status), time.Now(),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "failed to resolve access request")
	}
	return req, nil
}

func scanAccessRequest(s rowScanner) (*model.AccessRequest, error) {
	req := &model.AccessRequest{}
	var status string
	if err := s.Scan(&req.ID, &req.Email, &status, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return nil, err
	}
	req.Status = model.RequestStatus(status)
	return req, nil
}

// compile-time interface check
var _ AccessRequestRepository = (*PostgresAccessRequestRepo)(nil)
