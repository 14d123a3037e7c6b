package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/eyescreen/internal/model"
)

const (
	insertSessionQuery = `INSERT INTO sessions (id, user_id, data, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	// 期限切れの行はworkerが削除するまで残るため、参照時にも期限で絞る
	selectLiveSessionQuery = `SELECT id, user_id, data, expires_at, created_at
		FROM sessions
		WHERE id = $1 AND expires_at > now()`
	deleteSessionQuery = `DELETE FROM sessions WHERE id = $1`
)

// sessionSnapshot はsessions.dataに保存する、ログイン時点のユーザー情報。
type sessionSnapshot struct {
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         model.Role `json:"role"`
	ProfileImage string     `json:"profile_image,omitempty"`
	District     string     `json:"district,omitempty"`
	State        string     `json:"state,omitempty"`
}

func snapshotOf(s *model.Session) sessionSnapshot {
	return sessionSnapshot{
		Email:        s.Email,
		Name:         s.Name,
		Role:         s.Role,
		ProfileImage: s.ProfileImage,
		District:     s.District,
		State:        s.State,
	}
}

func (snap sessionSnapshot) restore(s *model.Session) {
	s.Email = snap.Email
	s.Name = snap.Name
	s.Role = snap.Role
	s.ProfileImage = snap.ProfileImage
	s.District = snap.District
	s.State = snap.State
}

// PostgresSessionRepo はsessionsテーブルにセッションを保存する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(snapshotOf(session))
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, insertSessionQuery,
		session.ID, session.UserID, data, session.ExpiresAt, session.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は有効期限内のセッションを返す。存在しないか期限切れならnil。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var (
		session model.Session
		raw     []byte
	)
	err := r.db.QueryRowContext(ctx, selectLiveSessionQuery, id).
		Scan(&session.ID, &session.UserID, &raw, &session.ExpiresAt, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var snap sessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	snap.restore(&session)
	return &session, nil
}

// DeleteByID はセッションを削除する。存在しないIDでもエラーにしない。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, deleteSessionQuery, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
