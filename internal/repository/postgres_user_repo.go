package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/eyescreen/internal/model"
)

const userColumns = `id, email, name, role, profile_image, district, state, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// List は全ユーザーを作成日時の昇順で返す。
func (r *PostgresUserRepo) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*model.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// Create はユーザーを作成する。emailが重複する場合はErrDuplicateを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, role, profile_image, district, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.Name, string(user.Role), user.ProfileImage,
		user.District, user.State, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return translateError(err, "failed to insert user")
	}
	return nil
}

// Patch はパッチで指定された列だけを更新し、更新後のユーザーを返す。
// nilのフィールドはCOALESCEで現在の値を維持するため、
// 同時に別の列を更新したリクエストの結果を上書きしない。
func (r *PostgresUserRepo) Patch(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
	var role *string
	if patch.Role != nil {
		v := string(*patch.Role)
		role = &v
	}
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET email = COALESCE($2, email),
		     name = COALESCE($3, name),
		     role = COALESCE($4, role),
		     profile_image = COALESCE($5, profile_image),
		     district = COALESCE($6, district),
		     state = COALESCE($7, state),
		     updated_at = $8
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, patch.Email, patch.Name, role, patch.ProfileImage,
		patch.District, patch.State, time.Now(),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "failed to update user")
	}
	return user, nil
}

// DeleteByID は指定IDのユーザーを削除する。
// predictionsはemailで紐付くだけなので削除されない。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func scanUser(s rowScanner) (*model.User, error) {
	user := &model.User{}
	var role string
	err := s.Scan(
		&user.ID, &user.Email, &user.Name, &role, &user.ProfileImage,
		&user.District, &user.State, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
