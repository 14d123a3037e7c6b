package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/eyescreen/internal/model"
)

const predictionColumns = `id, image_url, label, confidence, user_email, created_at`

// PostgresPredictionRepo はPostgreSQLを使用した判定履歴リポジトリ。
type PostgresPredictionRepo struct {
	db *sql.DB
}

// NewPostgresPredictionRepo はPostgresPredictionRepoを生成する。
func NewPostgresPredictionRepo(db *sql.DB) *PostgresPredictionRepo {
	return &PostgresPredictionRepo{db: db}
}

// Create は判定結果を記録する。
func (r *PostgresPredictionRepo) Create(ctx context.Context, p *model.Prediction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO predictions (id, image_url, label, confidence, user_email, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.ImageURL, string(p.Label), p.Confidence, p.UserEmail, p.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	return nil
}

// List は全判定履歴を新しい順に返す。
func (r *PostgresPredictionRepo) List(ctx context.Context) ([]*model.Prediction, error) {
	return r.query(ctx,
		`SELECT `+predictionColumns+` FROM predictions ORDER BY created_at DESC`,
	)
}

// ListByUserEmail は指定emailの判定履歴を新しい順に返す。
func (r *PostgresPredictionRepo) ListByUserEmail(ctx context.Context, email string) ([]*model.Prediction, error) {
	return r.query(ctx,
		`SELECT `+predictionColumns+` FROM predictions WHERE user_email = $1 ORDER BY created_at DESC`,
		email,
	)
}

func (r *PostgresPredictionRepo) query(ctx context.Context, query string, args ...any) ([]*model.Prediction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	predictions := make([]*model.Prediction, 0)
	for rows.Next() {
		p := &model.Prediction{}
		var label string
		if err := rows.Scan(&p.ID, &p.ImageURL, &label, &p.Confidence, &p.UserEmail, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		p.Label = model.Label(label)
		predictions = append(predictions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate predictions: %w", err)
	}
	return predictions, nil
}

// compile-time interface check
var _ PredictionRepository = (*PostgresPredictionRepo)(nil)
