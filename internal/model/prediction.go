package model

import "time"

// Label は判定ラベル。
type Label string

const (
	LabelGlaucoma Label = "Glaucoma"
	LabelNormal   Label = "Normal"
)

// ClassNames はモデル出力のインデックス順に並んだラベル一覧。
var ClassNames = []Label{LabelGlaucoma, LabelNormal}

// Prediction は1回の画像判定の記録。作成後は変更されない。
type Prediction struct {
	ID         string    `json:"id"`
	ImageURL   string    `json:"image_url"`
	Label      Label     `json:"label"`
	Confidence float64   `json:"confidence"` // パーセント（小数第2位まで）
	UserEmail  string    `json:"user_email"`
	Timestamp  time.Time `json:"timestamp"`
}
