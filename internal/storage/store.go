// Package storage は判定に使った眼底画像の保存先（オブジェクトストレージ）を提供する。
package storage

import (
	"context"
	"errors"
)

// ErrStorageDisabled は画像保存先が設定されていないことを表す。
// 判定処理はこのエラーを受け取ると画像を保存せずに結果だけを返す。
var ErrStorageDisabled = errors.New("image storage is disabled")

// Object は保存する画像。
type Object struct {
	Data        []byte
	ContentType string
	// Extension は先頭のドットを含む拡張子（例: ".png"）。空でもよい。
	Extension string
}

// ImageStore は画像を保存し、公開URLを返すインターフェース。
type ImageStore interface {
	Save(ctx context.Context, obj Object) (string, error)
}

// DisabledStore は常にErrStorageDisabledを返すImageStore。
type DisabledStore struct{}

// Save は何も保存せずにErrStorageDisabledを返す。
func (DisabledStore) Save(ctx context.Context, obj Object) (string, error) {
	return "", ErrStorageDisabled
}

// compile-time interface check
var _ ImageStore = DisabledStore{}
