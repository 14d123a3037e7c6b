// Package prediction は眼底画像の判定と判定履歴（Prediction Ledger）を提供する。
package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/hitoshi/eyescreen/internal/inference"
	"github.com/hitoshi/eyescreen/internal/model"
	"github.com/hitoshi/eyescreen/internal/repository"
	"github.com/hitoshi/eyescreen/internal/storage"
)

// 保存できなかった場合にレスポンスへ含めるメッセージ。
const (
	WarningStorageDisabled = "Image storage is not configured; prediction was not saved"
	WarningUploadFailed    = "Image upload failed; prediction was not saved"
	WarningRecordFailed    = "Prediction could not be recorded"
)

// Classifier は画像を判定する推論アダプターのインターフェース。
type Classifier interface {
	Classify(ctx context.Context, image []byte, contentType string) (*inference.Result, error)
}

// Recorder は判定に関するメトリクス記録インターフェース。
type Recorder interface {
	RecordPrediction(label string, stored bool)
	RecordInferenceFailure()
	RecordInferenceLatency(duration time.Duration)
	RecordStorageDegraded()
}

// Result は判定結果。
// Storedがfalseの場合、画像または履歴が保存されておらずWarningに理由が入る。
type Result struct {
	Label      model.Label
	Confidence float64
	ImageURL   string
	Stored     bool
	Warning    string
}

// Service は判定と判定履歴のサービス層。
type Service struct {
	classifier Classifier
	images     storage.ImageStore
	ledger     repository.PredictionRepository
	metrics    Recorder
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsがnilの場合はメトリクスを記録しない。
func NewService(
	classifier Classifier,
	images storage.ImageStore,
	ledger repository.PredictionRepository,
	metrics Recorder,
) *Service {
	return &Service{
		classifier: classifier,
		images:     images,
		ledger:     ledger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Classify は画像を判定し、画像の保存に成功した場合は判定履歴に記録する。
// 画像保存や履歴記録の失敗は判定結果を返したうえでWarningとして報告する。
func (s *Service) Classify(ctx context.Context, image []byte, caller *model.Session) (*Result, error) {
	if len(image) == 0 {
		return nil, model.NewImageRequiredError()
	}
	if caller == nil || caller.Email == "" {
		return nil, model.NewSessionIdentityMissingError()
	}

	mtype := mimetype.Detect(image)
	contentType := strings.TrimSpace(strings.SplitN(mtype.String(), ";", 2)[0])
	if !strings.HasPrefix(contentType, "image/") {
		return nil, model.NewInvalidImageError(contentType)
	}

	start := time.Now()
	inferred, err := s.classifier.Classify(ctx, image, contentType)
	if s.metrics != nil {
		s.metrics.RecordInferenceLatency(time.Since(start))
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordInferenceFailure()
		}
		slog.Error("推論に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewInferenceFailedError(err.Error())
	}

	result := &Result{
		Label:      inferred.Label,
		Confidence: ToConfidence(inferred.Probability),
	}

	imageURL, err := s.images.Save(ctx, storage.Object{
		Data:        image,
		ContentType: contentType,
		Extension:   mtype.Extension(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrStorageDisabled) {
			result.Warning = WarningStorageDisabled
		} else {
			slog.Warn("画像の保存に失敗しました",
				slog.String("error", err.Error()),
			)
			result.Warning = WarningUploadFailed
		}
		s.recordOutcome(result)
		return result, nil
	}
	result.ImageURL = imageURL

	record := &model.Prediction{
		ID:         uuid.NewString(),
		ImageURL:   imageURL,
		Label:      result.Label,
		Confidence: result.Confidence,
		UserEmail:  caller.Email,
		Timestamp:  s.now(),
	}
	if err := s.ledger.Create(ctx, record); err != nil {
		slog.Error("判定履歴の記録に失敗しました",
			slog.String("error", err.Error()),
			slog.String("image_url", imageURL),
		)
		result.Warning = WarningRecordFailed
		s.recordOutcome(result)
		return result, nil
	}

	result.Stored = true
	s.recordOutcome(result)
	return result, nil
}

// List は判定履歴を新しい順に返す。
// 管理者は全件、それ以外は自分のemailの履歴のみを参照できる。
// roleはセッションのスナップショットの値を使う。
func (s *Service) List(ctx context.Context, caller *model.Session) ([]*model.Prediction, error) {
	if caller == nil || caller.Email == "" {
		return nil, model.NewSessionIdentityMissingError()
	}

	var (
		records []*model.Prediction
		err     error
	)
	if caller.IsAdmin() {
		records, err = s.ledger.List(ctx)
	} else {
		records, err = s.ledger.ListByUserEmail(ctx, caller.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("判定履歴の取得に失敗しました: %w", err)
	}
	return records, nil
}

// ToConfidence は確率（0〜1）をパーセント表記（小数第2位まで）に変換する。
func ToConfidence(probability float64) float64 {
	return math.Round(probability*10000) / 100
}

func (s *Service) recordOutcome(result *Result) {
	if s.metrics == nil {
		return
	}
	if !result.Stored {
		s.metrics.RecordStorageDegraded()
	}
	s.metrics.RecordPrediction(string(result.Label), result.Stored)
}
