package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/eyescreen/internal/model"
	"github.com/hitoshi/eyescreen/internal/prediction"
)

// imageFormField はアップロード画像のmultipartフィールド名。
const imageFormField = "image"

// PredictionServiceInterface は判定ハンドラーが必要とするサービスインターフェース。
type PredictionServiceInterface interface {
	Classify(ctx context.Context, image []byte, caller *model.Session) (*prediction.Result, error)
	List(ctx context.Context, caller *model.Session) ([]*model.Prediction, error)
}

// PredictionHandler は画像判定と判定履歴のHTTPハンドラー。
type PredictionHandler struct {
	service       PredictionServiceInterface
	maxUploadSize int64
}

// NewPredictionHandler はPredictionHandlerを生成する。
// maxUploadSizeはリクエストボディの上限バイト数。
func NewPredictionHandler(service PredictionServiceInterface, maxUploadSize int64) *PredictionHandler {
	return &PredictionHandler{
		service:       service,
		maxUploadSize: maxUploadSize,
	}
}

// predictResponse は判定結果のAPIレスポンス。
// 画像または履歴を保存できなかった場合はmessageに理由が入る。
type predictResponse struct {
	Label      model.Label `json:"label"`
	Confidence float64     `json:"confidence"`
	ImageURL   string      `json:"image_url,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// Predict はアップロードされた眼底画像を判定する。
// POST /api/predict (multipart/form-data, field "image")
func (h *PredictionHandler) Predict(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionOrUnauthorized(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	image, err := readUploadedImage(r, h.maxUploadSize)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, &model.APIError{
				Code:     "PAYLOAD_TOO_LARGE",
				Message:  "Uploaded image is too large",
				Category: "validation",
				Action:   "Upload a smaller image.",
			})
			return
		}
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewImageRequiredError())
			return
		}
		slog.Warn("failed to read uploaded image", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewImageRequiredError())
		return
	}

	result, err := h.service.Classify(r.Context(), image, session)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, predictResponse{
		Label:      result.Label,
		Confidence: result.Confidence,
		ImageURL:   result.ImageURL,
		Message:    result.Warning,
	})
}

// ListPredictions は判定履歴を返す。管理者は全件、それ以外は本人の履歴のみ。
// GET /api/predictions
func (h *PredictionHandler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionOrUnauthorized(w, r)
	if !ok {
		return
	}

	records, err := h.service.List(r.Context(), session)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

// readUploadedImage はmultipartフォームから画像のバイト列を読み出す。
func readUploadedImage(r *http.Request, maxSize int64) ([]byte, error) {
	if err := r.ParseMultipartForm(maxSize); err != nil {
		return nil, err
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, _, err := r.FormFile(imageFormField)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}
