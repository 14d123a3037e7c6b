// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitoshi/eyescreen/internal/middleware"
	"github.com/hitoshi/eyescreen/internal/model"
)

// messageResponse はメッセージのみを返すAPIレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeMessage は{"message": ...}形式のレスポンスを書き込む。
func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, messageResponse{Message: message})
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeUserNotRegistered, model.ErrCodeCSRFTokenInvalid:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeRequestNotFound, model.ErrCodeSessionIdentityMissing:
		return http.StatusNotFound
	case model.ErrCodeUserAlreadyExists, model.ErrCodeRequestResolved:
		return http.StatusConflict
	case model.ErrCodeEmailAlreadyExists,
		model.ErrCodeEmailRequired,
		model.ErrCodeInvalidEmail,
		model.ErrCodeInvalidRole,
		model.ErrCodeProfileFieldsRequired,
		model.ErrCodeInvalidRequest,
		model.ErrCodeImageRequired,
		model.ErrCodeInvalidImage,
		model.ErrCodeInvalidState,
		model.ErrCodeLoginDenied:
		return http.StatusBadRequest
	case model.ErrCodeInferenceFailed, model.ErrCodeLoginUnavailable:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody はリクエストボディをJSONとしてデコードする。
// 失敗した場合は400を書き込みfalseを返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// sessionOrUnauthorized はコンテキストのセッションを返す。
// 存在しない場合は401を書き込みfalseを返す。
func sessionOrUnauthorized(w http.ResponseWriter, r *http.Request) (*model.Session, bool) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil, false
	}
	return session, true
}

// isValidID はパスパラメータがUUID形式かどうかを返す。
// 形式不正のIDは存在しないものとして扱う。
func isValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
