// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, request, prediction, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeUserNotRegistered      = "USER_NOT_REGISTERED"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeSessionIdentityMissing = "SESSION_IDENTITY_MISSING"
	ErrCodeRequestNotFound        = "REQUEST_NOT_FOUND"
	ErrCodeRequestResolved        = "REQUEST_ALREADY_RESOLVED"
	ErrCodeUserAlreadyExists      = "USER_ALREADY_EXISTS"
	ErrCodeEmailAlreadyExists     = "EMAIL_ALREADY_EXISTS"
	ErrCodeEmailRequired          = "EMAIL_REQUIRED"
	ErrCodeInvalidEmail           = "INVALID_EMAIL"
	ErrCodeInvalidRole            = "INVALID_ROLE"
	ErrCodeProfileFieldsRequired  = "PROFILE_FIELDS_REQUIRED"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeImageRequired          = "IMAGE_REQUIRED"
	ErrCodeInvalidImage           = "INVALID_IMAGE"
	ErrCodeInferenceFailed        = "INFERENCE_FAILED"
	ErrCodeLoginUnavailable       = "LOGIN_UNAVAILABLE"
	ErrCodeInternal               = "INTERNAL_ERROR"
	ErrCodeCSRFTokenInvalid       = "CSRF_TOKEN_INVALID"
	ErrCodeInvalidState           = "INVALID_STATE"
	ErrCodeLoginDenied            = "LOGIN_DENIED"
	ErrCodeRateLimited            = "RATE_LIMIT_EXCEEDED"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "Sign in with Google and try again.",
	}
}

// NewForbiddenError は管理者権限が必要な操作へのアクセスエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Admin access required",
		Category: "auth",
		Action:   "Ask an administrator to perform this operation.",
	}
}

// NewUserNotRegisteredError はIdPで認証されたがユーザーディレクトリに存在しない場合のエラーを生成する。
// 自動登録は行わず、利用申請のみが登録経路となる。
func NewUserNotRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotRegistered,
		Message:  "User Not Exists",
		Category: "auth",
		Action:   "Submit an access request and wait until an administrator approves it.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "Check the user ID, or sign in again.",
	}
}

// NewSessionIdentityMissingError はセッションにユーザー情報が含まれない場合のエラーを生成する。
func NewSessionIdentityMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionIdentityMissing,
		Message:  "User not found in session",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewRequestNotFoundError は利用申請が見つからない場合のエラーを生成する。
func NewRequestNotFoundError(requestID string) *APIError {
	return &APIError{
		Code:     ErrCodeRequestNotFound,
		Message:  fmt.Sprintf("Request not found: %s", requestID),
		Category: "request",
		Action:   "Reload the request list and try again.",
	}
}

// NewRequestAlreadyResolvedError は承認済みの申請を却下する、またはその逆の場合のエラーを生成する。
func NewRequestAlreadyResolvedError(status RequestStatus) *APIError {
	return &APIError{
		Code:     ErrCodeRequestResolved,
		Message:  fmt.Sprintf("Request has already been %s", status),
		Category: "request",
		Action:   "A resolved request cannot be changed. Ask the user to submit a new request.",
	}
}

// NewUserAlreadyExistsError は利用申請のemailが既に登録済みの場合のエラーを生成する。
func NewUserAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeUserAlreadyExists,
		Message:  "User Already Exists",
		Category: "request",
		Action:   "Sign in with Google using this email address.",
	}
}

// NewEmailAlreadyExistsError は管理者によるユーザー作成・更新でemailが重複した場合のエラーを生成する。
func NewEmailAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyExists,
		Message:  "Email Already Exists",
		Category: "validation",
		Action:   "Use a different email address or edit the existing user.",
	}
}

// NewEmailRequiredError はemailが未指定の場合のエラーを生成する。
func NewEmailRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailRequired,
		Message:  "Email is required",
		Category: "validation",
		Action:   "Enter an email address.",
	}
}

// NewInvalidEmailError はemailの形式が不正な場合のエラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("Invalid email address: %s", email),
		Category: "validation",
		Action:   "Enter a valid email address.",
	}
}

// NewInvalidRoleError はロールが user / admin 以外の場合のエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("Invalid role: %s", role),
		Category: "validation",
		Action:   "Role must be either user or admin.",
	}
}

// NewProfileFieldsRequiredError はプロフィール更新でdistrict/stateが不足している場合のエラーを生成する。
func NewProfileFieldsRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileFieldsRequired,
		Message:  "Both 'district' and 'state' are required",
		Category: "validation",
		Action:   "Fill in both district and state.",
	}
}

// NewInvalidRequestError はリクエストボディの解析に失敗した場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "No data provided",
		Category: "validation",
		Action:   "Send the request body as JSON.",
	}
}

// NewImageRequiredError は判定対象の画像が添付されていない場合のエラーを生成する。
func NewImageRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeImageRequired,
		Message:  "No image provided",
		Category: "prediction",
		Action:   "Attach a fundus image in the 'image' field.",
	}
}

// NewInvalidImageError は添付ファイルが画像として認識できない場合のエラーを生成する。
func NewInvalidImageError(mime string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImage,
		Message:  fmt.Sprintf("Unsupported file type: %s", mime),
		Category: "prediction",
		Action:   "Upload a JPEG or PNG fundus image.",
	}
}

// NewInferenceFailedError は推論処理に失敗した場合のエラーを生成する。
func NewInferenceFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInferenceFailed,
		Message:  reason,
		Category: "prediction",
		Action:   "Try again later. If the problem persists, try another image.",
	}
}

// NewLoginUnavailableError はOAuthクライアントが未設定の場合のエラーを生成する。
func NewLoginUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginUnavailable,
		Message:  "Google OAuth client is not configured correctly.",
		Category: "system",
		Action:   "Contact the administrator.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
		Action:   "Please try again later.",
	}
}

// NewCSRFTokenInvalidError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "CSRF token validation failed",
		Category: "auth",
		Action:   "Reload the page and try again.",
	}
}

// NewInvalidStateError はOAuthのstate照合失敗のエラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "Invalid state parameter",
		Category: "auth",
		Action:   "Start the sign-in again.",
	}
}

// NewLoginDeniedError はGoogleの同意画面でサインインが完了しなかったことを表すエラーを生成する。
func NewLoginDeniedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeLoginDenied,
		Message:  fmt.Sprintf("Google sign-in was not completed: %s", reason),
		Category: "auth",
		Action:   "Sign in again and allow access to your Google account.",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests",
		Category: "system",
		Action:   "Wait for the time given in Retry-After and try again.",
	}
}
