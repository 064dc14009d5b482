package model

import "fmt"

// ErrorKind はエラーの分類。HTTPステータスへの対応はハンドラー層で行う。
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuth          ErrorKind = "auth"
	KindAuthorization ErrorKind = "authorization"
	KindConflict      ErrorKind = "conflict"
	KindNotFound      ErrorKind = "not_found"
	KindInternal      ErrorKind = "internal"
)

// APIError は統一エラーフォーマットを表す。
// Errは原因エラーでログにのみ出力し、レスポンスには含めない。
type APIError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeMissingFields      = "missing_fields"
	ErrCodeWeakPassword       = "weak_password"
	ErrCodeInvalidCharacters  = "invalid_characters"
	ErrCodeLengthOutOfRange   = "length_out_of_range"
	ErrCodeEmptyContent       = "empty_content"
	ErrCodeInvalidID          = "invalid_id"
	ErrCodeInvalidBody        = "invalid_body"
	ErrCodeInvalidRole        = "invalid_role"
	ErrCodeInvalidVoteType    = "invalid_vote_type"
	ErrCodeNoValidFields      = "no_valid_fields"
	ErrCodeInvalidURL         = "invalid_url"
	ErrCodeInvalidInput       = "invalid_input"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeUnauthenticated    = "unauthenticated"
	ErrCodeInvalidCode        = "invalid_code"
	ErrCodeDuplicateEmail     = "duplicate_email"
	ErrCodeNotOwner           = "not_owner"
	ErrCodeInsufficientRole   = "insufficient_role"
	ErrCodeUsernameTaken      = "username_taken"
	ErrCodeNotFound           = "not_found"
	ErrCodeInternal           = "internal_error"
	ErrCodeBackendUnavailable = "backend_unavailable"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(code, message string) *APIError {
	return &APIError{Kind: KindValidation, Code: code, Message: message}
}

// NewMissingFieldsError は必須項目の欠落エラーを生成する。
func NewMissingFieldsError(fields ...string) *APIError {
	msg := "Missing required fields"
	if len(fields) > 0 {
		msg = fmt.Sprintf("Missing required fields: %v", fields)
	}
	return NewValidationError(ErrCodeMissingFields, msg)
}

// NewInvalidIDError はパスパラメータのID形式エラーを生成する。
func NewInvalidIDError(id string) *APIError {
	return NewValidationError(ErrCodeInvalidID, fmt.Sprintf("Invalid id: %s", id))
}

// NewInvalidBodyError はリクエストボディの解析エラーを生成する。
func NewInvalidBodyError(err error) *APIError {
	return &APIError{Kind: KindValidation, Code: ErrCodeInvalidBody, Message: "Invalid request body", Err: err}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError(err error) *APIError {
	return &APIError{Kind: KindAuth, Code: ErrCodeUnauthenticated, Message: "Unauthorized", Err: err}
}

// NewInvalidCredentialsError は認証情報の不一致エラーを生成する。
func NewInvalidCredentialsError(err error) *APIError {
	return &APIError{Kind: KindAuth, Code: ErrCodeInvalidCredentials, Message: "Invalid email or password", Err: err}
}

// NewInvalidCodeError は認可コード交換の失敗エラーを生成する。
func NewInvalidCodeError(err error) *APIError {
	return &APIError{Kind: KindAuth, Code: ErrCodeInvalidCode, Message: "Invalid or expired authorization code", Err: err}
}

// NewDuplicateEmailError は登録済みメールアドレスのエラーを生成する。
func NewDuplicateEmailError(err error) *APIError {
	return &APIError{Kind: KindAuth, Code: ErrCodeDuplicateEmail, Message: "User already registered", Err: err}
}

// NewWeakPasswordError はパスワード強度不足のエラーを生成する。
func NewWeakPasswordError(message string, err error) *APIError {
	if message == "" {
		message = "Password is too weak"
	}
	return &APIError{Kind: KindValidation, Code: ErrCodeWeakPassword, Message: message, Err: err}
}

// NewInvalidInputError はバックエンドが分類できない理由で入力を拒否したエラーを生成する。
// 原因の詳細はErrに保持し、クライアントには返さない。
func NewInvalidInputError(err error) *APIError {
	return &APIError{Kind: KindValidation, Code: ErrCodeInvalidInput, Message: "Invalid sign-up details", Err: err}
}

// NewNotOwnerError は所有者以外による変更のエラーを生成する。
func NewNotOwnerError() *APIError {
	return &APIError{Kind: KindAuthorization, Code: ErrCodeNotOwner, Message: "You can only modify your own resources"}
}

// NewInsufficientRoleError はロール不足のエラーを生成する。
func NewInsufficientRoleError(required Role) *APIError {
	return &APIError{
		Kind:    KindAuthorization,
		Code:    ErrCodeInsufficientRole,
		Message: fmt.Sprintf("Requires role %s or higher", required),
	}
}

// NewUsernameTakenError はユーザー名重複のエラーを生成する。
func NewUsernameTakenError(err error) *APIError {
	return &APIError{Kind: KindConflict, Code: ErrCodeUsernameTaken, Message: "Username is already taken", Err: err}
}

// NewNotFoundError はリソース未検出のエラーを生成する。
func NewNotFoundError(resource string) *APIError {
	return &APIError{Kind: KindNotFound, Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

// NewInternalError は内部エラーを生成する。詳細はErrに保持しログのみに出す。
func NewInternalError(err error) *APIError {
	return &APIError{Kind: KindInternal, Code: ErrCodeInternal, Message: "Internal server error", Err: err}
}

// NewBackendUnavailableError はバックエンド到達不能・タイムアウトのエラーを生成する。
// クライアントは再試行してよい。
func NewBackendUnavailableError(err error) *APIError {
	return &APIError{Kind: KindInternal, Code: ErrCodeBackendUnavailable, Message: "Service temporarily unavailable", Err: err}
}
