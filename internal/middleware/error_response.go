package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/authgate/internal/backend"
	"github.com/hitoshi/authgate/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusForError はエラー分類に対応するHTTPステータスを返す。
func StatusForError(apiErr *model.APIError) int {
	switch apiErr.Kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindAuth:
		// 登録済みメールアドレスは入力の問題として扱う
		if apiErr.Code == model.ErrCodeDuplicateEmail {
			return http.StatusBadRequest
		}
		return http.StatusUnauthorized
	case model.KindAuthorization:
		return http.StatusForbidden
	case model.KindConflict:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	default:
		if apiErr.Code == model.ErrCodeBackendUnavailable {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Error: apiErr.Message,
		Code:  apiErr.Code,
	})
}

// WriteError はエラーを分類してレスポンスを書き込む。
// APIError以外は内部エラーとして扱う。5xxの原因はログのみに記録する。
// 原因がバックエンド到達不能・タイムアウトの内部エラーは再試行可能な503に読み替える。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewInternalError(err)
	}
	if apiErr.Code == model.ErrCodeInternal && isUnavailable(err) {
		apiErr = model.NewBackendUnavailableError(apiErr.Err)
	}

	status := StatusForError(apiErr)
	if status >= http.StatusInternalServerError {
		attrs := []any{
			slog.String("code", apiErr.Code),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		}
		if apiErr.Err != nil {
			attrs = append(attrs, slog.String("error", apiErr.Err.Error()))
		}
		slog.Error("request failed", attrs...)
	}

	WriteErrorResponse(w, status, apiErr)
}

func isUnavailable(err error) bool {
	return errors.Is(err, backend.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError(nil))
}
