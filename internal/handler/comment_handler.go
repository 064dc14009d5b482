package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/authgate/internal/model"
)

// CommentServiceInterface はコメントハンドラーが必要とするサービスインターフェース。
type CommentServiceInterface interface {
	EditComment(ctx context.Context, identity *model.Identity, commentID, content string) (*model.Comment, error)
	SoftDeleteComment(ctx context.Context, identity *model.Identity, commentID string) error
	Vote(ctx context.Context, identity *model.Identity, commentID string, voteType model.VoteType) (model.VoteAction, error)
}

// CommentHandler はコメントの編集・削除・投票のHTTPハンドラー。
type CommentHandler struct {
	service CommentServiceInterface
}

// NewCommentHandler はCommentHandlerを生成する。
func NewCommentHandler(service CommentServiceInterface) *CommentHandler {
	return &CommentHandler{service: service}
}

type editCommentRequest struct {
	Content string `json:"content"`
}

type editCommentResponse struct {
	Success bool           `json:"success"`
	Comment *model.Comment `json:"comment"`
}

type voteRequest struct {
	VoteType model.VoteType `json:"voteType"`
}

type voteResponse struct {
	Success bool             `json:"success"`
	Action  model.VoteAction `json:"action"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// EditComment はコメント本文を編集する。
// PUT /comments/{id}
func (h *CommentHandler) EditComment(w http.ResponseWriter, r *http.Request) {
	identity, commentID, ok := h.target(w, r)
	if !ok {
		return
	}

	var req editCommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	comment, err := h.service.EditComment(r.Context(), identity, commentID, req.Content)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, editCommentResponse{Success: true, Comment: comment})
}

// DeleteComment はコメントを論理削除する。削除済みでも成功を返す。
// DELETE /comments/{id}
func (h *CommentHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	identity, commentID, ok := h.target(w, r)
	if !ok {
		return
	}

	if err := h.service.SoftDeleteComment(r.Context(), identity, commentID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Vote はコメントへの投票をトグルする。
// POST /comments/{id}/vote
func (h *CommentHandler) Vote(w http.ResponseWriter, r *http.Request) {
	identity, commentID, ok := h.target(w, r)
	if !ok {
		return
	}

	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	action, err := h.service.Vote(r.Context(), identity, commentID, req.VoteType)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, voteResponse{Success: true, Action: action})
}

// target は認証済みユーザーとパスのコメントIDを取り出す。失敗時はレスポンスを書き込みfalseを返す。
func (h *CommentHandler) target(w http.ResponseWriter, r *http.Request) (*model.Identity, string, bool) {
	identity, err := requireIdentity(r)
	if err != nil {
		handleServiceError(w, r, err)
		return nil, "", false
	}
	commentID, err := pathID(r)
	if err != nil {
		handleServiceError(w, r, err)
		return nil, "", false
	}
	return identity, commentID, true
}
