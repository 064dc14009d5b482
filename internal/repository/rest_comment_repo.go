package repository

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgerrcode"

	"github.com/hitoshi/authgate/internal/backend"
	"github.com/hitoshi/authgate/internal/model"
)

const commentSelect = "id,user_id,content,is_edited,edited_at,is_deleted,created_at,updated_at"

// RESTCommentRepo は行APIを使用したコメントリポジトリ。
type RESTCommentRepo struct {
	client RowClient
}

// NewRESTCommentRepo はRESTCommentRepoを生成する。
func NewRESTCommentRepo(client RowClient) *RESTCommentRepo {
	return &RESTCommentRepo{client: client}
}

// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
func (r *RESTCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	var rows []model.Comment
	err := r.client.Select(ctx, "comments", url.Values{
		"id":     {backend.Eq(id)},
		"select": {commentSelect},
		"limit":  {"1"},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to find comment by ID: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpdateContent は所有者かつ未削除の場合のみ本文を更新する。
func (r *RESTCommentRepo) UpdateContent(ctx context.Context, id, userID, content string, editedAt time.Time) (*model.Comment, error) {
	var rows []model.Comment
	err := r.client.Update(ctx, "comments",
		url.Values{
			"id":         {backend.Eq(id)},
			"user_id":    {backend.Eq(userID)},
			"is_deleted": {backend.Eq("false")},
			"select":     {commentSelect},
		},
		map[string]any{
			"content":    content,
			"is_edited":  true,
			"edited_at":  editedAt.UTC(),
			"updated_at": editedAt.UTC(),
		},
		&rows,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update comment: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// SoftDelete はsoft_delete_comment関数を呼び出す。
func (r *RESTCommentRepo) SoftDelete(ctx context.Context, id, userID string) error {
	err := r.client.RPC(ctx, "soft_delete_comment", map[string]string{
		"comment_id":       id,
		"deleting_user_id": userID,
	}, nil)
	switch {
	case err == nil:
		return nil
	case backend.HasCode(err, pgerrcode.NoDataFound):
		return ErrCommentNotFound
	case backend.HasCode(err, pgerrcode.InsufficientPrivilege):
		return ErrNotOwner
	default:
		return fmt.Errorf("failed to soft delete comment: %w", err)
	}
}

// ToggleVote はtoggle_comment_vote関数を呼び出す。
func (r *RESTCommentRepo) ToggleVote(ctx context.Context, commentID, userID string, voteType model.VoteType) (model.VoteAction, error) {
	var action string
	err := r.client.RPC(ctx, "toggle_comment_vote", map[string]string{
		"p_comment_id": commentID,
		"p_user_id":    userID,
		"p_vote_type":  string(voteType),
	}, &action)
	if err != nil {
		if backend.HasCode(err, pgerrcode.NoDataFound) {
			return "", ErrCommentNotFound
		}
		return "", fmt.Errorf("failed to toggle vote: %w", err)
	}
	return model.VoteAction(action), nil
}

// compile-time interface check
var _ CommentRepository = (*RESTCommentRepo)(nil)
