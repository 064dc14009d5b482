// Package comment はコメントの編集・論理削除・投票をオーナー権限で仲介する。
// コメントの作成と一覧はこのパッケージの対象外。
package comment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/authgate/internal/authz"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
)

// Service はコメントモデレーションのサービス層。
type Service struct {
	repo      repository.CommentRepository
	sanitizer security.ContentSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.CommentRepository, sanitizer security.ContentSanitizer) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// EditComment はオーナーのみが未削除のコメント本文を編集できる。
// 検証順序: 存在 → 所有者 → 未削除 → 本文が空でないこと。
func (s *Service) EditComment(ctx context.Context, identity *model.Identity, commentID, content string) (*model.Comment, error) {
	c, err := s.load(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if !authz.Owns(identity, c.UserID) {
		return nil, model.NewNotOwnerError()
	}
	if c.IsDeleted {
		return nil, model.NewNotFoundError("Comment")
	}

	clean := s.sanitizer.Sanitize(content)
	if clean == "" {
		return nil, model.NewValidationError(model.ErrCodeEmptyContent, "Comment content cannot be empty")
	}

	// 書き込み側でもuser_idと未削除を条件にする
	updated, err := s.repo.UpdateContent(ctx, commentID, identity.ID, clean, s.now().UTC())
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if updated == nil {
		// 読み取り後に削除された
		return nil, model.NewNotFoundError("Comment")
	}

	slog.Info("comment edited",
		slog.String("comment_id", commentID),
		slog.String("user_id", identity.ID),
	)
	return updated, nil
}

// SoftDeleteComment はオーナーのみがコメントを論理削除できる。
// 削除済みの場合は何もせず成功する。
func (s *Service) SoftDeleteComment(ctx context.Context, identity *model.Identity, commentID string) error {
	c, err := s.load(ctx, commentID)
	if err != nil {
		return err
	}
	if !authz.Owns(identity, c.UserID) {
		return model.NewNotOwnerError()
	}
	if c.IsDeleted {
		return nil
	}

	err = s.repo.SoftDelete(ctx, commentID, identity.ID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotOwner):
		return model.NewNotOwnerError()
	case errors.Is(err, repository.ErrCommentNotFound):
		return model.NewNotFoundError("Comment")
	default:
		return model.NewInternalError(err)
	}

	slog.Info("comment soft deleted",
		slog.String("comment_id", commentID),
		slog.String("user_id", identity.ID),
	)
	return nil
}

// Vote はコメントへの投票をトグルする。
// 同じ種別の再投票は取消、異なる種別は変更になる。
func (s *Service) Vote(ctx context.Context, identity *model.Identity, commentID string, voteType model.VoteType) (model.VoteAction, error) {
	if !voteType.Valid() {
		return "", model.NewValidationError(model.ErrCodeInvalidVoteType, "Invalid vote type")
	}
	if identity == nil || identity.ID == "" {
		return "", model.NewUnauthenticatedError(nil)
	}

	c, err := s.load(ctx, commentID)
	if err != nil {
		return "", err
	}
	if c.IsDeleted {
		return "", model.NewNotFoundError("Comment")
	}

	action, err := s.repo.ToggleVote(ctx, commentID, identity.ID, voteType)
	if errors.Is(err, repository.ErrCommentNotFound) {
		return "", model.NewNotFoundError("Comment")
	}
	if err != nil {
		return "", model.NewInternalError(err)
	}
	return action, nil
}

func (s *Service) load(ctx context.Context, commentID string) (*model.Comment, error) {
	c, err := s.repo.FindByID(ctx, commentID)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if c == nil {
		return nil, model.NewNotFoundError("Comment")
	}
	return c, nil
}
