package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"

	"github.com/hitoshi/authgate/internal/model"
)

const commentColumns = `id, user_id, content, is_edited, edited_at, is_deleted, created_at, updated_at`

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	c, err := scanComment(r.db.QueryRowContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to find comment by ID: %w", err)
	}
	return c, nil
}

// UpdateContent は所有者かつ未削除の場合のみ本文を更新する。
func (r *PostgresCommentRepo) UpdateContent(ctx context.Context, id, userID, content string, editedAt time.Time) (*model.Comment, error) {
	c, err := scanComment(r.db.QueryRowContext(ctx,
		`UPDATE comments
		    SET content = $3, is_edited = true, edited_at = $4, updated_at = $4
		  WHERE id = $1 AND user_id = $2 AND is_deleted = false
		RETURNING `+commentColumns,
		id, userID, content, editedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to update comment: %w", err)
	}
	return c, nil
}

// SoftDelete はsoft_delete_comment関数を呼び出す。
func (r *PostgresCommentRepo) SoftDelete(ctx context.Context, id, userID string) error {
	_, err := r.db.ExecContext(ctx, `SELECT soft_delete_comment($1, $2)`, id, userID)
	switch {
	case err == nil:
		return nil
	case isPgCode(err, pgerrcode.NoDataFound):
		return ErrCommentNotFound
	case isPgCode(err, pgerrcode.InsufficientPrivilege):
		return ErrNotOwner
	default:
		return fmt.Errorf("failed to soft delete comment: %w", err)
	}
}

// ToggleVote はtoggle_comment_vote関数を呼び出す。
func (r *PostgresCommentRepo) ToggleVote(ctx context.Context, commentID, userID string, voteType model.VoteType) (model.VoteAction, error) {
	var action string
	err := r.db.QueryRowContext(ctx,
		`SELECT toggle_comment_vote($1, $2, $3)`, commentID, userID, string(voteType),
	).Scan(&action)
	if err != nil {
		if isPgCode(err, pgerrcode.NoDataFound) {
			return "", ErrCommentNotFound
		}
		return "", fmt.Errorf("failed to toggle vote: %w", err)
	}
	return model.VoteAction(action), nil
}

// scanComment は1行をmodel.Commentに変換する。行が無い場合はnil, nilを返す。
func scanComment(row *sql.Row) (*model.Comment, error) {
	var (
		c        model.Comment
		editedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Content, &c.IsEdited, &editedAt, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if editedAt.Valid {
		t := editedAt.Time
		c.EditedAt = &t
	}
	return &c, nil
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)
