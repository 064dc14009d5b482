// Package repository はデータ永続化のインターフェースを定義する。
// 実装は行API経由（REST）とPostgreSQL直結の2種類があり、
// どちらも同じスキーマ関数（ensure_profile, soft_delete_comment, toggle_comment_vote）に依存する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

var (
	// ErrUsernameTaken はusernameの一意制約違反を示す。
	ErrUsernameTaken = errors.New("username already taken")
	// ErrNotOwner はスキーマ関数が所有者不一致で拒否したことを示す。
	ErrNotOwner = errors.New("not the owner")
	// ErrCommentNotFound はスキーマ関数がコメントを見つけられなかったことを示す。
	ErrCommentNotFound = errors.New("comment not found")
)

// Field は更新対象の列値。Setがfalseなら変更せず、Valueがnilならnullにする。
type Field struct {
	Set   bool
	Value *string
}

// SetTo は値を設定するFieldを返す。
func SetTo(v *string) Field {
	return Field{Set: true, Value: v}
}

// ProfileUpdate はプロフィール更新で変更する列の集合。
// roleは意図的に含まない。
type ProfileUpdate struct {
	Username  Field
	FullName  Field
	AvatarURL Field
}

// Empty は変更対象がないかどうかを返す。
func (u ProfileUpdate) Empty() bool {
	return !u.Username.Set && !u.FullName.Set && !u.AvatarURL.Set
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// FindByUsername はusernameでプロフィールを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.Profile, error)

	// Ensure はidをキーにプロフィールをアップサートする。
	// 新規作成時はrole=subscriberとfullNameを設定し、既存の場合はemailとupdated_atのみ更新する。
	Ensure(ctx context.Context, id, email, fullName string) (*model.Profile, error)

	// Update は指定列とupdated_atを更新する。行が無い場合はnilを返す。
	// usernameの一意制約違反はErrUsernameTakenを返す。
	Update(ctx context.Context, id string, update ProfileUpdate) (*model.Profile, error)
}

// CommentRepository はコメントの永続化インターフェース。
type CommentRepository interface {
	// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Comment, error)

	// UpdateContent はuser_idが一致し未削除のコメントの本文を更新し、
	// is_edited=true、edited_at=editedAtを設定する。一致する行が無い場合はnilを返す。
	UpdateContent(ctx context.Context, id, userID, content string, editedAt time.Time) (*model.Comment, error)

	// SoftDelete は特権関数soft_delete_commentで論理削除する。
	// 関数側で所有者を再検証し、ErrNotOwnerまたはErrCommentNotFoundを返す。
	SoftDelete(ctx context.Context, id, userID string) error

	// ToggleVote は投票を追加・取消・変更し、その結果を返す。
	ToggleVote(ctx context.Context, commentID, userID string, voteType model.VoteType) (model.VoteAction, error)
}
