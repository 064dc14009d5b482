package model

import "time"

// Comment はユーザーが投稿したコメントを表す。
// 物理削除はせず、IsDeletedで論理削除する。
type Comment struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Content   string     `json:"content"`
	IsEdited  bool       `json:"is_edited"`
	EditedAt  *time.Time `json:"edited_at"`
	IsDeleted bool       `json:"is_deleted"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// VoteType はコメントへの投票種別。
type VoteType string

const (
	VoteUp   VoteType = "upvote"
	VoteDown VoteType = "downvote"
)

// Valid は既知の投票種別かどうかを返す。
func (v VoteType) Valid() bool {
	return v == VoteUp || v == VoteDown
}

// VoteAction は投票トグルの結果。
type VoteAction string

const (
	VoteAdded   VoteAction = "added"
	VoteRemoved VoteAction = "removed"
	VoteChanged VoteAction = "changed"
)
