package model

import "fmt"

// Role はプロフィールのロールを表す閉じた列挙型。
type Role string

const (
	RoleSubscriber Role = "subscriber"
	RoleAuthor     Role = "author"
	RoleEditor     Role = "editor"
	RoleAdmin      Role = "admin"
)

// roleLevels はロールの全順序。値が大きいほど権限が強い。
var roleLevels = map[Role]int{
	RoleSubscriber: 1,
	RoleAuthor:     2,
	RoleEditor:     3,
	RoleAdmin:      4,
}

// Level はロールの順位を返す。未知のロールは0。
func (r Role) Level() int {
	return roleLevels[r]
}

// Valid は既知のロールかどうかを返す。
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// ParseRole は文字列をRoleに変換する。未知の値はエラー。
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}
