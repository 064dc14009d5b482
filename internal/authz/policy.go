// Package authz はロール階層と所有者判定による認可ポリシーを提供する。
// 副作用を持たない純粋な判定のみを扱う。
package authz

import "github.com/hitoshi/authgate/internal/model"

// RoleAtLeast はroleがrequired以上の権限を持つかどうかを返す。
// 未知のロールはどの要求も満たさない。
func RoleAtLeast(role, required model.Role) bool {
	if !role.Valid() || !required.Valid() {
		return false
	}
	return role.Level() >= required.Level()
}

// RequireRole はRoleAtLeastを満たさない場合にinsufficient_roleエラーを返す。
func RequireRole(role, required model.Role) error {
	if !RoleAtLeast(role, required) {
		return model.NewInsufficientRoleError(required)
	}
	return nil
}

// Owns はidentityがownerIDのリソースの所有者かどうかを返す。
func Owns(identity *model.Identity, ownerID string) bool {
	return identity != nil && identity.ID != "" && identity.ID == ownerID
}

// ParseRequiredRole はクエリなど外部入力のロール名を検証する。
func ParseRequiredRole(s string) (model.Role, error) {
	role, err := model.ParseRole(s)
	if err != nil {
		return "", &model.APIError{
			Kind:    model.KindValidation,
			Code:    model.ErrCodeInvalidRole,
			Message: "Invalid role: " + s,
			Err:     err,
		}
	}
	return role, nil
}
