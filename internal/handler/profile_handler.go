package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/authgate/internal/authz"
	"github.com/hitoshi/authgate/internal/model"
)

// ProfileServiceInterface はプロフィール・ユーザーハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	ProfileReader
	UpdateUsernameAndName(ctx context.Context, identityID, username string, fullName *string) (*model.Profile, error)
	UpdateDetails(ctx context.Context, identityID string, details model.ProfileDetails) (*model.Profile, error)
}

// ProfileHandler は自分のプロフィールと他ユーザーのプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

type updateProfileRequest struct {
	Username string  `json:"username"`
	FullName *string `json:"fullName"`
}

type updateProfileResponse struct {
	Message string         `json:"message"`
	Profile *model.Profile `json:"profile"`
}

// updateUserRequest はPUT /user/{id}で受け付ける項目。roleなど他の項目は無視する。
type updateUserRequest struct {
	FullName  *string `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}

type userProfileResponse struct {
	User         *model.Identity `json:"user"`
	Profile      *model.Profile  `json:"profile"`
	IsOwnProfile bool            `json:"isOwnProfile"`
}

type profileResponse struct {
	Profile *model.Profile `json:"profile"`
}

// UpdateProfile は自分のusernameと任意でfull_nameを更新する。
// POST /profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity, err := requireIdentity(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	profile, err := h.service.UpdateUsernameAndName(r.Context(), identity.ID, req.Username, req.FullName)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updateProfileResponse{Message: "Profile updated successfully", Profile: profile})
}

// GetUser はプロフィールを返す。他ユーザーのプロフィールはeditor以上のみ閲覧できる。
// GET /user/{id}
func (h *ProfileHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	identity, err := requireIdentity(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	userID, err := pathID(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	isOwn := authz.Owns(identity, userID)
	if !isOwn {
		role, err := viewerRole(r.Context(), h.service, identity)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if err := authz.RequireRole(role, model.RoleEditor); err != nil {
			handleServiceError(w, r, err)
			return
		}
	}

	profile, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userProfileResponse{User: identity, Profile: profile, IsOwnProfile: isOwn})
}

// UpdateUser は自分のfull_nameとavatar_urlを更新する。
// PUT /user/{id}
func (h *ProfileHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	identity, err := requireIdentity(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	userID, err := pathID(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !authz.Owns(identity, userID) {
		handleServiceError(w, r, model.NewNotOwnerError())
		return
	}

	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	profile, err := h.service.UpdateDetails(r.Context(), userID, model.ProfileDetails{
		FullName:  req.FullName,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{Profile: profile})
}
