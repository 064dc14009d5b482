// Package profile はIdentityごとに1つのプロフィールを保証し、
// オーナーによるプロフィール項目の変更を仲介する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

const (
	usernameMinLength = 3
	usernameMaxLength = 30
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Service はプロフィール同期のサービス層。
type Service struct {
	repo repository.ProfileRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.ProfileRepository) *Service {
	return &Service{repo: repo}
}

// Ensure はidentityのプロフィールが存在することを保証する。
// 新規作成時のfull_nameはメタデータのfull_name、無ければメールアドレスのローカル部。
// 既存プロフィールのrole・username・full_nameは変更しない。
func (s *Service) Ensure(ctx context.Context, identity *model.Identity) (*model.Profile, error) {
	if identity == nil || identity.ID == "" {
		return nil, model.NewInternalError(errors.New("ensure profile: identity is required"))
	}

	fullName := identity.FullName()
	if fullName == "" {
		fullName = model.EmailLocalPart(identity.Email)
	}

	p, err := s.repo.Ensure(ctx, identity.ID, identity.Email, fullName)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("failed to ensure profile: %w", err))
	}
	return p, nil
}

// Get は自分のプロフィールを返す。存在しない場合はNotFound。
func (s *Service) Get(ctx context.Context, identityID string) (*model.Profile, error) {
	p, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if p == nil {
		return nil, model.NewNotFoundError("Profile")
	}
	return p, nil
}

// UpdateUsernameAndName はusernameと任意でfull_nameを更新する。
// usernameはトリム後に 文字種 → 長さ → 他ユーザーとの重複 の順で検証する。
// fullNameがnilなら変更せず、トリム後に空なら消去する。
func (s *Service) UpdateUsernameAndName(ctx context.Context, identityID, username string, fullName *string) (*model.Profile, error) {
	username = strings.TrimSpace(username)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if existing != nil && existing.ID != identityID {
		return nil, model.NewUsernameTakenError(nil)
	}

	update := repository.ProfileUpdate{
		Username: repository.SetTo(&username),
	}
	if fullName != nil {
		update.FullName = repository.SetTo(trimmedOrNil(*fullName))
	}

	return s.apply(ctx, identityID, update)
}

// UpdateDetails はfull_nameとavatar_urlのみを更新する。
// roleなど許可リスト外の項目はこの経路では変更できない。
func (s *Service) UpdateDetails(ctx context.Context, identityID string, details model.ProfileDetails) (*model.Profile, error) {
	var update repository.ProfileUpdate
	if details.FullName != nil {
		update.FullName = repository.SetTo(trimmedOrNil(*details.FullName))
	}
	if details.AvatarURL != nil {
		avatar := trimmedOrNil(*details.AvatarURL)
		if avatar != nil && !isHTTPURL(*avatar) {
			return nil, model.NewValidationError(model.ErrCodeInvalidURL, "avatar_url must be an absolute http(s) URL")
		}
		update.AvatarURL = repository.SetTo(avatar)
	}
	if update.Empty() {
		return nil, model.NewValidationError(model.ErrCodeNoValidFields, "No valid fields to update")
	}

	return s.apply(ctx, identityID, update)
}

func (s *Service) apply(ctx context.Context, identityID string, update repository.ProfileUpdate) (*model.Profile, error) {
	p, err := s.repo.Update(ctx, identityID, update)
	if errors.Is(err, repository.ErrUsernameTaken) {
		// 事前チェックと書き込みの間に取られた場合もここで409になる
		return nil, model.NewUsernameTakenError(err)
	}
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if p == nil {
		return nil, model.NewNotFoundError("Profile")
	}

	slog.Info("profile updated", slog.String("user_id", identityID))
	return p, nil
}

// ValidateUsername はトリム済みのusernameを検証する。
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return model.NewValidationError(model.ErrCodeInvalidCharacters,
			"Username can only contain letters, numbers, and underscores")
	}
	if len(username) < usernameMinLength || len(username) > usernameMaxLength {
		return model.NewValidationError(model.ErrCodeLengthOutOfRange,
			fmt.Sprintf("Username must be between %d and %d characters", usernameMinLength, usernameMaxLength))
	}
	return nil
}

func trimmedOrNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
