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

// RowClient は行APIの呼び出しに必要なインターフェース。
// backend.Clientの部分集合として定義する。
type RowClient interface {
	Select(ctx context.Context, table string, query url.Values, out any) error
	Update(ctx context.Context, table string, query url.Values, values any, out any) error
	RPC(ctx context.Context, function string, args any, out any) error
}

// profileRow は行APIが返すprofilesの1行。
type profileRow struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  *string   `json:"full_name"`
	Username  *string   `json:"username"`
	AvatarURL *string   `json:"avatar_url"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r profileRow) toModel() (*model.Profile, error) {
	role, err := model.ParseRole(r.Role)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", r.ID, err)
	}
	return &model.Profile{
		ID:        r.ID,
		Email:     r.Email,
		FullName:  r.FullName,
		Username:  r.Username,
		AvatarURL: r.AvatarURL,
		Role:      role,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// RESTProfileRepo は行APIを使用したプロフィールリポジトリ。
type RESTProfileRepo struct {
	client RowClient
}

// NewRESTProfileRepo はRESTProfileRepoを生成する。
func NewRESTProfileRepo(client RowClient) *RESTProfileRepo {
	return &RESTProfileRepo{client: client}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *RESTProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	p, err := r.findOne(ctx, url.Values{"id": {backend.Eq(id)}})
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}
	return p, nil
}

// FindByUsername はusernameでプロフィールを検索する。見つからない場合はnilを返す。
func (r *RESTProfileRepo) FindByUsername(ctx context.Context, username string) (*model.Profile, error) {
	p, err := r.findOne(ctx, url.Values{"username": {backend.Eq(username)}})
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by username: %w", err)
	}
	return p, nil
}

func (r *RESTProfileRepo) findOne(ctx context.Context, filter url.Values) (*model.Profile, error) {
	filter.Set("select", "*")
	filter.Set("limit", "1")

	var rows []profileRow
	if err := r.client.Select(ctx, "profiles", filter, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel()
}

// Ensure はensure_profile関数でプロフィールをアップサートする。
func (r *RESTProfileRepo) Ensure(ctx context.Context, id, email, fullName string) (*model.Profile, error) {
	args := map[string]any{
		"p_id":        id,
		"p_email":     email,
		"p_full_name": nullIfEmpty(fullName),
	}

	var row profileRow
	if err := r.client.RPC(ctx, "ensure_profile", args, &row); err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}
	if row.ID == "" {
		return nil, fmt.Errorf("ensure_profile returned no row for %s", id)
	}
	return row.toModel()
}

// Update は指定列とupdated_atを1回のPATCHで更新する。
func (r *RESTProfileRepo) Update(ctx context.Context, id string, update ProfileUpdate) (*model.Profile, error) {
	values := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if update.Username.Set {
		values["username"] = update.Username.Value
	}
	if update.FullName.Set {
		values["full_name"] = update.FullName.Value
	}
	if update.AvatarURL.Set {
		values["avatar_url"] = update.AvatarURL.Value
	}

	var rows []profileRow
	err := r.client.Update(ctx, "profiles",
		url.Values{"id": {backend.Eq(id)}, "select": {"*"}},
		values, &rows)
	if err != nil {
		if backend.HasCode(err, pgerrcode.UniqueViolation) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel()
}

// compile-time interface check
var (
	_ ProfileRepository = (*RESTProfileRepo)(nil)
	_ RowClient         = (*backend.Client)(nil)
)
