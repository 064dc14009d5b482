package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"

	"github.com/hitoshi/authgate/internal/model"
)

const profileColumns = `id, email, full_name, username, avatar_url, role, created_at, updated_at`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}
	return p, nil
}

// FindByUsername はusernameでプロフィールを検索する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUsername(ctx context.Context, username string) (*model.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE username = $1`, username)
	p, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by username: %w", err)
	}
	return p, nil
}

// Ensure はensure_profile関数でプロフィールをアップサートする。
func (r *PostgresProfileRepo) Ensure(ctx context.Context, id, email, fullName string) (*model.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM ensure_profile($1, $2, $3)`,
		id, email, nullIfEmpty(fullName),
	)
	p, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("ensure_profile returned no row for %s", id)
	}
	return p, nil
}

// Update は指定列とupdated_atを1文で更新する。
func (r *PostgresProfileRepo) Update(ctx context.Context, id string, update ProfileUpdate) (*model.Profile, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id}

	add := func(column string, f Field) {
		if !f.Set {
			return
		}
		var v any
		if f.Value != nil {
			v = *f.Value
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("username", update.Username)
	add("full_name", update.FullName)
	add("avatar_url", update.AvatarURL)

	query := `UPDATE profiles SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + profileColumns

	p, err := scanProfile(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if isPgCode(err, pgerrcode.UniqueViolation) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}

// scanProfile は1行をmodel.Profileに変換する。行が無い場合はnil, nilを返す。
func scanProfile(row *sql.Row) (*model.Profile, error) {
	var (
		p                             model.Profile
		fullName, username, avatarURL sql.NullString
		role                          string
	)
	err := row.Scan(&p.ID, &p.Email, &fullName, &username, &avatarURL, &role, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.Role, err = model.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.ID, err)
	}
	p.FullName = nullStringPtr(fullName)
	p.Username = nullStringPtr(username)
	p.AvatarURL = nullStringPtr(avatarURL)
	return &p, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isPgCode はerrが指定SQLSTATEのpq.Errorかどうかを返す。
func isPgCode(err error, code string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
