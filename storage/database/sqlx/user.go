package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/ethicsgate/ethicsgate/core"
	"github.com/ethicsgate/ethicsgate/core/user"
)

type userRow struct {
	ID             string      `db:"id"`
	OrganizationID string      `db:"organization_id"`
	Email          string      `db:"email"`
	Name           string      `db:"name"`
	Role           string      `db:"role"`
	AvatarURL      null.String `db:"avatar_url"`
	IsActive       bool        `db:"is_active"`
	PasswordHash   []byte      `db:"password_hash"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
	LastLogin      null.Time   `db:"last_login"`
}

func newUserRow(usr user.User) userRow {
	row := userRow{
		ID:             usr.ID,
		OrganizationID: usr.OrganizationID,
		Email:          usr.Email,
		Name:           usr.Name,
		Role:           string(usr.Role),
		IsActive:       usr.IsActive,
		PasswordHash:   usr.PasswordHash,
		CreatedAt:      usr.CreatedAt,
		UpdatedAt:      usr.UpdatedAt,
	}
	if usr.AvatarURL != nil {
		row.AvatarURL = null.StringFromPtr(usr.AvatarURL)
	}
	if !usr.LastLogin.IsZero() {
		row.LastLogin = null.TimeFrom(usr.LastLogin)
	}
	return row
}

func (row userRow) toUser() user.User {
	usr := user.User{
		ID:             row.ID,
		OrganizationID: row.OrganizationID,
		Email:          row.Email,
		Name:           row.Name,
		Role:           user.Role(row.Role),
		AvatarURL:      row.AvatarURL.Ptr(),
		IsActive:       row.IsActive,
		PasswordHash:   row.PasswordHash,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.LastLogin.Valid {
		usr.LastLogin = row.LastLogin.Time
	}
	return usr
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckEmailUniqueness(ctx context.Context, orgID, email string, excludedUsers ...user.User) error {
	exclIDs := make([]string, 0, len(excludedUsers))
	for _, usr := range excludedUsers {
		exclIDs = append(exclIDs, usr.ID)
	}

	var exists bool
	q := `
	SELECT EXISTS (
		SELECT 1 FROM app_user
		WHERE organization_id = $1 AND email = $2 AND id != ALL($3)
	)`
	if err := repo.db.GetContext(ctx, &exists, q, orgID, email, pq.Array(exclIDs)); err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()

	q := `
	INSERT INTO app_user (id, organization_id, email, name, role, avatar_url, is_active, password_hash, created_at, updated_at, last_login)
	VALUES (:id, :organization_id, :email, :name, :role, :avatar_url, :is_active, :password_hash, :created_at, :updated_at, :last_login)`
	if _, err := repo.db.NamedExecContext(ctx, q, newUserRow(usr)); err != nil {
		return user.User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var (
		row userRow
		err error
	)
	if filter.ID != "" {
		err = repo.db.GetContext(ctx, &row, `SELECT * FROM app_user WHERE id = $1`, filter.ID)
	} else {
		q := `SELECT * FROM app_user WHERE organization_id = $1 AND email = $2`
		err = repo.db.GetContext(ctx, &row, q, filter.OrganizationID, filter.Email)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter, ordering ...core.DBOrdering) ([]user.User, error) {
	var (
		clauses []string
		args    []interface{}
	)
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.OrganizationID != "" {
		clauses = append(clauses, "organization_id = "+arg(filter.OrganizationID))
	}
	if filter.Search != "" {
		ph := arg("%" + filter.Search + "%")
		clauses = append(clauses, fmt.Sprintf("(name ILIKE %s OR email ILIKE %s)", ph, ph))
	}
	if len(filter.Roles) > 0 {
		roles := make([]string, 0, len(filter.Roles))
		for _, r := range filter.Roles {
			roles = append(roles, string(r))
		}
		clauses = append(clauses, "role = ANY("+arg(pq.Array(roles))+")")
	}
	if filter.IsActive != nil {
		clauses = append(clauses, "is_active = "+arg(*filter.IsActive))
	}
	if !filter.CreatedFrom.IsZero() {
		clauses = append(clauses, "created_at >= "+arg(filter.CreatedFrom))
	}
	if !filter.CreatedTo.IsZero() {
		clauses = append(clauses, "created_at <= "+arg(filter.CreatedTo))
	}

	q := `SELECT * FROM app_user`
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += orderClause(ordering, map[string]bool{"name": true, "email": true, "created_at": true})

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "filtering users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	// only save set fields
	sets := make([]string, 0, 8)
	if !usr.UpdatedAt.IsZero() {
		sets = append(sets, "updated_at = :updated_at")
	}
	if usr.Name != "" {
		sets = append(sets, "name = :name")
	}
	if usr.Email != "" {
		sets = append(sets, "email = :email")
	}
	if usr.Role != "" {
		sets = append(sets, "role = :role")
	}
	if usr.AvatarURL != nil {
		sets = append(sets, "avatar_url = :avatar_url")
	}
	if usr.PasswordHash != nil {
		sets = append(sets, "password_hash = :password_hash")
	}
	if !usr.LastLogin.IsZero() {
		sets = append(sets, "last_login = :last_login")
	}

	row := newUserRow(usr)
	args := map[string]interface{}{
		"id":            row.ID,
		"name":          row.Name,
		"email":         row.Email,
		"role":          row.Role,
		"avatar_url":    row.AvatarURL,
		"password_hash": row.PasswordHash,
		"last_login":    row.LastLogin,
		"updated_at":    row.UpdatedAt,
	}
	if isActive != nil {
		sets = append(sets, "is_active = :is_active")
		args["is_active"] = *isActive
	}
	if len(sets) == 0 {
		return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
	}

	q := fmt.Sprintf(`UPDATE app_user SET %s WHERE id = :id`, strings.Join(sets, ", "))
	res, err := repo.db.NamedExecContext(ctx, q, args)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, orgID string, ids ...string) error {
	q := `DELETE FROM app_user WHERE organization_id = $1 AND id = ANY($2)`
	if _, err := repo.db.ExecContext(ctx, q, orgID, pq.Array(ids)); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}

// orderClause renders a safe ORDER BY for known fields only.
func orderClause(ordering []core.DBOrdering, allowed map[string]bool) string {
	var fields []string
	for _, ord := range ordering {
		if !allowed[ord.Field] {
			continue
		}
		dir := " DESC"
		if ord.Ascending {
			dir = " ASC"
		}
		fields = append(fields, ord.Field+dir)
	}
	if len(fields) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(fields, ", ")
}
