package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"

	"github.com/ethicsgate/ethicsgate/core/org"
)

type orgRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	Slug      string         `db:"slug"`
	Settings  types.JSONText `db:"settings"`
	CreatedAt time.Time      `db:"created_at"`
}

func newOrgRow(o org.Organization) (orgRow, error) {
	settings, err := json.Marshal(o.Settings)
	if err != nil {
		return orgRow{}, errors.Wrap(err, "marshalling settings")
	}
	return orgRow{
		ID:        o.ID,
		Name:      o.Name,
		Slug:      o.Slug,
		Settings:  settings,
		CreatedAt: o.CreatedAt,
	}, nil
}

func (row orgRow) toOrg() (org.Organization, error) {
	o := org.Organization{
		ID:        row.ID,
		Name:      row.Name,
		Slug:      row.Slug,
		CreatedAt: row.CreatedAt,
	}
	if len(row.Settings) > 0 {
		if err := json.Unmarshal(row.Settings, &o.Settings); err != nil {
			return org.Organization{}, errors.Wrap(err, "unmarshalling settings")
		}
	}
	return o, nil
}

type orgRepository struct {
	db *sqlx.DB
}

var _ org.Repository = (*orgRepository)(nil)

func NewOrgRepository(db *sqlx.DB) org.Repository {
	return &orgRepository{db: db}
}

func (repo *orgRepository) CheckSlugUniqueness(ctx context.Context, slug string) error {
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM organization WHERE slug = $1)`
	if err := repo.db.GetContext(ctx, &exists, q, slug); err != nil {
		return errors.Wrap(err, "checking slug uniqueness")
	}
	if exists {
		return org.ErrSlugExists
	}
	return nil
}

func (repo *orgRepository) CreateOrganization(ctx context.Context, o org.Organization) (org.Organization, error) {
	o.ID = uuid.New().String()
	row, err := newOrgRow(o)
	if err != nil {
		return org.Organization{}, err
	}

	q := `
	INSERT INTO organization (id, name, slug, settings, created_at)
	VALUES (:id, :name, :slug, :settings, :created_at)`
	if _, err = repo.db.NamedExecContext(ctx, q, row); err != nil {
		return org.Organization{}, errors.Wrap(err, "creating organization")
	}
	return o, nil
}

func (repo *orgRepository) GetOrganization(ctx context.Context, filter org.GetFilter) (org.Organization, error) {
	var row orgRow
	q := `SELECT * FROM organization WHERE id = $1 OR slug = $2`
	if err := repo.db.GetContext(ctx, &row, q, filter.ID, filter.Slug); err != nil {
		if err == sql.ErrNoRows {
			return org.Organization{}, org.ErrNotFound
		}
		return org.Organization{}, errors.Wrap(err, "getting organization")
	}
	return row.toOrg()
}

func (repo *orgRepository) UpdateOrganization(ctx context.Context, o org.Organization) (org.Organization, error) {
	row, err := newOrgRow(o)
	if err != nil {
		return org.Organization{}, err
	}

	q := `
	UPDATE organization
	SET name = :name,
		settings = :settings
	WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return org.Organization{}, errors.Wrap(err, "updating organization")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return org.Organization{}, org.ErrNotFound
	}
	return repo.GetOrganization(ctx, org.GetFilter{ID: o.ID})
}
