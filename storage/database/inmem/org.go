package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/ethicsgate/ethicsgate/core/org"
)

type orgRepository struct {
	db *DB
}

var _ org.Repository = (*orgRepository)(nil)

func NewOrgRepository(db *DB) org.Repository {
	return &orgRepository{db: db}
}

func (repo *orgRepository) CheckSlugUniqueness(ctx context.Context, slug string) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, o := range repo.db.orgs {
		if o.Slug == slug {
			return org.ErrSlugExists
		}
	}
	return nil
}

func (repo *orgRepository) CreateOrganization(ctx context.Context, o org.Organization) (org.Organization, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	o.ID = uuid.New().String()
	repo.db.orgs[o.ID] = &o
	return o, nil
}

func (repo *orgRepository) GetOrganization(ctx context.Context, filter org.GetFilter) (org.Organization, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if filter.ID != "" {
		if o, ok := repo.db.orgs[filter.ID]; ok {
			return *o, nil
		}
		return org.Organization{}, org.ErrNotFound
	}
	for _, o := range repo.db.orgs {
		if o.Slug == filter.Slug {
			return *o, nil
		}
	}
	return org.Organization{}, org.ErrNotFound
}

func (repo *orgRepository) UpdateOrganization(ctx context.Context, o org.Organization) (org.Organization, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.orgs[o.ID]
	if !ok {
		return org.Organization{}, org.ErrNotFound
	}
	if o.Name != "" {
		orig.Name = o.Name
	}
	if o.Settings != nil {
		orig.Settings = o.Settings
	}
	repo.db.orgs[o.ID] = orig
	return *orig, nil
}
