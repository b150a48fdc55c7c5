package org

import (
	"context"
	"errors"
	"time"

	"github.com/ethicsgate/ethicsgate/core"
)

var (
	// errors
	ErrNotFound   = errors.New("organization not found")
	ErrSlugExists = errors.New("an organization with this slug already exists")
)

type (
	// GetFilter applies an OR operation on its set fields to find a single Organization.
	GetFilter struct {
		ID   string
		Slug string
	}

	Repository interface {
		CheckSlugUniqueness(ctx context.Context, slug string) error
		CreateOrganization(ctx context.Context, o Organization) (Organization, error)
		GetOrganization(ctx context.Context, filter GetFilter) (Organization, error)
		UpdateOrganization(ctx context.Context, o Organization) (Organization, error)
	}

	Service interface {
		CheckSlugUniqueness(ctx context.Context, slug string) error
		Create(ctx context.Context, no NewOrganization) (Organization, error)
		GetByID(ctx context.Context, id string) (Organization, error)
		GetBySlug(ctx context.Context, slug string) (Organization, error)
		Update(ctx context.Context, orig Organization, uo UpdateOrganization) (Organization, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) CheckSlugUniqueness(ctx context.Context, slug string) error {
	if err := svc.repo.CheckSlugUniqueness(ctx, slug); err != nil {
		if err == ErrSlugExists {
			return core.NewValidationError(err, core.FieldError{Field: "slug", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *service) Create(ctx context.Context, no NewOrganization) (Organization, error) {
	o := Organization{
		Name:      no.Name,
		Slug:      no.Slug,
		Settings:  make(map[string]interface{}),
		CreatedAt: time.Now().UTC(),
	}
	return svc.repo.CreateOrganization(ctx, o)
}

func (svc *service) GetByID(ctx context.Context, id string) (Organization, error) {
	return svc.repo.GetOrganization(ctx, GetFilter{ID: id})
}

func (svc *service) GetBySlug(ctx context.Context, slug string) (Organization, error) {
	return svc.repo.GetOrganization(ctx, GetFilter{Slug: core.CleanString(slug, true /* lower */)})
}

func (svc *service) Update(ctx context.Context, orig Organization, uo UpdateOrganization) (Organization, error) {
	orig.Name = uo.Name
	if uo.Settings != nil {
		orig.Settings = uo.Settings
	}
	return svc.repo.UpdateOrganization(ctx, orig)
}
