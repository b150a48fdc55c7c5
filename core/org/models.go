package org

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ethicsgate/ethicsgate/core"
)

// Organization is the tenant boundary: every user and proposal belongs to
// exactly one Organization and cross-organization access is always denied.
type Organization struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Slug      string                 `json:"slug"` // immutable after creation
	Settings  map[string]interface{} `json:"settings"`
	CreatedAt time.Time              `json:"created_at"` // UTC
}

// NewOrganization contains information needed to create a new Organization.
type NewOrganization struct {
	Name string `json:"name" validate:"required,min=2,max=100"`
	Slug string `json:"slug" validate:"required,min=3,max=50,slug"`
}

func (no *NewOrganization) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	no.Name = core.CleanString(no.Name)
	no.Slug = core.CleanString(no.Slug, true /* lower */)

	if err := validate.Struct(no); err != nil {
		return err
	}
	return svc.CheckSlugUniqueness(ctx, no.Slug)
}

// UpdateOrganization defines what may be modified on an existing Organization.
// The slug is deliberately absent: it never changes after creation.
type UpdateOrganization struct {
	Name     string                 `json:"name" validate:"omitempty,min=2,max=100"`
	Settings map[string]interface{} `json:"settings"`
}

func (uo *UpdateOrganization) Validate(validate *validator.Validate, orig Organization) error {
	name := core.CleanString(uo.Name)
	if name != "" {
		uo.Name = name
	} else {
		uo.Name = orig.Name
	}
	return validate.Struct(uo)
}
