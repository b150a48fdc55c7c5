package main

import (
	"context"
	"time"

	"github.com/ethicsgate/ethicsgate/core"
	"github.com/ethicsgate/ethicsgate/core/org"
)

func (cli *commandLine) createOrg(name, slug string) error {
	ctx := context.Background()
	name = core.CleanString(name)
	slug = core.CleanString(slug, true /* lower */)

	if err := cli.orgRepo.CheckSlugUniqueness(ctx, slug); err != nil {
		return err
	}
	_, err := cli.orgRepo.CreateOrganization(ctx, org.Organization{
		Name:      name,
		Slug:      slug,
		Settings:  make(map[string]interface{}),
		CreatedAt: time.Now().UTC(),
	})
	return err
}
