package main

import (
	"context"
	"time"

	"github.com/ethicsgate/ethicsgate/core"
	"github.com/ethicsgate/ethicsgate/core/org"
	"github.com/ethicsgate/ethicsgate/core/user"
)

func (cli *commandLine) resetPassword(orgSlug, email, pwd string) error {
	ctx := context.Background()

	o, err := cli.orgRepo.GetOrganization(ctx, org.GetFilter{Slug: core.CleanString(orgSlug, true /* lower */)})
	if err != nil {
		return err
	}
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{
		OrganizationID: o.ID,
		Email:          core.CleanString(email, true /* lower */),
	})
	if err != nil {
		return err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = cli.usrRepo.UpdateUser(ctx, usr, nil)
	return err
}
