package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethicsgate/ethicsgate/core"
	"github.com/ethicsgate/ethicsgate/core/org"
	"github.com/ethicsgate/ethicsgate/core/user"
)

// addUser updates or creates a user.User in the given organization
func (cli *commandLine) addUser(orgSlug, name, email, role, pwd string) error {
	ctx := context.Background()
	name = core.CleanString(name)
	email = core.CleanString(email, true /* lower */)

	r := user.Role(core.CleanString(role, true /* lower */))
	if !r.IsValid() {
		return fmt.Errorf("invalid role %q", role)
	}

	o, err := cli.orgRepo.GetOrganization(ctx, org.GetFilter{Slug: core.CleanString(orgSlug, true /* lower */)})
	if err != nil {
		return err
	}

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{OrganizationID: o.ID, Email: email})
	if err != nil {
		if err != user.ErrNotFound {
			return err
		}
		now := time.Now().UTC()
		usr = user.User{
			OrganizationID: o.ID,
			Name:           name,
			Email:          email,
			Role:           r,
			IsActive:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := usr.SetPassword(pwd); err != nil {
			return err
		}
		_, err = cli.usrRepo.CreateUser(ctx, usr)
		return err
	}

	usr.Name = name
	usr.Role = r
	usr.UpdatedAt = time.Now().UTC()
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	isActive := true
	_, err = cli.usrRepo.UpdateUser(ctx, usr, &isActive)
	return err
}
