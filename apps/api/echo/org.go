package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ethicsgate/ethicsgate/core/org"
	"github.com/ethicsgate/ethicsgate/core/user"
)

type orgApi struct {
	deps *ServerDeps
}

func registerOrgAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *ServerDeps) {
	api := orgApi{deps: deps}

	og := g.Group("/organizations")

	// signing up creates the organization and its first admin
	og.POST("", api.register)
	og.GET("/current", api.retrieve, jwt)
	og.PUT("/current", api.update, jwt, adminMiddleware())
}

// Handlers

func (api *orgApi) register(ctx echo.Context) error {
	var data RegisterRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RegisterRequest")
	}

	rctx := ctx.Request().Context()
	if err := data.Organization.Validate(rctx, api.deps.Validate, api.deps.OrgSvc); err != nil {
		return err
	}

	// validate the admin too before touching the store; a rejected admin must
	// not leave behind an empty organization holding the slug
	data.Admin.Role = user.RoleAdmin
	if err := data.Admin.Validate(rctx, "", api.deps.Validate, api.deps.UserSvc); err != nil {
		return err
	}

	o, err := api.deps.OrgSvc.Create(rctx, data.Organization)
	if err != nil {
		return errors.Wrap(err, "creating organization")
	}
	admin, err := api.deps.UserSvc.Create(rctx, o.ID, data.Admin)
	if err != nil {
		return errors.Wrap(err, "creating admin user")
	}

	return ctx.JSON(http.StatusCreated, RegisterResponse{Organization: o, Admin: admin})
}

func (api *orgApi) retrieve(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	o, err := api.deps.OrgSvc.GetByID(ctx.Request().Context(), ctxUsr.OrganizationID)
	if err != nil {
		return errors.Wrap(err, "getting organization")
	}
	return ctx.JSON(http.StatusOK, o)
}

func (api *orgApi) update(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	rctx := ctx.Request().Context()
	o, err := api.deps.OrgSvc.GetByID(rctx, ctxUsr.OrganizationID)
	if err != nil {
		return errors.Wrap(err, "getting organization")
	}

	var data org.UpdateOrganization
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateOrganization")
	}
	if err := data.Validate(api.deps.Validate, o); err != nil {
		return err
	}

	if o, err = api.deps.OrgSvc.Update(rctx, o, data); err != nil {
		return errors.Wrap(err, "updating organization")
	}
	return ctx.JSON(http.StatusOK, o)
}

type (
	RegisterRequest struct {
		Organization org.NewOrganization `json:"organization"`
		Admin        user.NewUser        `json:"admin"`
	}

	RegisterResponse struct {
		Organization org.Organization `json:"organization"`
		Admin        user.User        `json:"admin"`
	}
)
