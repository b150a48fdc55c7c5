package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ethicsgate/ethicsgate/core"
	"github.com/ethicsgate/ethicsgate/core/proposal"
	"github.com/ethicsgate/ethicsgate/core/user"
)

type proposalApi struct {
	deps *ServerDeps
}

func registerProposalAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *ServerDeps) {
	api := proposalApi{deps: deps}

	pg := g.Group("/proposals", jwt)
	pg.POST("", api.create)
	pg.GET("", api.query)
	pg.GET("/:id", api.retrieve)
	pg.PUT("/:id", api.update)
	pg.POST("/:id/submit", api.submit)
	pg.POST("/:id/reviewers", api.assignReviewers, adminMiddleware())
	pg.POST("/:id/reviews", api.recordReview)
	pg.POST("/:id/resubmit", api.resubmit)
	pg.POST("/:id/annotations", api.annotate)

	ag := g.Group("/annotations", jwt)
	ag.POST("/:id/replies", api.replyToAnnotation)
	ag.PUT("/:id/resolve", api.resolveAnnotation)
}

// Handlers

func (api *proposalApi) create(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data proposal.NewProposal
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewProposal")
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	p, err := api.deps.ProposalSvc.Create(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *proposalApi) query(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	filter := new(proposal.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []proposal.Proposal{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	proposals, err := api.deps.ProposalSvc.Query(ctx.Request().Context(), ctxUsr, *filter, ordering.Orderings...)
	if err != nil {
		return err
	}
	if proposals == nil {
		proposals = []proposal.Proposal{}
	}
	return ctx.JSON(http.StatusOK, proposals)
}

func (api *proposalApi) retrieve(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	detail, err := api.deps.ProposalSvc.GetDetail(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (api *proposalApi) update(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	rctx := ctx.Request().Context()
	p, err := api.deps.ProposalSvc.GetByID(rctx, ctxUsr, ctx.Param("id"))
	if err != nil {
		return err
	}

	var data proposal.UpdateDraft
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateDraft")
	}
	if err := data.Validate(p, api.deps.Validate); err != nil {
		return err
	}

	if p, err = api.deps.ProposalSvc.SaveDraft(rctx, ctxUsr, p.ID, data); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *proposalApi) submit(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	p, err := api.deps.ProposalSvc.Submit(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *proposalApi) assignReviewers(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data AssignReviewersRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AssignReviewersRequest")
	}

	p, err := api.deps.ProposalSvc.AssignReviewers(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data.ReviewerIDs)
	if err != nil {
		return err
	}

	go api.sendReviewerAssignedMail(p)
	return ctx.JSON(http.StatusOK, p)
}

func (api *proposalApi) recordReview(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data proposal.NewReview
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewReview")
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	p, review, err := api.deps.ProposalSvc.RecordReview(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return err
	}

	go api.sendDecisionMail(p, review)
	return ctx.JSON(http.StatusCreated, ReviewResponse{Proposal: p, Review: review})
}

func (api *proposalApi) resubmit(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	rctx := ctx.Request().Context()
	p, err := api.deps.ProposalSvc.GetByID(rctx, ctxUsr, ctx.Param("id"))
	if err != nil {
		return err
	}

	var data proposal.UpdateDraft
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateDraft")
	}
	if err := data.Validate(p, api.deps.Validate); err != nil {
		return err
	}

	if p, err = api.deps.ProposalSvc.Resubmit(rctx, ctxUsr, p.ID, data); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *proposalApi) annotate(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data proposal.NewAnnotation
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAnnotation")
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	a, err := api.deps.ProposalSvc.Annotate(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *proposalApi) replyToAnnotation(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data proposal.NewReply
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewReply")
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	reply, err := api.deps.ProposalSvc.ReplyToAnnotation(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, reply)
}

func (api *proposalApi) resolveAnnotation(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data ResolveAnnotationRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResolveAnnotationRequest")
	}

	a, err := api.deps.ProposalSvc.ResolveAnnotation(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data.IsResolved)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

// Notifications

func (api *proposalApi) sendReviewerAssignedMail(p proposal.Proposal) {
	recipients := make([]mail.Address, 0, len(p.AssignedReviewers))
	for _, rid := range p.AssignedReviewers {
		rev, err := api.deps.UserSvc.GetByID(context.Background(), p.OrganizationID, rid)
		if err != nil {
			api.deps.Logger.Error(fmt.Sprintf("loading reviewer %s: %v", rid, err), err)
			continue
		}
		recipients = append(recipients, mail.Address{Name: rev.Name, Address: rev.Email})
	}
	if len(recipients) == 0 {
		return
	}

	api.deps.MailSvc.SendMessages(
		&core.EmailMessage{
			To:           recipients,
			Subject:      "New Proposal Assigned for Review",
			TemplateName: "reviewer-assigned",
			TemplateData: struct{ Proposal proposal.Proposal }{p},
		},
	)
}

func (api *proposalApi) sendDecisionMail(p proposal.Proposal, review proposal.Review) {
	author, err := api.deps.UserSvc.GetByID(context.Background(), p.OrganizationID, p.SubmittedBy)
	if err != nil {
		api.deps.Logger.Error(fmt.Sprintf("loading author %s: %v", p.SubmittedBy, err), err)
		return
	}

	api.deps.MailSvc.SendMessages(
		&core.EmailMessage{
			To:           []mail.Address{{Name: author.Name, Address: author.Email}},
			Subject:      "Decision on Your Proposal",
			TemplateName: "proposal-decision",
			TemplateData: struct {
				Author   user.User
				Proposal proposal.Proposal
				Review   proposal.Review
			}{author, p, review},
		},
	)
}

type (
	AssignReviewersRequest struct {
		ReviewerIDs []string `json:"reviewer_ids"`
	}

	ResolveAnnotationRequest struct {
		IsResolved bool `json:"is_resolved"`
	}

	ReviewResponse struct {
		Proposal proposal.Proposal `json:"proposal"`
		Review   proposal.Review   `json:"review"`
	}
)
