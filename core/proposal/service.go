package proposal

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/ethicsgate/ethicsgate/core"
	"github.com/ethicsgate/ethicsgate/core/user"
)

var (
	// errors
	ErrNotFound           = errors.New("proposal not found")
	ErrAnnotationNotFound = errors.New("annotation not found")
	ErrPermissionDenied   = errors.New("permission denied")
	// ErrConcurrentUpdate is returned by repositories when a conditional
	// status update finds the proposal no longer in the expected status.
	ErrConcurrentUpdate = errors.New("proposal was modified concurrently")
	ErrReviewExists     = errors.New("you have already recorded a decision for this review cycle")
)

// InvalidTransitionError reports a lifecycle operation attempted on a
// proposal whose current status does not permit it.
type InvalidTransitionError struct {
	Op     string
	Status Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a proposal in status %q", e.Op, e.Status)
}

func NewInvalidTransitionError(op string, status Status) error {
	return &InvalidTransitionError{Op: op, Status: status}
}

// IsInvalidTransition checks if the given error is an invalid lifecycle transition.
func IsInvalidTransition(err error) bool {
	_, ok := errors.Cause(err).(*InvalidTransitionError)
	return ok
}

type (
	// GetFilter finds a single Proposal.
	GetFilter struct {
		ID string
	}

	Repository interface {
		CreateProposal(ctx context.Context, p Proposal) (Proposal, error)
		GetProposal(ctx context.Context, filter GetFilter) (Proposal, error)
		// FilterProposals applies AND operation on available QueryFilter fields.
		FilterProposals(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Proposal, error)
		// UpdateProposal persists p only if the stored status still equals
		// expectedStatus, and returns ErrConcurrentUpdate otherwise.
		UpdateProposal(ctx context.Context, p Proposal, expectedStatus Status) (Proposal, error)

		CreateAnnotation(ctx context.Context, a Annotation) (Annotation, error)
		GetAnnotation(ctx context.Context, id string) (Annotation, error)
		FilterAnnotations(ctx context.Context, proposalID string) ([]Annotation, error)
		UpdateAnnotation(ctx context.Context, a Annotation) (Annotation, error)

		CreateAnnotationReply(ctx context.Context, r AnnotationReply) (AnnotationReply, error)
		FilterAnnotationReplies(ctx context.Context, annotationID string) ([]AnnotationReply, error)

		CreateReview(ctx context.Context, r Review) (Review, error)
		FilterReviews(ctx context.Context, proposalID string) ([]Review, error)
	}

	Service interface {
		Create(ctx context.Context, actor user.User, np NewProposal) (Proposal, error)
		GetByID(ctx context.Context, actor user.User, id string) (Proposal, error)
		GetDetail(ctx context.Context, actor user.User, id string) (Detail, error)
		// Query lists proposals visible to actor: their own for researchers,
		// assigned ones for reviewers, the whole organization for admins.
		Query(ctx context.Context, actor user.User, filter QueryFilter, ordering ...core.DBOrdering) ([]Proposal, error)

		SaveDraft(ctx context.Context, actor user.User, id string, ud UpdateDraft) (Proposal, error)
		Submit(ctx context.Context, actor user.User, id string) (Proposal, error)
		// AssignReviewers replaces the proposal's reviewer set and moves it
		// to under_review. Reviewer IDs must resolve to active reviewers in
		// the proposal's organization.
		AssignReviewers(ctx context.Context, actor user.User, id string, reviewerIDs []string) (Proposal, error)
		RecordReview(ctx context.Context, actor user.User, id string, nr NewReview) (Proposal, Review, error)
		// Resubmit moves a revise_and_resubmit proposal back to draft,
		// applying any edits and clearing the reviewer set.
		Resubmit(ctx context.Context, actor user.User, id string, ud UpdateDraft) (Proposal, error)

		Annotate(ctx context.Context, actor user.User, id string, na NewAnnotation) (Annotation, error)
		ReplyToAnnotation(ctx context.Context, actor user.User, annotationID string, nr NewReply) (AnnotationReply, error)
		ResolveAnnotation(ctx context.Context, actor user.User, annotationID string, resolved bool) (Annotation, error)
	}

	service struct {
		repo    Repository
		usrRepo user.Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, usrRepo user.Repository) Service {
	return &service{
		repo:    repo,
		usrRepo: usrRepo,
	}
}

// getForActor loads a proposal for the acting user. Proposals in other
// organizations are reported as absent rather than forbidden.
func (svc *service) getForActor(ctx context.Context, actor user.User, id string) (Proposal, error) {
	p, err := svc.repo.GetProposal(ctx, GetFilter{ID: id})
	if err != nil {
		return Proposal{}, err
	}
	if p.OrganizationID != actor.OrganizationID {
		return Proposal{}, ErrNotFound
	}
	return p, nil
}

// casUpdate persists p conditioned on expected status. A lost race surfaces
// as an invalid transition against the status that actually won.
func (svc *service) casUpdate(ctx context.Context, op string, p Proposal, expected Status) (Proposal, error) {
	updated, err := svc.repo.UpdateProposal(ctx, p, expected)
	if err != nil {
		if errors.Cause(err) == ErrConcurrentUpdate {
			status := p.Status
			if cur, gerr := svc.repo.GetProposal(ctx, GetFilter{ID: p.ID}); gerr == nil {
				status = cur.Status
			}
			return Proposal{}, NewInvalidTransitionError(op, status)
		}
		return Proposal{}, err
	}
	return updated, nil
}

func (svc *service) Create(ctx context.Context, actor user.User, np NewProposal) (Proposal, error) {
	if !CanCreate(actor) {
		return Proposal{}, ErrPermissionDenied
	}
	now := time.Now().UTC()
	p := Proposal{
		OrganizationID:    actor.OrganizationID,
		Title:             np.Title,
		Content:           np.Content,
		Status:            StatusDraft,
		SubmittedBy:       actor.ID,
		AssignedReviewers: []string{},
		Attachments:       np.Attachments,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if p.Attachments == nil {
		p.Attachments = []string{}
	}
	return svc.repo.CreateProposal(ctx, p)
}

func (svc *service) GetByID(ctx context.Context, actor user.User, id string) (Proposal, error) {
	p, err := svc.getForActor(ctx, actor, id)
	if err != nil {
		return Proposal{}, err
	}
	if !CanPerform(actor, ActionView, p) {
		return Proposal{}, ErrPermissionDenied
	}
	return p, nil
}

func (svc *service) GetDetail(ctx context.Context, actor user.User, id string) (Detail, error) {
	p, err := svc.GetByID(ctx, actor, id)
	if err != nil {
		return Detail{}, err
	}

	annotations, err := svc.repo.FilterAnnotations(ctx, p.ID)
	if err != nil {
		return Detail{}, err
	}
	detail := Detail{Proposal: p, Annotations: make([]AnnotationWithReplies, 0, len(annotations))}
	for _, a := range annotations {
		replies, err := svc.repo.FilterAnnotationReplies(ctx, a.ID)
		if err != nil {
			return Detail{}, err
		}
		detail.Annotations = append(detail.Annotations, AnnotationWithReplies{Annotation: a, Replies: replies})
	}

	if detail.Reviews, err = svc.repo.FilterReviews(ctx, p.ID); err != nil {
		return Detail{}, err
	}
	return detail, nil
}

func (svc *service) Query(ctx context.Context, actor user.User, filter QueryFilter, ordering ...core.DBOrdering) ([]Proposal, error) {
	filter.OrganizationID = actor.OrganizationID
	filter.SubmittedBy = ""
	filter.AssignedReviewer = ""

	switch actor.Role {
	case user.RoleAdmin: // org-wide
	case user.RoleResearcher:
		filter.SubmittedBy = actor.ID
	case user.RoleReviewer:
		filter.AssignedReviewer = actor.ID
	default:
		return nil, ErrPermissionDenied
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	return svc.repo.FilterProposals(ctx, filter, ordering...)
}

func (svc *service) SaveDraft(ctx context.Context, actor user.User, id string, ud UpdateDraft) (Proposal, error) {
	p, err := svc.getForActor(ctx, actor, id)
	if err != nil {
		return Proposal{}, err
	}
	if !CanPerform(actor, ActionEdit, p) {
		if p.IsAuthor(actor.ID) && p.Status != StatusDraft {
			return Proposal{}, NewInvalidTransitionError("edit", p.Status)
		}
		return Proposal{}, ErrPermissionDenied
	}
	return svc.applyDraftUpdate(ctx, p, ud)
}

func (svc *service) applyDraftUpdate(ctx context.Context, p Proposal, ud UpdateDraft) (Proposal, error) {
	p.Title = ud.Title
	if ud.Content != nil {
		p.Content = ud.Content
	}
	if ud.Attachments != nil {
		p.Attachments = ud.Attachments
	}
	p.UpdatedAt = time.Now().UTC()
	return svc.casUpdate(ctx, "edit", p, p.Status)
}

func (svc *service) Submit(ctx context.Context, actor user.User, id string) (Proposal, error) {
	p, err := svc.getForActor(ctx, actor, id)
	if err != nil {
		return Proposal{}, err
	}
	if !CanPerform(actor, ActionSubmit, p) {
		if p.IsAuthor(actor.ID) && p.Status != StatusDraft {
			return Proposal{}, NewInvalidTransitionError("submit", p.Status)
		}
		return Proposal{}, ErrPermissionDenied
	}

	now := time.Now().UTC()
	p.Status = StatusSubmitted
	p.SubmittedAt = &now
	p.UpdatedAt = now
	return svc.casUpdate(ctx, "submit", p, StatusDraft)
}

func (svc *service) AssignReviewers(ctx context.Context, actor user.User, id string, reviewerIDs []string) (Proposal, error) {
	p, err := svc.getForActor(ctx, actor, id)
	if err != nil {
		return Proposal{}, err
	}
	if !CanPerform(actor, ActionAssignReviewers, p) {
		if actor.IsAdmin() && p.Status != StatusSubmitted {
			return Proposal{}, NewInvalidTransitionError("assign reviewers to", p.Status)
		}
		return Proposal{}, ErrPermissionDenied
	}
	if len(reviewerIDs) == 0 {
		return Proposal{}, core.NewValidationError(
			errors.New("at least one reviewer is required"),
			core.FieldError{Field: "reviewer_ids", Error: "at least one reviewer is required"},
		)
	}

	seen := make(map[string]struct{}, len(reviewerIDs))
	assigned := make([]string, 0, len(reviewerIDs))
	for _, rid := range reviewerIDs {
		if _, dup := seen[rid]; dup {
			continue
		}
		seen[rid] = struct{}{}

		rev, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: rid})
		if err != nil || rev.OrganizationID != p.OrganizationID || !rev.IsReviewer() || !rev.IsActive {
			if err != nil && errors.Cause(err) != user.ErrNotFound {
				return Proposal{}, err
			}
			fieldErr := fmt.Sprintf("%q is not an active reviewer in this organization", rid)
			return Proposal{}, core.NewValidationError(
				errors.New(fieldErr), core.FieldError{Field: "reviewer_ids", Error: fieldErr})
		}
		assigned = append(assigned, rid)
	}

	p.AssignedReviewers = assigned
	p.Status = StatusUnderReview
	p.UpdatedAt = time.Now().UTC()
	return svc.casUpdate(ctx, "assign reviewers to", p, StatusSubmitted)
}

func (svc *service) RecordReview(ctx context.Context, actor user.User, id string, nr NewReview) (Proposal, Review, error) {
	p, err := svc.getForActor(ctx, actor, id)
	if err != nil {
		return Proposal{}, Review{}, err
	}
	if !CanPerform(actor, ActionRecordReview, p) {
		if p.IsAssignedReviewer(actor.ID) && p.Status != StatusUnderReview {
			return Proposal{}, Review{}, NewInvalidTransitionError("review", p.Status)
		}
		return Proposal{}, Review{}, ErrPermissionDenied
	}

	// one decision per reviewer per review cycle; reviews recorded before
	// the current submission belong to a previous cycle
	existing, err := svc.repo.FilterReviews(ctx, p.ID)
	if err != nil {
		return Proposal{}, Review{}, err
	}
	for _, r := range existing {
		if r.ReviewerID == actor.ID && p.SubmittedAt != nil && !r.CreatedAt.Before(*p.SubmittedAt) {
			return Proposal{}, Review{}, core.NewValidationError(ErrReviewExists)
		}
	}

	if err = svc.checkLinkedAnnotations(ctx, actor, p, nr.LinkedAnnotationIDs); err != nil {
		return Proposal{}, Review{}, err
	}

	// the conditional status update is the race arbiter: of two concurrent
	// decisions, exactly one lands and the other sees a stale status
	now := time.Now().UTC()
	p.Status = nr.Decision.Status()
	p.UpdatedAt = now
	if p, err = svc.casUpdate(ctx, "review", p, StatusUnderReview); err != nil {
		return Proposal{}, Review{}, err
	}

	review := Review{
		ProposalID:          p.ID,
		ReviewerID:          actor.ID,
		Decision:            nr.Decision,
		Reason:              nr.Reason,
		LinkedAnnotationIDs: nr.LinkedAnnotationIDs,
		CreatedAt:           now,
	}
	if review.LinkedAnnotationIDs == nil {
		review.LinkedAnnotationIDs = []string{}
	}
	if review, err = svc.repo.CreateReview(ctx, review); err != nil {
		return Proposal{}, Review{}, err
	}
	return p, review, nil
}

// checkLinkedAnnotations verifies that every linked annotation exists on the
// proposal and was authored by the acting reviewer.
func (svc *service) checkLinkedAnnotations(ctx context.Context, actor user.User, p Proposal, ids []string) error {
	for _, aid := range ids {
		a, err := svc.repo.GetAnnotation(ctx, aid)
		if err != nil || a.ProposalID != p.ID || a.ReviewerID != actor.ID {
			if err != nil && errors.Cause(err) != ErrAnnotationNotFound {
				return err
			}
			fieldErr := fmt.Sprintf("annotation %q cannot be linked to this review", aid)
			return core.NewValidationError(
				errors.New(fieldErr), core.FieldError{Field: "linked_annotation_ids", Error: fieldErr})
		}
	}
	return nil
}

func (svc *service) Resubmit(ctx context.Context, actor user.User, id string, ud UpdateDraft) (Proposal, error) {
	p, err := svc.getForActor(ctx, actor, id)
	if err != nil {
		return Proposal{}, err
	}
	if !CanPerform(actor, ActionResubmit, p) {
		if p.IsAuthor(actor.ID) && p.Status != StatusReviseAndResubmit {
			return Proposal{}, NewInvalidTransitionError("resubmit", p.Status)
		}
		return Proposal{}, ErrPermissionDenied
	}

	p.Title = ud.Title
	if ud.Content != nil {
		p.Content = ud.Content
	}
	if ud.Attachments != nil {
		p.Attachments = ud.Attachments
	}
	p.Status = StatusDraft
	p.AssignedReviewers = []string{}
	p.SubmittedAt = nil // the next submission starts a new review cycle
	p.UpdatedAt = time.Now().UTC()
	return svc.casUpdate(ctx, "resubmit", p, StatusReviseAndResubmit)
}

func (svc *service) Annotate(ctx context.Context, actor user.User, id string, na NewAnnotation) (Annotation, error) {
	p, err := svc.getForActor(ctx, actor, id)
	if err != nil {
		return Annotation{}, err
	}
	if !CanPerform(actor, ActionAnnotate, p) {
		if p.IsAssignedReviewer(actor.ID) && p.Status != StatusUnderReview {
			return Annotation{}, NewInvalidTransitionError("annotate", p.Status)
		}
		return Annotation{}, ErrPermissionDenied
	}
	return svc.repo.CreateAnnotation(ctx, Annotation{
		ProposalID:    p.ID,
		ReviewerID:    actor.ID,
		HighlightFrom: na.HighlightFrom,
		HighlightTo:   na.HighlightTo,
		CommentText:   na.CommentText,
		Kind:          na.Kind,
		CreatedAt:     time.Now().UTC(),
	})
}

func (svc *service) ReplyToAnnotation(ctx context.Context, actor user.User, annotationID string, nr NewReply) (AnnotationReply, error) {
	a, p, err := svc.getAnnotationForActor(ctx, actor, annotationID)
	if err != nil {
		return AnnotationReply{}, err
	}
	// anyone who can view the proposal can take part in the thread
	if !CanPerform(actor, ActionView, p) {
		return AnnotationReply{}, ErrPermissionDenied
	}
	return svc.repo.CreateAnnotationReply(ctx, AnnotationReply{
		AnnotationID: a.ID,
		UserID:       actor.ID,
		ReplyText:    nr.ReplyText,
		CreatedAt:    time.Now().UTC(),
	})
}

func (svc *service) ResolveAnnotation(ctx context.Context, actor user.User, annotationID string, resolved bool) (Annotation, error) {
	a, p, err := svc.getAnnotationForActor(ctx, actor, annotationID)
	if err != nil {
		return Annotation{}, err
	}
	if !CanPerform(actor, ActionAnnotate, p) {
		if p.IsAssignedReviewer(actor.ID) && p.Status != StatusUnderReview {
			return Annotation{}, NewInvalidTransitionError("resolve annotations on", p.Status)
		}
		return Annotation{}, ErrPermissionDenied
	}
	a.IsResolved = resolved
	return svc.repo.UpdateAnnotation(ctx, a)
}

func (svc *service) getAnnotationForActor(ctx context.Context, actor user.User, annotationID string) (Annotation, Proposal, error) {
	a, err := svc.repo.GetAnnotation(ctx, annotationID)
	if err != nil {
		return Annotation{}, Proposal{}, err
	}
	p, err := svc.getForActor(ctx, actor, a.ProposalID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Annotation{}, Proposal{}, ErrAnnotationNotFound
		}
		return Annotation{}, Proposal{}, err
	}
	return a, p, nil
}
