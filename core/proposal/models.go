package proposal

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ethicsgate/ethicsgate/core"
)

// Status is the closed set of proposal lifecycle states:
//
//	draft → submitted → under_review → {approved | rejected | revise_and_resubmit}
//
// revise_and_resubmit re-enters draft (the only backward edge);
// approved and rejected are terminal.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusSubmitted         Status = "submitted"
	StatusUnderReview       Status = "under_review"
	StatusApproved          Status = "approved"
	StatusRejected          Status = "rejected"
	StatusReviseAndResubmit Status = "revise_and_resubmit"
)

var AllStatuses = []Status{
	StatusDraft, StatusSubmitted, StatusUnderReview,
	StatusApproved, StatusRejected, StatusReviseAndResubmit,
}

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview,
		StatusApproved, StatusRejected, StatusReviseAndResubmit:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Decision is a reviewer's terminal call on a proposal.
type Decision string

const (
	DecisionApprove           Decision = "approve"
	DecisionReject            Decision = "reject"
	DecisionReviseAndResubmit Decision = "revise_and_resubmit"
)

func (d Decision) IsValid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionReviseAndResubmit:
		return true
	}
	return false
}

// Status returns the proposal status a recorded decision transitions to.
func (d Decision) Status() Status {
	switch d {
	case DecisionApprove:
		return StatusApproved
	case DecisionReject:
		return StatusRejected
	case DecisionReviseAndResubmit:
		return StatusReviseAndResubmit
	}
	return ""
}

// AnnotationKind classifies a reviewer's inline annotation.
type AnnotationKind string

const (
	AnnotationComment    AnnotationKind = "comment"
	AnnotationConcern    AnnotationKind = "concern"
	AnnotationSuggestion AnnotationKind = "suggestion"
)

func (k AnnotationKind) IsValid() bool {
	switch k {
	case AnnotationComment, AnnotationConcern, AnnotationSuggestion:
		return true
	}
	return false
}

// Proposal is the unit of ethics review.
// Status is only ever written by the lifecycle Service; assigned_reviewers is
// empty whenever status is draft.
type Proposal struct {
	ID                string                 `json:"id"`
	OrganizationID    string                 `json:"organization_id"`
	Title             string                 `json:"title"`
	Content           map[string]interface{} `json:"content"` // opaque structured document
	Status            Status                 `json:"status"`
	SubmittedBy       string                 `json:"submitted_by"` // author
	AssignedReviewers []string               `json:"assigned_reviewers"`
	Attachments       []string               `json:"attachments"`
	SubmittedAt       *time.Time             `json:"submitted_at"` // UTC; nil until submitted
	CreatedAt         time.Time              `json:"created_at"`   // UTC
	UpdatedAt         time.Time              `json:"updated_at"`   // UTC
}

func (p *Proposal) IsAuthor(userID string) bool { return p.SubmittedBy == userID }

func (p *Proposal) IsAssignedReviewer(userID string) bool {
	for _, id := range p.AssignedReviewers {
		if id == userID {
			return true
		}
	}
	return false
}

// Annotation is a reviewer's inline comment anchored to the content range
// [HighlightFrom, HighlightTo).
type Annotation struct {
	ID            string         `json:"id"`
	ProposalID    string         `json:"proposal_id"`
	ReviewerID    string         `json:"reviewer_id"`
	HighlightFrom int            `json:"highlight_from"`
	HighlightTo   int            `json:"highlight_to"`
	CommentText   string         `json:"comment_text"`
	Kind          AnnotationKind `json:"annotation_type"`
	IsResolved    bool           `json:"is_resolved"`
	CreatedAt     time.Time      `json:"created_at"` // UTC
}

// AnnotationReply is a threaded reply to an Annotation.
type AnnotationReply struct {
	ID           string    `json:"id"`
	AnnotationID string    `json:"annotation_id"`
	UserID       string    `json:"user_id"`
	ReplyText    string    `json:"reply_text"`
	CreatedAt    time.Time `json:"created_at"` // UTC
}

// Review is a reviewer's recorded decision on a proposal.
type Review struct {
	ID                  string    `json:"id"`
	ProposalID          string    `json:"proposal_id"`
	ReviewerID          string    `json:"reviewer_id"`
	Decision            Decision  `json:"decision"`
	Reason              string    `json:"reason"`
	LinkedAnnotationIDs []string  `json:"linked_annotation_ids"`
	CreatedAt           time.Time `json:"created_at"` // UTC
}

// AnnotationWithReplies bundles an annotation with its reply thread.
type AnnotationWithReplies struct {
	Annotation
	Replies []AnnotationReply `json:"replies"`
}

// Detail is a proposal with all its review artifacts.
type Detail struct {
	Proposal
	Annotations []AnnotationWithReplies `json:"annotations"`
	Reviews     []Review                `json:"reviews"`
}

// NewProposal contains information needed to create a new Proposal draft.
type NewProposal struct {
	Title       string                 `json:"title" validate:"required,min=5,max=200"`
	Content     map[string]interface{} `json:"content"`
	Attachments []string               `json:"attachments" validate:"omitempty,dive,required"`
}

func (np *NewProposal) Validate(validate *validator.Validate) error {
	np.Title = core.CleanString(np.Title)
	return validate.Struct(np)
}

// UpdateDraft defines what may be modified on a proposal while it is a draft.
type UpdateDraft struct {
	Title       string                 `json:"title" validate:"omitempty,min=5,max=200"`
	Content     map[string]interface{} `json:"content"`
	Attachments []string               `json:"attachments" validate:"omitempty,dive,required"`
}

func (ud *UpdateDraft) Validate(orig Proposal, validate *validator.Validate) error {
	title := core.CleanString(ud.Title)
	if title != "" {
		ud.Title = title
	} else {
		ud.Title = orig.Title
	}
	return validate.Struct(ud)
}

// NewAnnotation contains information needed to annotate a proposal's content.
type NewAnnotation struct {
	HighlightFrom int            `json:"highlight_from" validate:"gte=0"`
	HighlightTo   int            `json:"highlight_to" validate:"gtfield=HighlightFrom"`
	CommentText   string         `json:"comment_text" validate:"required"`
	Kind          AnnotationKind `json:"annotation_type" validate:"required,annotationkind"`
}

func (na *NewAnnotation) Validate(validate *validator.Validate) error {
	na.CommentText = core.CleanString(na.CommentText)
	return validate.Struct(na)
}

// NewReply contains information needed to reply to an annotation.
type NewReply struct {
	ReplyText string `json:"reply_text" validate:"required"`
}

func (nr *NewReply) Validate(validate *validator.Validate) error {
	nr.ReplyText = core.CleanString(nr.ReplyText)
	return validate.Struct(nr)
}

// NewReview contains information needed to record a review decision.
type NewReview struct {
	Decision            Decision `json:"decision" validate:"required,decision"`
	Reason              string   `json:"reason" validate:"required"`
	LinkedAnnotationIDs []string `json:"linked_annotation_ids" validate:"omitempty,dive,required"`
}

func (nr *NewReview) Validate(validate *validator.Validate) error {
	nr.Reason = core.CleanString(nr.Reason)
	return validate.Struct(nr)
}

// QueryFilter applies an AND operation on its set fields.
// The scoping fields are filled in by the Service from the acting user and
// are never bound from requests.
type QueryFilter struct {
	OrganizationID   string   `query:"-"`
	SubmittedBy      string   `query:"-"`
	AssignedReviewer string   `query:"-"`
	Statuses         []Status `query:"status"`
	Search           string   `query:"search"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
