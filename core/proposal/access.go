package proposal

import (
	"github.com/ethicsgate/ethicsgate/core/user"
)

// Action is an operation a user may attempt on a proposal.
type Action string

const (
	ActionView            Action = "view"
	ActionEdit            Action = "edit"
	ActionSubmit          Action = "submit"
	ActionAssignReviewers Action = "assign_reviewers"
	ActionAnnotate        Action = "annotate"
	ActionRecordReview    Action = "record_review"
	ActionResubmit        Action = "resubmit"
)

// CanCreate reports whether a user may author new proposals.
// Only researchers author; admins and reviewers never do.
func CanCreate(actor user.User) bool {
	return actor.IsResearcher()
}

// CanPerform is the single authority on proposal permissions. It combines
// the actor's role, their relationship to the proposal and the proposal's
// lifecycle state, and denies anything not explicitly allowed.
//
// Cross-organization access is always denied, admin or not.
func CanPerform(actor user.User, action Action, p Proposal) bool {
	if actor.OrganizationID != p.OrganizationID {
		return false
	}

	switch actor.Role {
	case user.RoleAdmin:
		// admins see everything in their organization but only ever
		// mutate reviewer assignments
		switch action {
		case ActionView:
			return true
		case ActionAssignReviewers:
			return p.Status == StatusSubmitted
		}

	case user.RoleResearcher:
		if !p.IsAuthor(actor.ID) {
			return false
		}
		switch action {
		case ActionView:
			return true
		case ActionEdit, ActionSubmit:
			return p.Status == StatusDraft
		case ActionResubmit:
			return p.Status == StatusReviseAndResubmit
		}

	case user.RoleReviewer:
		if !p.IsAssignedReviewer(actor.ID) {
			return false
		}
		switch action {
		case ActionView:
			return true
		case ActionAnnotate, ActionRecordReview:
			return p.Status == StatusUnderReview
		}
	}
	return false
}
