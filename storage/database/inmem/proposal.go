package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ethicsgate/ethicsgate/core"
	"github.com/ethicsgate/ethicsgate/core/proposal"
)

type proposalRepository struct {
	db *DB
}

var _ proposal.Repository = (*proposalRepository)(nil)

func NewProposalRepository(db *DB) proposal.Repository {
	return &proposalRepository{db: db}
}

func (repo *proposalRepository) CreateProposal(ctx context.Context, p proposal.Proposal) (proposal.Proposal, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	p.ID = uuid.New().String()
	repo.db.proposals[p.ID] = &p
	return p, nil
}

func (repo *proposalRepository) GetProposal(ctx context.Context, filter proposal.GetFilter) (proposal.Proposal, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if p, ok := repo.db.proposals[filter.ID]; ok {
		return *p, nil
	}
	return proposal.Proposal{}, proposal.ErrNotFound
}

func (repo *proposalRepository) FilterProposals(ctx context.Context, filter proposal.QueryFilter, ordering ...core.DBOrdering) ([]proposal.Proposal, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	proposals := make([]proposal.Proposal, 0)
	for _, p := range repo.db.proposals {
		if filter.OrganizationID != "" && p.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.SubmittedBy != "" && p.SubmittedBy != filter.SubmittedBy {
			continue
		}
		if filter.AssignedReviewer != "" && !p.IsAssignedReviewer(filter.AssignedReviewer) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, p.Status) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Title), strings.ToLower(filter.Search)) {
			continue
		}
		proposals = append(proposals, *p)
	}

	orderProposals(proposals, ordering)
	return proposals, nil
}

func (repo *proposalRepository) UpdateProposal(ctx context.Context, p proposal.Proposal, expectedStatus proposal.Status) (proposal.Proposal, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.proposals[p.ID]
	if !ok {
		return proposal.Proposal{}, proposal.ErrNotFound
	}
	if orig.Status != expectedStatus {
		return proposal.Proposal{}, proposal.ErrConcurrentUpdate
	}

	orig.Title = p.Title
	orig.Content = p.Content
	orig.Status = p.Status
	orig.AssignedReviewers = p.AssignedReviewers
	orig.Attachments = p.Attachments
	orig.SubmittedAt = p.SubmittedAt
	orig.UpdatedAt = p.UpdatedAt

	repo.db.proposals[p.ID] = orig
	return *orig, nil
}

func (repo *proposalRepository) CreateAnnotation(ctx context.Context, a proposal.Annotation) (proposal.Annotation, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a.ID = uuid.New().String()
	repo.db.annotations[a.ID] = &a
	return a, nil
}

func (repo *proposalRepository) GetAnnotation(ctx context.Context, id string) (proposal.Annotation, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if a, ok := repo.db.annotations[id]; ok {
		return *a, nil
	}
	return proposal.Annotation{}, proposal.ErrAnnotationNotFound
}

func (repo *proposalRepository) FilterAnnotations(ctx context.Context, proposalID string) ([]proposal.Annotation, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	annotations := make([]proposal.Annotation, 0)
	for _, a := range repo.db.annotations {
		if a.ProposalID == proposalID {
			annotations = append(annotations, *a)
		}
	}
	sort.Slice(annotations, func(i, j int) bool {
		return annotations[i].CreatedAt.Before(annotations[j].CreatedAt)
	})
	return annotations, nil
}

func (repo *proposalRepository) UpdateAnnotation(ctx context.Context, a proposal.Annotation) (proposal.Annotation, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.annotations[a.ID]
	if !ok {
		return proposal.Annotation{}, proposal.ErrAnnotationNotFound
	}
	orig.CommentText = a.CommentText
	orig.IsResolved = a.IsResolved
	repo.db.annotations[a.ID] = orig
	return *orig, nil
}

func (repo *proposalRepository) CreateAnnotationReply(ctx context.Context, r proposal.AnnotationReply) (proposal.AnnotationReply, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	r.ID = uuid.New().String()
	repo.db.replies[r.ID] = &r
	return r, nil
}

func (repo *proposalRepository) FilterAnnotationReplies(ctx context.Context, annotationID string) ([]proposal.AnnotationReply, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	replies := make([]proposal.AnnotationReply, 0)
	for _, r := range repo.db.replies {
		if r.AnnotationID == annotationID {
			replies = append(replies, *r)
		}
	}
	sort.Slice(replies, func(i, j int) bool { return replies[i].CreatedAt.Before(replies[j].CreatedAt) })
	return replies, nil
}

func (repo *proposalRepository) CreateReview(ctx context.Context, r proposal.Review) (proposal.Review, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	r.ID = uuid.New().String()
	repo.db.reviews[r.ID] = &r
	return r, nil
}

func (repo *proposalRepository) FilterReviews(ctx context.Context, proposalID string) ([]proposal.Review, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	reviews := make([]proposal.Review, 0)
	for _, r := range repo.db.reviews {
		if r.ProposalID == proposalID {
			reviews = append(reviews, *r)
		}
	}
	sort.Slice(reviews, func(i, j int) bool { return reviews[i].CreatedAt.Before(reviews[j].CreatedAt) })
	return reviews, nil
}

func orderProposals(proposals []proposal.Proposal, ordering []core.DBOrdering) {
	for i := len(ordering) - 1; i >= 0; i-- {
		ord := ordering[i]
		sort.SliceStable(proposals, func(a, b int) bool {
			var cmp int
			switch ord.Field {
			case "title":
				cmp = strings.Compare(proposals[a].Title, proposals[b].Title)
			case "updated_at":
				cmp = compareTimes(proposals[a].UpdatedAt, proposals[b].UpdatedAt)
			default: // created_at
				cmp = compareTimes(proposals[a].CreatedAt, proposals[b].CreatedAt)
			}
			if !ord.Ascending {
				cmp = -cmp
			}
			return cmp < 0
		})
	}
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func containsStatus(statuses []proposal.Status, status proposal.Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
