package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/ethicsgate/ethicsgate/core"
	"github.com/ethicsgate/ethicsgate/core/proposal"
)

type proposalRow struct {
	ID                string         `db:"id"`
	OrganizationID    string         `db:"organization_id"`
	Title             string         `db:"title"`
	Content           types.JSONText `db:"content"`
	Status            string         `db:"status"`
	SubmittedBy       string         `db:"submitted_by"`
	AssignedReviewers pq.StringArray `db:"assigned_reviewers"`
	Attachments       pq.StringArray `db:"attachments"`
	SubmittedAt       null.Time      `db:"submitted_at"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func newProposalRow(p proposal.Proposal) (proposalRow, error) {
	content, err := json.Marshal(p.Content)
	if err != nil {
		return proposalRow{}, errors.Wrap(err, "marshalling content")
	}
	row := proposalRow{
		ID:                p.ID,
		OrganizationID:    p.OrganizationID,
		Title:             p.Title,
		Content:           content,
		Status:            string(p.Status),
		SubmittedBy:       p.SubmittedBy,
		AssignedReviewers: p.AssignedReviewers,
		Attachments:       p.Attachments,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
	if p.SubmittedAt != nil {
		row.SubmittedAt = null.TimeFrom(*p.SubmittedAt)
	}
	return row, nil
}

func (row proposalRow) toProposal() (proposal.Proposal, error) {
	p := proposal.Proposal{
		ID:                row.ID,
		OrganizationID:    row.OrganizationID,
		Title:             row.Title,
		Status:            proposal.Status(row.Status),
		SubmittedBy:       row.SubmittedBy,
		AssignedReviewers: row.AssignedReviewers,
		Attachments:       row.Attachments,
		SubmittedAt:       row.SubmittedAt.Ptr(),
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
	if p.AssignedReviewers == nil {
		p.AssignedReviewers = []string{}
	}
	if p.Attachments == nil {
		p.Attachments = []string{}
	}
	if len(row.Content) > 0 {
		if err := json.Unmarshal(row.Content, &p.Content); err != nil {
			return proposal.Proposal{}, errors.Wrap(err, "unmarshalling content")
		}
	}
	return p, nil
}

type annotationRow struct {
	ID            string    `db:"id"`
	ProposalID    string    `db:"proposal_id"`
	ReviewerID    string    `db:"reviewer_id"`
	HighlightFrom int       `db:"highlight_from"`
	HighlightTo   int       `db:"highlight_to"`
	CommentText   string    `db:"comment_text"`
	Kind          string    `db:"annotation_type"`
	IsResolved    bool      `db:"is_resolved"`
	CreatedAt     time.Time `db:"created_at"`
}

func (row annotationRow) toAnnotation() proposal.Annotation {
	return proposal.Annotation{
		ID:            row.ID,
		ProposalID:    row.ProposalID,
		ReviewerID:    row.ReviewerID,
		HighlightFrom: row.HighlightFrom,
		HighlightTo:   row.HighlightTo,
		CommentText:   row.CommentText,
		Kind:          proposal.AnnotationKind(row.Kind),
		IsResolved:    row.IsResolved,
		CreatedAt:     row.CreatedAt,
	}
}

type reviewRow struct {
	ID                  string         `db:"id"`
	ProposalID          string         `db:"proposal_id"`
	ReviewerID          string         `db:"reviewer_id"`
	Decision            string         `db:"decision"`
	Reason              string         `db:"reason"`
	LinkedAnnotationIDs pq.StringArray `db:"linked_annotation_ids"`
	CreatedAt           time.Time      `db:"created_at"`
}

func (row reviewRow) toReview() proposal.Review {
	r := proposal.Review{
		ID:                  row.ID,
		ProposalID:          row.ProposalID,
		ReviewerID:          row.ReviewerID,
		Decision:            proposal.Decision(row.Decision),
		Reason:              row.Reason,
		LinkedAnnotationIDs: row.LinkedAnnotationIDs,
		CreatedAt:           row.CreatedAt,
	}
	if r.LinkedAnnotationIDs == nil {
		r.LinkedAnnotationIDs = []string{}
	}
	return r
}

type proposalRepository struct {
	db *sqlx.DB
}

var _ proposal.Repository = (*proposalRepository)(nil)

func NewProposalRepository(db *sqlx.DB) proposal.Repository {
	return &proposalRepository{db: db}
}

func (repo *proposalRepository) CreateProposal(ctx context.Context, p proposal.Proposal) (proposal.Proposal, error) {
	p.ID = uuid.New().String()
	row, err := newProposalRow(p)
	if err != nil {
		return proposal.Proposal{}, err
	}

	q := `
	INSERT INTO proposal (id, organization_id, title, content, status, submitted_by, assigned_reviewers, attachments, submitted_at, created_at, updated_at)
	VALUES (:id, :organization_id, :title, :content, :status, :submitted_by, :assigned_reviewers, :attachments, :submitted_at, :created_at, :updated_at)`
	if _, err = repo.db.NamedExecContext(ctx, q, row); err != nil {
		return proposal.Proposal{}, errors.Wrap(err, "creating proposal")
	}
	return p, nil
}

func (repo *proposalRepository) GetProposal(ctx context.Context, filter proposal.GetFilter) (proposal.Proposal, error) {
	var row proposalRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM proposal WHERE id = $1`, filter.ID); err != nil {
		if err == sql.ErrNoRows {
			return proposal.Proposal{}, proposal.ErrNotFound
		}
		return proposal.Proposal{}, errors.Wrap(err, "getting proposal")
	}
	return row.toProposal()
}

func (repo *proposalRepository) FilterProposals(ctx context.Context, filter proposal.QueryFilter, ordering ...core.DBOrdering) ([]proposal.Proposal, error) {
	var (
		clauses []string
		args    []interface{}
	)
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.OrganizationID != "" {
		clauses = append(clauses, "organization_id = "+arg(filter.OrganizationID))
	}
	if filter.SubmittedBy != "" {
		clauses = append(clauses, "submitted_by = "+arg(filter.SubmittedBy))
	}
	if filter.AssignedReviewer != "" {
		clauses = append(clauses, arg(filter.AssignedReviewer)+" = ANY(assigned_reviewers)")
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		clauses = append(clauses, "status = ANY("+arg(pq.Array(statuses))+")")
	}
	if filter.Search != "" {
		clauses = append(clauses, "title ILIKE "+arg("%"+filter.Search+"%"))
	}

	q := `SELECT * FROM proposal`
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += orderClause(ordering, map[string]bool{"title": true, "created_at": true, "updated_at": true})

	var rows []proposalRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "filtering proposals")
	}
	proposals := make([]proposal.Proposal, 0, len(rows))
	for _, row := range rows {
		p, err := row.toProposal()
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, nil
}

func (repo *proposalRepository) UpdateProposal(ctx context.Context, p proposal.Proposal, expectedStatus proposal.Status) (proposal.Proposal, error) {
	row, err := newProposalRow(p)
	if err != nil {
		return proposal.Proposal{}, err
	}

	// the status guard makes the update a compare-and-swap; a lost race
	// affects zero rows
	q := `
	UPDATE proposal
	SET title = :title,
		content = :content,
		status = :status,
		assigned_reviewers = :assigned_reviewers,
		attachments = :attachments,
		submitted_at = :submitted_at,
		updated_at = :updated_at
	WHERE id = :id AND status = :expected_status`
	res, err := repo.db.NamedExecContext(ctx, q, map[string]interface{}{
		"id":                 row.ID,
		"title":              row.Title,
		"content":            row.Content,
		"status":             row.Status,
		"assigned_reviewers": row.AssignedReviewers,
		"attachments":        row.Attachments,
		"submitted_at":       row.SubmittedAt,
		"updated_at":         row.UpdatedAt,
		"expected_status":    string(expectedStatus),
	})
	if err != nil {
		return proposal.Proposal{}, errors.Wrap(err, "updating proposal")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err = repo.GetProposal(ctx, proposal.GetFilter{ID: p.ID}); err != nil {
			return proposal.Proposal{}, err
		}
		return proposal.Proposal{}, proposal.ErrConcurrentUpdate
	}
	return repo.GetProposal(ctx, proposal.GetFilter{ID: p.ID})
}

func (repo *proposalRepository) CreateAnnotation(ctx context.Context, a proposal.Annotation) (proposal.Annotation, error) {
	a.ID = uuid.New().String()

	q := `
	INSERT INTO annotation (id, proposal_id, reviewer_id, highlight_from, highlight_to, comment_text, annotation_type, is_resolved, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := repo.db.ExecContext(ctx, q,
		a.ID, a.ProposalID, a.ReviewerID, a.HighlightFrom, a.HighlightTo, a.CommentText, string(a.Kind), a.IsResolved, a.CreatedAt)
	if err != nil {
		return proposal.Annotation{}, errors.Wrap(err, "creating annotation")
	}
	return a, nil
}

func (repo *proposalRepository) GetAnnotation(ctx context.Context, id string) (proposal.Annotation, error) {
	var row annotationRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM annotation WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return proposal.Annotation{}, proposal.ErrAnnotationNotFound
		}
		return proposal.Annotation{}, errors.Wrap(err, "getting annotation")
	}
	return row.toAnnotation(), nil
}

func (repo *proposalRepository) FilterAnnotations(ctx context.Context, proposalID string) ([]proposal.Annotation, error) {
	var rows []annotationRow
	q := `SELECT * FROM annotation WHERE proposal_id = $1 ORDER BY created_at ASC`
	if err := repo.db.SelectContext(ctx, &rows, q, proposalID); err != nil {
		return nil, errors.Wrap(err, "filtering annotations")
	}
	annotations := make([]proposal.Annotation, 0, len(rows))
	for _, row := range rows {
		annotations = append(annotations, row.toAnnotation())
	}
	return annotations, nil
}

func (repo *proposalRepository) UpdateAnnotation(ctx context.Context, a proposal.Annotation) (proposal.Annotation, error) {
	q := `UPDATE annotation SET comment_text = $1, is_resolved = $2 WHERE id = $3`
	res, err := repo.db.ExecContext(ctx, q, a.CommentText, a.IsResolved, a.ID)
	if err != nil {
		return proposal.Annotation{}, errors.Wrap(err, "updating annotation")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return proposal.Annotation{}, proposal.ErrAnnotationNotFound
	}
	return repo.GetAnnotation(ctx, a.ID)
}

func (repo *proposalRepository) CreateAnnotationReply(ctx context.Context, r proposal.AnnotationReply) (proposal.AnnotationReply, error) {
	r.ID = uuid.New().String()

	q := `
	INSERT INTO annotation_reply (id, annotation_id, user_id, reply_text, created_at)
	VALUES ($1, $2, $3, $4, $5)`
	if _, err := repo.db.ExecContext(ctx, q, r.ID, r.AnnotationID, r.UserID, r.ReplyText, r.CreatedAt); err != nil {
		return proposal.AnnotationReply{}, errors.Wrap(err, "creating annotation reply")
	}
	return r, nil
}

func (repo *proposalRepository) FilterAnnotationReplies(ctx context.Context, annotationID string) ([]proposal.AnnotationReply, error) {
	type replyRow struct {
		ID           string    `db:"id"`
		AnnotationID string    `db:"annotation_id"`
		UserID       string    `db:"user_id"`
		ReplyText    string    `db:"reply_text"`
		CreatedAt    time.Time `db:"created_at"`
	}

	var rows []replyRow
	q := `SELECT * FROM annotation_reply WHERE annotation_id = $1 ORDER BY created_at ASC`
	if err := repo.db.SelectContext(ctx, &rows, q, annotationID); err != nil {
		return nil, errors.Wrap(err, "filtering annotation replies")
	}
	replies := make([]proposal.AnnotationReply, 0, len(rows))
	for _, row := range rows {
		replies = append(replies, proposal.AnnotationReply{
			ID:           row.ID,
			AnnotationID: row.AnnotationID,
			UserID:       row.UserID,
			ReplyText:    row.ReplyText,
			CreatedAt:    row.CreatedAt,
		})
	}
	return replies, nil
}

func (repo *proposalRepository) CreateReview(ctx context.Context, r proposal.Review) (proposal.Review, error) {
	r.ID = uuid.New().String()

	q := `
	INSERT INTO review (id, proposal_id, reviewer_id, decision, reason, linked_annotation_ids, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := repo.db.ExecContext(ctx, q,
		r.ID, r.ProposalID, r.ReviewerID, string(r.Decision), r.Reason, pq.Array(r.LinkedAnnotationIDs), r.CreatedAt)
	if err != nil {
		return proposal.Review{}, errors.Wrap(err, "creating review")
	}
	return r, nil
}

func (repo *proposalRepository) FilterReviews(ctx context.Context, proposalID string) ([]proposal.Review, error) {
	var rows []reviewRow
	q := `SELECT * FROM review WHERE proposal_id = $1 ORDER BY created_at ASC`
	if err := repo.db.SelectContext(ctx, &rows, q, proposalID); err != nil {
		return nil, errors.Wrap(err, "filtering reviews")
	}
	reviews := make([]proposal.Review, 0, len(rows))
	for _, row := range rows {
		reviews = append(reviews, row.toReview())
	}
	return reviews, nil
}
