package echoapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	. "github.com/ethicsgate/ethicsgate/apps/api/echo"
	"github.com/ethicsgate/ethicsgate/core/proposal"
	"github.com/ethicsgate/ethicsgate/core/user"
	testutil "github.com/ethicsgate/ethicsgate/tests"
)

func Test_proposalApi_lifecycle(t *testing.T) {
	app := setup(t)

	acme := testutil.CreateOrg(t, orgRepo, "Acme Ethics", "acme")
	umbrella := testutil.CreateOrg(t, orgRepo, "Umbrella", "umbrella")

	author := testutil.CreateUser(t, usrRepo, acme.ID, "Awe", "awe@test.cd", user.RoleResearcher, true)
	rev := testutil.CreateUser(t, usrRepo, acme.ID, "Rev", "rev@test.cd", user.RoleReviewer, true)
	admin := testutil.CreateUser(t, usrRepo, acme.ID, "Admin", "admin@test.cd", user.RoleAdmin, true)
	outsider := testutil.CreateUser(t, usrRepo, umbrella.ID, "Out", "out@test.cd", user.RoleAdmin, true)

	authorToken := getToken(t, author)
	revToken := getToken(t, rev)
	adminToken := getToken(t, admin)

	newProp := marchallObj(t, proposal.NewProposal{
		Title:   "Effects of Sleep Deprivation on Memory",
		Content: map[string]interface{}{"abstract": "A 6-week study on memory retention."},
	})

	var p proposal.Proposal
	var a proposal.Annotation

	t.Run("create requires auth", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/proposals", newProp)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
	})

	t.Run("reviewers cannot create", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals", revToken, newProp)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)
	})

	t.Run("title too short", func(t *testing.T) {
		body := marchallObj(t, proposal.NewProposal{Title: "tiny"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals", authorToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("create", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals", authorToken, newProp)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		unmarchallObj(t, rec.Body.Bytes(), &p)
		if p.Status != proposal.StatusDraft {
			t.Errorf("status = %q; want %q", p.Status, proposal.StatusDraft)
		}
		if len(p.AssignedReviewers) != 0 {
			t.Error("a draft must have no assigned reviewers")
		}
	})

	t.Run("only the author can submit", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals/"+p.ID+"/submit", revToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)
	})

	t.Run("submit", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals/"+p.ID+"/submit", authorToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		unmarchallObj(t, rec.Body.Bytes(), &p)
		if p.Status != proposal.StatusSubmitted {
			t.Errorf("status = %q; want %q", p.Status, proposal.StatusSubmitted)
		}
		if p.SubmittedAt == nil {
			t.Error("submitted_at not set")
		}
	})

	t.Run("double submit conflicts", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals/"+p.ID+"/submit", authorToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: `cannot submit a proposal in status "submitted"`}),
		}, rec)
	})

	t.Run("edit after submit conflicts", func(t *testing.T) {
		body := marchallObj(t, proposal.UpdateDraft{Title: "A Sneaky New Title"})
		req, rec := newAuthRequest(http.MethodPut, "/v1/proposals/"+p.ID, authorToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: `cannot edit a proposal in status "submitted"`}),
		}, rec)
	})

	t.Run("assigning reviewers requires admin", func(t *testing.T) {
		body := marchallObj(t, AssignReviewersRequest{ReviewerIDs: []string{rev.ID}})
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals/"+p.ID+"/reviewers", authorToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)
	})

	t.Run("unknown reviewer is rejected", func(t *testing.T) {
		body := marchallObj(t, AssignReviewersRequest{ReviewerIDs: []string{"lol"}})
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals/"+p.ID+"/reviewers", adminToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"reviewer_ids": `"lol" is not an active reviewer in this organization`}),
		}, rec)
	})

	t.Run("assign reviewers", func(t *testing.T) {
		body := marchallObj(t, AssignReviewersRequest{ReviewerIDs: []string{rev.ID, rev.ID}}) // dups are dropped
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals/"+p.ID+"/reviewers", adminToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		unmarchallObj(t, rec.Body.Bytes(), &p)
		if p.Status != proposal.StatusUnderReview {
			t.Errorf("status = %q; want %q", p.Status, proposal.StatusUnderReview)
		}
		if len(p.AssignedReviewers) != 1 || p.AssignedReviewers[0] != rev.ID {
			t.Errorf("assigned_reviewers = %v; want [%s]", p.AssignedReviewers, rev.ID)
		}
	})

	t.Run("authors cannot annotate", func(t *testing.T) {
		body := marchallObj(t, proposal.NewAnnotation{
			HighlightTo: 10, CommentText: "My own note", Kind: proposal.AnnotationComment,
		})
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals/"+p.ID+"/annotations", authorToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)
	})

	t.Run("annotate", func(t *testing.T) {
		body := marchallObj(t, proposal.NewAnnotation{
			HighlightFrom: 4, HighlightTo: 28,
			CommentText: "Sample size seems too small.", Kind: proposal.AnnotationConcern,
		})
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals/"+p.ID+"/annotations", revToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		unmarchallObj(t, rec.Body.Bytes(), &a)
		if a.Kind != proposal.AnnotationConcern || a.IsResolved {
			t.Errorf("unexpected annotation: %+v", a)
		}
	})

	t.Run("author replies to annotation", func(t *testing.T) {
		body := marchallObj(t, proposal.NewReply{ReplyText: "We will recruit 40 more subjects."})
		req, rec := newAuthRequest(http.MethodPost, "/v1/annotations/"+a.ID+"/replies", authorToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var reply proposal.AnnotationReply
		unmarchallObj(t, rec.Body.Bytes(), &reply)
		if reply.AnnotationID != a.ID || reply.UserID != author.ID {
			t.Errorf("unexpected reply: %+v", reply)
		}
	})

	t.Run("resolve annotation", func(t *testing.T) {
		body := marchallObj(t, ResolveAnnotationRequest{IsResolved: true})
		req, rec := newAuthRequest(http.MethodPut, "/v1/annotations/"+a.ID+"/resolve", revToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		unmarchallObj(t, rec.Body.Bytes(), &a)
		if !a.IsResolved {
			t.Error("annotation not resolved")
		}
	})

	t.Run("cross-organization proposal is not found", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/proposals/"+p.ID, getToken(t, outsider))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "proposal not found"}),
		}, rec)
	})

	t.Run("record review", func(t *testing.T) {
		body := marchallObj(t, proposal.NewReview{
			Decision: proposal.DecisionApprove, Reason: "Sound methodology.",
			LinkedAnnotationIDs: []string{a.ID},
		})
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals/"+p.ID+"/reviews", revToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var resp ReviewResponse
		unmarchallObj(t, rec.Body.Bytes(), &resp)
		if resp.Proposal.Status != proposal.StatusApproved {
			t.Errorf("status = %q; want %q", resp.Proposal.Status, proposal.StatusApproved)
		}
		if resp.Review.Decision != proposal.DecisionApprove || resp.Review.ReviewerID != rev.ID {
			t.Errorf("unexpected review: %+v", resp.Review)
		}
		p = resp.Proposal
	})

	t.Run("decided proposal cannot be reviewed again", func(t *testing.T) {
		body := marchallObj(t, proposal.NewReview{Decision: proposal.DecisionReject, Reason: "Changed my mind."})
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals/"+p.ID+"/reviews", revToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: `cannot review a proposal in status "approved"`}),
		}, rec)
	})

	t.Run("detail", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/proposals/"+p.ID, authorToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var detail proposal.Detail
		unmarchallObj(t, rec.Body.Bytes(), &detail)
		if detail.Status != proposal.StatusApproved {
			t.Errorf("status = %q; want %q", detail.Status, proposal.StatusApproved)
		}
		if len(detail.Annotations) != 1 || len(detail.Annotations[0].Replies) != 1 {
			t.Errorf("unexpected annotations: %+v", detail.Annotations)
		}
		if len(detail.Reviews) != 1 {
			t.Errorf("unexpected reviews: %+v", detail.Reviews)
		}
	})
}

func Test_proposalApi_resubmitCycle(t *testing.T) {
	app := setup(t)

	acme := testutil.CreateOrg(t, orgRepo, "Acme Ethics", "acme")
	author := testutil.CreateUser(t, usrRepo, acme.ID, "Awe", "awe@test.cd", user.RoleResearcher, true)
	rev := testutil.CreateUser(t, usrRepo, acme.ID, "Rev", "rev@test.cd", user.RoleReviewer, true)
	admin := testutil.CreateUser(t, usrRepo, acme.ID, "Admin", "admin@test.cd", user.RoleAdmin, true)

	authorToken := getToken(t, author)

	var p proposal.Proposal

	do := func(t *testing.T, method, path, token string, body []byte, wantCode int, into interface{}) {
		t.Helper()
		req, rec := newAuthRequest(method, path, token, body)
		app.ServeHTTP(rec, req)
		if rec.Code != wantCode {
			t.Fatalf("%s %s failed! code = %v; body = %s", method, path, rec.Code, rec.Body.String())
		}
		if into != nil {
			unmarchallObj(t, rec.Body.Bytes(), into)
		}
	}

	// first cycle: submit, review, revise_and_resubmit
	create := marchallObj(t, proposal.NewProposal{Title: "Field Study of Urban Foxes"})
	do(t, http.MethodPost, "/v1/proposals", authorToken, create, http.StatusCreated, &p)

	t.Run("only revise_and_resubmit proposals can be resubmitted", func(t *testing.T) {
		body := marchallObj(t, proposal.UpdateDraft{})
		req, rec := newAuthRequest(http.MethodPost, "/v1/proposals/"+p.ID+"/resubmit", authorToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: `cannot resubmit a proposal in status "draft"`}),
		}, rec)
	})

	do(t, http.MethodPost, "/v1/proposals/"+p.ID+"/submit", authorToken, nil, http.StatusOK, &p)
	assign := marchallObj(t, AssignReviewersRequest{ReviewerIDs: []string{rev.ID}})
	do(t, http.MethodPost, "/v1/proposals/"+p.ID+"/reviewers", getToken(t, admin), assign, http.StatusOK, &p)

	var resp ReviewResponse
	review := marchallObj(t, proposal.NewReview{Decision: proposal.DecisionReviseAndResubmit, Reason: "Needs a control group."})
	do(t, http.MethodPost, "/v1/proposals/"+p.ID+"/reviews", getToken(t, rev), review, http.StatusCreated, &resp)
	p = resp.Proposal
	if p.Status != proposal.StatusReviseAndResubmit {
		t.Fatalf("status = %q; want %q", p.Status, proposal.StatusReviseAndResubmit)
	}

	t.Run("resubmit returns the proposal to draft", func(t *testing.T) {
		body := marchallObj(t, proposal.UpdateDraft{Title: "Field Study of Urban Foxes, With Controls"})
		do(t, http.MethodPost, "/v1/proposals/"+p.ID+"/resubmit", authorToken, body, http.StatusOK, &p)
		if p.Status != proposal.StatusDraft {
			t.Errorf("status = %q; want %q", p.Status, proposal.StatusDraft)
		}
		if len(p.AssignedReviewers) != 0 {
			t.Error("resubmission must clear the reviewer set")
		}
		if p.Title != "Field Study of Urban Foxes, With Controls" {
			t.Errorf("title = %q", p.Title)
		}
	})

	t.Run("second cycle starts over", func(t *testing.T) {
		do(t, http.MethodPost, "/v1/proposals/"+p.ID+"/submit", authorToken, nil, http.StatusOK, &p)
		if p.Status != proposal.StatusSubmitted {
			t.Errorf("status = %q; want %q", p.Status, proposal.StatusSubmitted)
		}
	})
}

func Test_proposalApi_query(t *testing.T) {
	app := setup(t)

	acme := testutil.CreateOrg(t, orgRepo, "Acme Ethics", "acme")
	umbrella := testutil.CreateOrg(t, orgRepo, "Umbrella", "umbrella")

	author1 := testutil.CreateUser(t, usrRepo, acme.ID, "Awe", "awe@test.cd", user.RoleResearcher, true)
	author2 := testutil.CreateUser(t, usrRepo, acme.ID, "Jane", "jane@test.cd", user.RoleResearcher, true)
	rev := testutil.CreateUser(t, usrRepo, acme.ID, "Rev", "rev@test.cd", user.RoleReviewer, true)
	admin := testutil.CreateUser(t, usrRepo, acme.ID, "Admin", "admin@test.cd", user.RoleAdmin, true)
	outAuthor := testutil.CreateUser(t, usrRepo, umbrella.ID, "Out", "out@test.cd", user.RoleResearcher, true)

	now := time.Now().UTC()
	mk := func(orgID, by, title string, status proposal.Status, reviewers ...string) proposal.Proposal {
		if reviewers == nil {
			reviewers = []string{}
		}
		p, err := propRepo.CreateProposal(context.Background(), proposal.Proposal{
			OrganizationID:    orgID,
			Title:             title,
			Content:           map[string]interface{}{},
			Status:            status,
			SubmittedBy:       by,
			AssignedReviewers: reviewers,
			Attachments:       []string{},
			CreatedAt:         now,
			UpdatedAt:         now,
		})
		if err != nil {
			t.Fatalf("CreateProposal() failed: %v", err)
		}
		return p
	}

	p1 := mk(acme.ID, author1.ID, "Mice Maze Trial", proposal.StatusDraft)
	p2 := mk(acme.ID, author2.ID, "Human Sleep Study", proposal.StatusUnderReview, rev.ID)
	p3 := mk(umbrella.ID, outAuthor.ID, "Umbrella Internal Trial", proposal.StatusDraft)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/proposals", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "researchers see their own", path: "/v1/proposals", token: getToken(t, author1), wantCode: http.StatusOK, wantData: marchallList(t, p1)},
		{name: "reviewers see their assignments", path: "/v1/proposals", token: getToken(t, rev), wantCode: http.StatusOK, wantData: marchallList(t, p2)},
		{name: "admins see the whole organization", path: "/v1/proposals", token: getToken(t, admin), wantCode: http.StatusOK, wantData: marchallList(t, p1, p2)},
		{name: "never across organizations", path: "/v1/proposals", token: getToken(t, outAuthor), wantCode: http.StatusOK, wantData: marchallList(t, p3)},
		{name: "status filter", path: "/v1/proposals?status=draft", token: getToken(t, admin), wantCode: http.StatusOK, wantData: marchallList(t, p1)},
		{name: "search", path: "/v1/proposals?search=sleep", token: getToken(t, admin), wantCode: http.StatusOK, wantData: marchallList(t, p2)},
		{name: "search (unknown)", path: "/v1/proposals?search=lol", token: getToken(t, admin), wantCode: http.StatusOK, wantData: marchallList(t)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
