package echoapi_test

import (
	"net/http"
	"testing"
	"time"

	. "github.com/ethicsgate/ethicsgate/apps/api/echo"
	"github.com/ethicsgate/ethicsgate/core/user"
	testutil "github.com/ethicsgate/ethicsgate/tests"
)

func Test_userApi_login(t *testing.T) {
	app := setup(t)

	o := testutil.CreateOrg(t, orgRepo, "Acme Ethics", "acme")
	testutil.CreateUser(t, usrRepo, o.ID, "Awe", "awe@test.cd", user.RoleResearcher, true)
	testutil.CreateUser(t, usrRepo, o.ID, "N Dog", "ndog@test.cd", user.RoleResearcher, false)

	authFailed := marchallObj(t, httpErr{Error: "authentication failed"})
	login := func(org, email, pwd string) []byte {
		return marchallObj(t, LoginRequest{Organization: org, Email: email, Password: pwd})
	}

	tests := []httpTest{
		{
			name: "empty body", body: login("", "", ""), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"organization": "this field is required",
				"email":        "this field is required",
				"password":     "this field is required",
			}),
		},
		{name: "unknown organization", body: login("lol", "awe@test.cd", "S3cr3t.Pwd!"), wantCode: http.StatusBadRequest, wantData: authFailed},
		{name: "unknown email", body: login("acme", "lol@test.cd", "S3cr3t.Pwd!"), wantCode: http.StatusBadRequest, wantData: authFailed},
		{name: "wrong password", body: login("acme", "awe@test.cd", "lol"), wantCode: http.StatusBadRequest, wantData: authFailed},
		{
			name: "deactivated account", body: login("acme", "ndog@test.cd", "S3cr3t.Pwd!"), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "ok", body: login("acme", "awe@test.cd", "S3cr3t.Pwd!"), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.name == "ok" && rec.Code == http.StatusOK {
				var resp LoginResponse
				unmarchallObj(t, rec.Body.Bytes(), &resp)
				if resp.Token == "" {
					t.Error("expected a token")
				}
			}
		})
	}
}

func Test_userApi_tokenRefresh(t *testing.T) {
	app := setup(t)

	o := testutil.CreateOrg(t, orgRepo, "Acme Ethics", "acme")
	usr := testutil.CreateUser(t, usrRepo, o.ID, "Awe", "awe@test.cd", user.RoleResearcher, true)
	naughty := testutil.CreateUser(t, usrRepo, o.ID, "N Dog", "ndog@test.cd", user.RoleResearcher, false)

	expiredClaims := GetUserClaims(conf, usr, time.Now().Add(-5*time.Hour).Unix())
	expiredToken, err := GenerateToken(conf, expiredClaims)
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "deactivated account", token: getToken(t, naughty), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "refresh expired", token: expiredToken, wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "refresh has expired"}),
		},
		{name: "ok", token: getToken(t, usr), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/users/token-refresh", tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.name == "ok" && rec.Code == http.StatusOK {
				var resp LoginResponse
				unmarchallObj(t, rec.Body.Bytes(), &resp)
				if resp.Token == "" {
					t.Error("expected a token")
				}
			}
		})
	}
}

func Test_userApi_userQuery(t *testing.T) {
	app := setup(t)

	acme := testutil.CreateOrg(t, orgRepo, "Acme Ethics", "acme")
	umbrella := testutil.CreateOrg(t, orgRepo, "Umbrella", "umbrella")

	admin := testutil.CreateUser(t, usrRepo, acme.ID, "Admin", "admin@test.cd", user.RoleAdmin, true)
	awe := testutil.CreateUser(t, usrRepo, acme.ID, "Awe", "awe@test.cd", user.RoleResearcher, true)
	rev := testutil.CreateUser(t, usrRepo, acme.ID, "Rev", "rev@test.cd", user.RoleReviewer, true)
	outsider := testutil.CreateUser(t, usrRepo, umbrella.ID, "Out", "out@test.cd", user.RoleAdmin, true)

	adminToken := getToken(t, admin)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/users", token: getToken(t, awe), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, errForbidden),
		},
		{
			name: "organization scope", path: "/v1/users", token: adminToken, wantCode: http.StatusOK,
			wantData: marchallList(t, admin, awe, rev),
		},
		{
			name: "other organization scope", path: "/v1/users", token: getToken(t, outsider), wantCode: http.StatusOK,
			wantData: marchallList(t, outsider),
		},
		{name: "search", path: "/v1/users?search=awe", token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, awe)},
		{name: "role filter", path: "/v1/users?role=reviewer", token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t, rev)},
		{name: "search (unknown)", path: "/v1/users?search=lol", token: adminToken, wantCode: http.StatusOK, wantData: marchallList(t)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_userRoles(t *testing.T) {
	app := setup(t)

	acme := testutil.CreateOrg(t, orgRepo, "Acme Ethics", "acme")
	admin := testutil.CreateUser(t, usrRepo, acme.ID, "Admin", "admin@test.cd", user.RoleAdmin, true)
	awe := testutil.CreateUser(t, usrRepo, acme.ID, "Awe", "awe@test.cd", user.RoleResearcher, true)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Admin required", token: getToken(t, awe), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "ok", token: getToken(t, admin), wantCode: http.StatusOK, wantData: marchallObj(t, user.Roles)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/users/roles", tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_userDetail(t *testing.T) {
	app := setup(t)

	acme := testutil.CreateOrg(t, orgRepo, "Acme Ethics", "acme")
	umbrella := testutil.CreateOrg(t, orgRepo, "Umbrella", "umbrella")

	admin := testutil.CreateUser(t, usrRepo, acme.ID, "Admin", "admin@test.cd", user.RoleAdmin, true)
	awe := testutil.CreateUser(t, usrRepo, acme.ID, "Awe", "awe@test.cd", user.RoleResearcher, true)
	rev := testutil.CreateUser(t, usrRepo, acme.ID, "Rev", "rev@test.cd", user.RoleReviewer, true)
	outsider := testutil.CreateUser(t, usrRepo, umbrella.ID, "Out", "out@test.cd", user.RoleAdmin, true)

	aweToken := getToken(t, awe)
	adminToken := getToken(t, admin)
	notFound := marchallObj(t, httpErr{Error: "not found"})

	t.Run("retrieve requires auth", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/users/"+awe.ID)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
	})

	t.Run("own profile", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/users/"+awe.ID, aweToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, awe)}, rec)
	})

	t.Run("someone else's profile is not found", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/users/"+rev.ID, aweToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: notFound}, rec)
	})

	t.Run("admin can view anyone in their organization", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/users/"+rev.ID, adminToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, rev)}, rec)
	})

	t.Run("cross-organization admin cannot view", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/users/"+awe.ID, getToken(t, outsider))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: notFound}, rec)
	})

	t.Run("only admin can change role", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"role": "admin"})
		req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+awe.ID, aweToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)
	})

	t.Run("update own name", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"name": "Awesome"})
		req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+awe.ID, aweToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var updated user.User
		unmarchallObj(t, rec.Body.Bytes(), &updated)
		if updated.Name != "Awesome" {
			t.Errorf("name = %q; want %q", updated.Name, "Awesome")
		}
	})

	t.Run("admin deactivates user", func(t *testing.T) {
		isActive := false
		body := marchallObj(t, map[string]*bool{"is_active": &isActive})
		req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+rev.ID, adminToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var updated user.User
		unmarchallObj(t, rec.Body.Bytes(), &updated)
		if updated.IsActive {
			t.Error("user should be deactivated")
		}
	})

	t.Run("admin cannot deactivate themselves", func(t *testing.T) {
		isActive := false
		body := marchallObj(t, map[string]*bool{"is_active": &isActive})
		req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+admin.ID, adminToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)
	})

	t.Run("admin cannot demote themselves", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"role": "researcher"})
		req, rec := newAuthRequest(http.MethodPut, "/v1/users/"+admin.ID, adminToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)
	})

	t.Run("admin cannot delete themselves", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/users/"+admin.ID, adminToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}, rec)
	})

	t.Run("admin deletes user", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/users/"+rev.ID, adminToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
		req, rec = newAuthRequest(http.MethodGet, "/v1/users/"+rev.ID, adminToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: notFound}, rec)
	})
}

func Test_userApi_passwordReset(t *testing.T) {
	app := setup(t)

	o := testutil.CreateOrg(t, orgRepo, "Acme Ethics", "acme")
	testutil.CreateUser(t, usrRepo, o.ID, "Awe", "awe@test.cd", user.RoleResearcher, true)

	success := marchallObj(t, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})

	tests := []httpTest{
		{
			name: "known account", body: marchallObj(t, PasswordResetRequest{Organization: "acme", Email: "awe@test.cd"}),
			wantCode: http.StatusOK, wantData: success,
		},
		// unknown accounts get the exact same answer
		{
			name: "unknown email", body: marchallObj(t, PasswordResetRequest{Organization: "acme", Email: "lol@test.cd"}),
			wantCode: http.StatusOK, wantData: success,
		},
		{
			name: "unknown organization", body: marchallObj(t, PasswordResetRequest{Organization: "lol", Email: "awe@test.cd"}),
			wantCode: http.StatusOK, wantData: success,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/password-reset", tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("confirm with bogus token", func(t *testing.T) {
		body := marchallObj(t, user.ResetUserPassword{
			Token: "lol", UID: "lol", Password: "N3w.Pwd!", PasswordConfirm: "N3w.Pwd!",
		})
		req, rec := newRequest(http.MethodPost, "/v1/users/password-reset-confirm", body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
		}
	})
}

func Test_userApi_userCreate(t *testing.T) {
	app := setup(t)

	acme := testutil.CreateOrg(t, orgRepo, "Acme Ethics", "acme")
	admin := testutil.CreateUser(t, usrRepo, acme.ID, "Admin", "admin@test.cd", user.RoleAdmin, true)
	awe := testutil.CreateUser(t, usrRepo, acme.ID, "Awe", "awe@test.cd", user.RoleResearcher, true)

	adminToken := getToken(t, admin)
	newUser := func(name, email string, role user.Role) []byte {
		return marchallObj(t, user.NewUser{
			Name: name, Email: email, Role: role,
			Password: "S3cr3t.Pwd!", PasswordConfirm: "S3cr3t.Pwd!",
		})
	}

	tests := []httpTest{
		{name: "Auth required", body: newUser("Jane", "jane@test.cd", user.RoleReviewer), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", body: newUser("Jane", "jane@test.cd", user.RoleReviewer), token: getToken(t, awe),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "email taken", body: newUser("Jane", "awe@test.cd", user.RoleReviewer), token: adminToken,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": user.ErrEmailExists.Error()}),
		},
		{name: "ok", body: newUser("Jane", "jane@test.cd", user.RoleReviewer), token: adminToken, wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/users", tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.name == "ok" && rec.Code == http.StatusCreated {
				var created user.User
				unmarchallObj(t, rec.Body.Bytes(), &created)
				if created.OrganizationID != acme.ID {
					t.Errorf("organization = %q; want %q", created.OrganizationID, acme.ID)
				}
				if !created.IsActive {
					t.Error("new user should be active")
				}
			}
		})
	}
}
