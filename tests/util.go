package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/ethicsgate/ethicsgate/core"
	"github.com/ethicsgate/ethicsgate/core/org"
	"github.com/ethicsgate/ethicsgate/core/proposal"
	"github.com/ethicsgate/ethicsgate/core/user"
)

// NewValidators builds a validator with every domain validation registered,
// the way the API entrypoint does it.
func NewValidators() (*validator.Validate, ut.Translator) {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	proposal.InitValidators(validate, translator)
	return validate, translator
}

func NewConfig(t *testing.T) *core.Config {
	t.Helper()
	return &core.Config{
		AppName:              "ethicsgate",
		Env:                  "test",
		TestMode:             true,
		Debug:                true,
		SecretKey:            "secret",
		FrontendBaseURL:      "http://localhost:3000",
		TokenExpirationDelta: 3 * 24 * time.Hour,
	}
}

func CreateOrg(t *testing.T, repo org.Repository, name, slug string) org.Organization {
	t.Helper()
	o, err := repo.CreateOrganization(context.Background(), org.Organization{
		Name:      name,
		Slug:      slug,
		Settings:  make(map[string]interface{}),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateOrg() failed: %v", err)
	}
	return o
}

func CreateUser(t *testing.T, repo user.Repository, orgID, name, email string, role user.Role, isActive bool) user.User {
	t.Helper()
	now := time.Now().UTC()
	usr := user.User{
		OrganizationID: orgID,
		Name:           name,
		Email:          email,
		Role:           role,
		IsActive:       isActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := usr.SetPassword("S3cr3t.Pwd!"); err != nil {
		t.Fatalf("SetPassword() failed: %v", err)
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// NopLogger discards everything; tests do not want log noise.
type NopLogger struct{}

var _ core.Logger = (*NopLogger)(nil)

func (NopLogger) Debug(msg string, args ...interface{}) {}
func (NopLogger) Info(msg string, args ...interface{})  {}
func (NopLogger) Warn(msg string, args ...interface{})  {}
func (NopLogger) Error(msg string, args ...interface{}) {}
func (NopLogger) Fatal(msg string, args ...interface{}) {}
