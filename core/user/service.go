package user

import (
	"context"
	"errors"
	"net/mail"
	"time"

	"github.com/ethicsgate/ethicsgate/core"
)

var (
	// errors
	ErrNotFound    = errors.New("user not found")
	ErrEmailExists = errors.New("a user with this email already exists in this organization")
)

type (
	// GetFilter finds a single User. ID matches alone; Email is scoped to
	// OrganizationID since emails are only unique per organization.
	GetFilter struct {
		ID             string
		OrganizationID string
		Email          string
	}

	Repository interface {
		CheckEmailUniqueness(ctx context.Context, orgID, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		FilterUsers(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error)
		UpdateUser(ctx context.Context, usr User, isActive *bool) (User, error)
		DeleteUsersByID(ctx context.Context, orgID string, ids ...string) error
	}

	Service interface {
		CheckEmailUniqueness(ctx context.Context, orgID, email string, excl ...User) error
		Create(ctx context.Context, orgID string, nu NewUser) (User, error)
		GetByID(ctx context.Context, orgID, id string) (User, error)
		GetByEmail(ctx context.Context, orgID, email string) (User, error)
		Query(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error)
		Update(ctx context.Context, origUsr User, uu UpdateUser) (User, error)
		Delete(ctx context.Context, orgID string, ids ...string) error
		SetLastLogin(ctx context.Context, usr User) (User, error)
		RequestPasswordReset(ctx context.Context, orgID, email string) error
		ResetPassword(ctx context.Context, rp ResetUserPassword) error
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
		conf    *core.Config
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) Service {
	secretKey = []byte(conf.SecretKey)
	tokenExpirationDelta = conf.TokenExpirationDelta
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

func (svc *service) CheckEmailUniqueness(ctx context.Context, orgID, email string, excl ...User) error {
	if err := svc.repo.CheckEmailUniqueness(ctx, orgID, email, excl...); err != nil {
		if err == ErrEmailExists {
			return core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *service) Create(ctx context.Context, orgID string, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		OrganizationID: orgID,
		Name:           nu.Name,
		Email:          nu.Email,
		Role:           nu.Role,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *service) GetByID(ctx context.Context, orgID, id string) (User, error) {
	usr, err := svc.repo.GetUser(ctx, GetFilter{ID: id})
	if err != nil {
		return User{}, err
	}
	// cross-tenant lookups are indistinguishable from absent users
	if orgID != "" && usr.OrganizationID != orgID {
		return User{}, ErrNotFound
	}
	return usr, nil
}

func (svc *service) GetByEmail(ctx context.Context, orgID, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{
		OrganizationID: orgID,
		Email:          core.CleanString(email, true /* lower */),
	})
}

func (svc *service) Query(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error) {
	return svc.repo.FilterUsers(ctx, filter, ordering...)
}

func (svc *service) Update(ctx context.Context, origUsr User, uu UpdateUser) (User, error) {
	usr := User{
		ID:             origUsr.ID,
		OrganizationID: origUsr.OrganizationID,
		Name:           uu.Name,
		Email:          uu.Email,
		Role:           uu.Role,
		AvatarURL:      uu.AvatarURL,
		UpdatedAt:      time.Now().UTC(),
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, err
		}
	}
	return svc.repo.UpdateUser(ctx, usr, uu.IsActive)
}

func (svc *service) Delete(ctx context.Context, orgID string, ids ...string) error {
	return svc.repo.DeleteUsersByID(ctx, orgID, ids...)
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr, nil)
}

func (svc *service) RequestPasswordReset(ctx context.Context, orgID, email string) error {
	usr, err := svc.GetByEmail(ctx, orgID, email)
	if err != nil {
		return err
	}
	go svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *service) sendPasswordResetMail(usr User) {
	token := makeToken(usr)
	svc.mailSvc.SendMessages(
		&core.EmailMessage{
			To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
			Subject:      "Password Reset",
			TemplateName: "password-reset",
			TemplateData: struct {
				User  User
				UID   string
				Token string
			}{usr, EncodeUID(usr), token},
		},
	)
}

func (svc *service) ResetPassword(ctx context.Context, rp ResetUserPassword) error {
	uid, err := decodeUID(rp.UID)
	if err != nil {
		return core.NewValidationError(errInvalidToken)
	}
	usr, err := svc.repo.GetUser(ctx, GetFilter{ID: uid})
	if err != nil {
		if err == ErrNotFound {
			return core.NewValidationError(errInvalidToken)
		}
		return err
	}
	if err = verifyToken(usr, rp.Token); err != nil {
		return core.NewValidationError(err)
	}
	if err = usr.SetPassword(rp.Password); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr, nil)
	return err
}
