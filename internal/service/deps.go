package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"wellness/internal/audit"
	"wellness/internal/auth"
	"wellness/internal/model"
	"wellness/internal/terms"
)

// Deps bundles the collaborators shared by the services.
type Deps struct {
	Repo         model.Repository
	Hasher       *auth.Hasher
	Tokens       *auth.Manager
	Authorizer   *auth.Authorizer
	Gate         *terms.Gate // nil disables the terms gate
	Audit        *audit.Recorder
	TermsVersion string
	Now          func() time.Time
}

func (d Deps) clock() func() time.Time {
	if d.Now != nil {
		return d.Now
	}
	return time.Now
}

func (d Deps) authorizer() *auth.Authorizer {
	if d.Authorizer != nil {
		return d.Authorizer
	}
	return auth.NewAuthorizer(d.Repo)
}

// ClientMeta is request metadata copied into sessions and audit rows.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// Credential limits. Passwords are capped at bcrypt's 72 byte input limit.
const (
	minUsernameLen = 3
	maxUsernameLen = 100
	minPasswordLen = 8
	maxPasswordLen = 72
)

var validate = validator.New()

func validateUsername(username string) error {
	if err := validate.Var(username, fmt.Sprintf("required,min=%d,max=%d", minUsernameLen, maxUsernameLen)); err != nil {
		return fmt.Errorf("%w: username must be %d-%d characters", auth.ErrInvalidInput, minUsernameLen, maxUsernameLen)
	}
	return nil
}

func validateEmail(email string) error {
	if err := validate.Var(email, "required,email,max=255"); err != nil {
		return fmt.Errorf("%w: email address is invalid", auth.ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if err := validate.Var(password, fmt.Sprintf("min=%d,max=%d", minPasswordLen, maxPasswordLen)); err != nil {
		return fmt.Errorf("%w: password must be %d-%d characters", auth.ErrInvalidInput, minPasswordLen, maxPasswordLen)
	}
	return nil
}

// trimEmail strips surrounding whitespace only. Emails are unique by exact,
// case-sensitive match.
func trimEmail(email string) string {
	return strings.TrimSpace(email)
}

// retryable reports whether a gated operation failed in a way the client can
// fix and retry with the same gate token.
func retryable(err error) bool {
	switch {
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrInactiveAccount):
		return false
	default:
		return true
	}
}
