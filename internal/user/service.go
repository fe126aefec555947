// Package user implements account registration, login, and password reset.
// Registration and reset are gated by one-time email codes.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"fixit/internal/mailer"
	"fixit/internal/otp"
)

var (
	// ErrAlreadyRegistered means a signup code was requested for an email
	// that already has an account.
	ErrAlreadyRegistered = errors.New("email already registered")
	// ErrNotFound means no account exists for the email.
	ErrNotFound = errors.New("user not found")
	// ErrBadCredentials means the email/password pair did not match.
	ErrBadCredentials = errors.New("invalid email or password")
	// ErrMissingFields means a required signup field was blank.
	ErrMissingFields = errors.New("missing required fields")
)

// Signup carries the fields supplied at registration.
type Signup struct {
	Fullname   string
	RegNo      string
	Department string
	Email      string
	Password   string
}

// Service coordinates the credential store, the OTP verifier, and the
// mailer. OTP mail is sent inline: the caller of a request operation does
// not get a success until the code is on the wire.
type Service struct {
	repo     Repository
	verifier *otp.Verifier
	mail     mailer.Mailer
}

// NewService creates a service.
func NewService(repo Repository, verifier *otp.Verifier, mail mailer.Mailer) *Service {
	return &Service{repo: repo, verifier: verifier, mail: mail}
}

// RequestSignupCode issues a registration code for a new email and mails
// it. Fails with ErrAlreadyRegistered when an account exists. A mail
// failure surfaces to the caller but does not discard the stored code.
func (s *Service) RequestSignupCode(ctx context.Context, email string) error {
	email = otp.NormalizeEmail(email)
	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyRegistered
	}

	code, err := s.verifier.Request(ctx, email, otp.FlowRegister)
	if err != nil {
		return err
	}
	if err := s.mail.Send(email, "Verify Your Email", mailer.VerificationBody(code)); err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}
	return nil
}

// Register verifies the code and creates the account with a bcrypt-hashed
// password and the Student role. The code is consumed on success.
func (s *Service) Register(ctx context.Context, signup Signup, code string) (User, error) {
	if strings.TrimSpace(signup.Fullname) == "" || strings.TrimSpace(signup.Password) == "" {
		return User{}, ErrMissingFields
	}
	email := otp.NormalizeEmail(signup.Email)
	if email == "" {
		return User{}, ErrMissingFields
	}
	if err := s.verifier.Verify(ctx, email, otp.FlowRegister, code); err != nil {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(signup.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	return s.repo.Insert(ctx, User{
		Email:      email,
		Password:   string(hash),
		Fullname:   signup.Fullname,
		RegNo:      signup.RegNo,
		Department: signup.Department,
		Role:       RoleStudent,
	})
}

// Login checks credentials and returns the account on success.
func (s *Service) Login(ctx context.Context, email, password string) (User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return User{}, ErrBadCredentials
	}
	u, err := s.repo.FindByEmail(ctx, otp.NormalizeEmail(email))
	if err != nil {
		return User{}, err
	}
	if u == nil {
		return User{}, ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return User{}, ErrBadCredentials
	}
	return *u, nil
}

// RequestResetCode issues a password-reset code for an existing account and
// mails it. Fails with ErrNotFound when the email is unknown.
func (s *Service) RequestResetCode(ctx context.Context, email string) error {
	email = otp.NormalizeEmail(email)
	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}

	code, err := s.verifier.Request(ctx, email, otp.FlowReset)
	if err != nil {
		return err
	}
	if err := s.mail.Send(email, "Password Reset Code", mailer.VerificationBody(code)); err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}
	return nil
}

// ResetPassword verifies the reset code and stores a new hash. The code is
// consumed on success.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if newPassword == "" {
		return ErrMissingFields
	}
	email = otp.NormalizeEmail(email)
	if err := s.verifier.Verify(ctx, email, otp.FlowReset, code); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, email, string(hash))
}

// ListStudents returns all student accounts for the admin view.
func (s *Service) ListStudents(ctx context.Context) ([]User, error) {
	return s.repo.ListByRole(ctx, RoleStudent)
}

// Delete removes an account by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteByID(ctx, id)
}
