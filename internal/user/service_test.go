package user

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"fixit/internal/otp"
)

// --- fakes ---

type fakeRepo struct {
	users map[string]User
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]User)}
}

func (f *fakeRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	u, ok := f.users[email]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeRepo) Insert(_ context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = "u-" + u.Email
	}
	f.users[u.Email] = u
	return u, nil
}

func (f *fakeRepo) UpdatePassword(_ context.Context, email, hash string) error {
	u, ok := f.users[email]
	if !ok {
		return ErrNotFound
	}
	u.Password = hash
	f.users[email] = u
	return nil
}

func (f *fakeRepo) ListByRole(_ context.Context, role string) ([]User, error) {
	var out []User
	for _, u := range f.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeleteByID(_ context.Context, id string) error {
	for k, u := range f.users {
		if u.ID == id {
			delete(f.users, k)
			return nil
		}
	}
	return ErrNotFound
}

type fakeMailer struct {
	sent     []string // recipient addresses
	lastTo   string
	lastSub  string
	lastBody string
	fail     error
}

func (f *fakeMailer) Send(to, subject, body string) error {
	f.lastTo = to
	f.lastSub = subject
	f.lastBody = body
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, to)
	return nil
}

func newTestService() (*Service, *fakeRepo, *fakeMailer, *otp.Verifier) {
	repo := newFakeRepo()
	verifier := otp.NewVerifier(otp.NewMemoryStore(), 5*time.Minute, 10*time.Minute)
	mail := &fakeMailer{}
	return NewService(repo, verifier, mail), repo, mail, verifier
}

// --- tests ---

func TestRegisterFlow(t *testing.T) {
	svc, repo, mail, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.RequestSignupCode(ctx, "New@X.com"))
	require.Equal(t, []string{"new@x.com"}, mail.sent)

	// Read the code the way the user would: out of the mail body.
	code := codeFromBody(t, mail.lastBody)

	u, err := svc.Register(ctx, Signup{
		Fullname:   "New Student",
		RegNo:      "CS-1001",
		Department: "Computer Science",
		Email:      "New@X.com",
		Password:   "s3cret",
	}, code)
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", u.Email)
	assert.Equal(t, RoleStudent, u.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("s3cret")))

	// The code was consumed with the registration.
	_, err = svc.Register(ctx, Signup{
		Fullname: "Replay", Email: "new@x.com", Password: "x",
	}, code)
	assert.ErrorIs(t, err, otp.ErrNoPendingRequest)

	stored, err := repo.FindByEmail(ctx, "new@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestRequestSignupCodeAlreadyRegistered(t *testing.T) {
	svc, repo, mail, _ := newTestService()
	ctx := context.Background()

	_, err := repo.Insert(ctx, User{Email: "taken@x.com", Role: RoleStudent})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.RequestSignupCode(ctx, "Taken@X.com"), ErrAlreadyRegistered)
	assert.Empty(t, mail.sent, "no mail for a rejected request")
}

func TestRequestSignupCodeDeliveryFailure(t *testing.T) {
	svc, _, mail, verifier := newTestService()
	ctx := context.Background()

	mail.fail = errors.New("smtp down")
	err := svc.RequestSignupCode(ctx, "a@x.com")
	require.Error(t, err)

	// The stored code is not rolled back on delivery failure: the pending
	// request survives and is verifiable.
	code := codeFromBody(t, mail.lastBody)
	assert.NoError(t, verifier.Verify(ctx, "a@x.com", otp.FlowRegister, code))
}

func TestRegisterRejectsWrongCode(t *testing.T) {
	svc, repo, mail, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.RequestSignupCode(ctx, "a@x.com"))
	code := codeFromBody(t, mail.lastBody)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	_, err := svc.Register(ctx, Signup{Fullname: "A", Email: "a@x.com", Password: "p"}, wrong)
	assert.ErrorIs(t, err, otp.ErrMismatch)

	u, err := repo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, u, "no account created on a bad code")
}

func TestLogin(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("right"), bcrypt.DefaultCost)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, User{Email: "a@x.com", Password: string(hash), Fullname: "A"})
	require.NoError(t, err)

	u, err := svc.Login(ctx, "  A@X.com", "right")
	require.NoError(t, err)
	assert.Equal(t, "A", u.Fullname)

	_, err = svc.Login(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = svc.Login(ctx, "nobody@x.com", "right")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestResetPasswordFlow(t *testing.T) {
	svc, repo, mail, _ := newTestService()
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("old"), bcrypt.DefaultCost)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, User{Email: "a@x.com", Password: string(hash)})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.RequestResetCode(ctx, "nobody@x.com"), ErrNotFound)

	require.NoError(t, svc.RequestResetCode(ctx, "a@x.com"))
	require.Equal(t, "Password Reset Code", mail.lastSub)

	code := codeFromBody(t, mail.lastBody)
	require.NoError(t, svc.ResetPassword(ctx, "a@x.com", code, "newpass"))

	_, err = svc.Login(ctx, "a@x.com", "newpass")
	assert.NoError(t, err)
	_, err = svc.Login(ctx, "a@x.com", "old")
	assert.ErrorIs(t, err, ErrBadCredentials)

	// One-time use.
	assert.ErrorIs(t, svc.ResetPassword(ctx, "a@x.com", code, "again"), otp.ErrNoPendingRequest)
}

var codePattern = regexp.MustCompile(`\d{6}`)

func codeFromBody(t *testing.T, body string) string {
	t.Helper()
	code := codePattern.FindString(body)
	require.NotEmpty(t, code, "mail body carries no code: %q", body)
	return code
}
