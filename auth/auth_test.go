package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"nannynest/globals"
	"nannynest/middleware"
	"nannynest/models"
	"nannynest/users"
	"nannynest/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	globals.JwtSecret = []byte("test-secret")
	os.Exit(m.Run())
}

func newTestService() *Service {
	return NewService(users.NewMemoryStore(), zap.NewNop())
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sess, err := svc.Register(ctx, RegisterRequest{
		Email:     " Jane@Example.com ",
		Password:  "correct horse",
		FirstName: "Jane",
		Roles:     []string{models.RoleCaregiver},
	})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", sess.User.Email)
	assert.NotEqual(t, "correct horse", sess.User.PasswordHash)

	claims, err := middleware.ValidateJWT("Bearer " + sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, claims.UserID)
	assert.Equal(t, []string{models.RoleCaregiver}, claims.Role)

	_, err = svc.Register(ctx, RegisterRequest{Email: "jane@example.com", Password: "another pass", FirstName: "J"})
	assert.ErrorIs(t, err, xerrors.ErrConflict)

	_, err = svc.Login(ctx, "jane@example.com", "wrong password")
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)
	_, err = svc.Login(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)

	again, err := svc.Login(ctx, "JANE@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, again.User.ID)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	cases := map[string]RegisterRequest{
		"email":     {Email: "not-an-email", Password: "long enough", FirstName: "A"},
		"password":  {Email: "a@example.com", Password: "short", FirstName: "A"},
		"firstName": {Email: "a@example.com", Password: "long enough"},
		"roles":     {Email: "a@example.com", Password: "long enough", FirstName: "A", Roles: []string{models.RoleAdmin}},
	}
	for field, req := range cases {
		_, err := svc.Register(ctx, req)
		var ve *xerrors.ValidationError
		require.ErrorAs(t, err, &ve, field)
		assert.Equal(t, field, ve.Field)
	}
}

func TestRefreshRotates(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	sess, err := svc.Register(ctx, RegisterRequest{Email: "p@example.com", Password: "long enough", FirstName: "P"})
	require.NoError(t, err)
	assert.Equal(t, []string{models.RoleParent}, sess.User.Roles)

	next, err := svc.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.RefreshToken, next.RefreshToken)

	_, err = svc.Refresh(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized, "old refresh token is spent")

	svc.now = func() time.Time { return time.Now().UTC().Add(refreshTokenTTL + time.Hour) }
	_, err = svc.Refresh(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)
}

func TestLogoutRevokesRefresh(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	sess, err := svc.Register(ctx, RegisterRequest{Email: "p@example.com", Password: "long enough", FirstName: "P"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, sess.User.ID))
	_, err = svc.Refresh(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)
}

func TestLoginHandler(t *testing.T) {
	svc := newTestService()
	h := NewHandlers(svc)

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"c@example.com","password":"long enough","firstName":"C","roles":["caregiver"]}`)), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"c@example.com","password":"nope nope"}`)), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"c@example.com","password":"long enough"}`)), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token"`)
}
