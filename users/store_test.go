package users

import (
	"context"
	"fmt"
	"testing"
	"time"

	"nannynest/models"
	"nannynest/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func photos(n int) []models.Photo {
	out := make([]models.Photo, n)
	for i := range out {
		out[i] = models.Photo{URL: fmt.Sprintf("/uploads/%d.jpg", i)}
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	u := &models.User{ID: "u1", Email: "jane@example.com", Roles: []string{models.RoleCaregiver}}
	require.NoError(t, s.Insert(ctx, u))
	assert.ErrorIs(t, s.Insert(ctx, &models.User{ID: "u2", Email: "jane@example.com"}), xerrors.ErrConflict)

	got, err := s.GetByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	require.NoError(t, s.SetPayoutAccount(ctx, "u1", "acct_123"))
	got, err = s.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "acct_123", got.PayoutAccountID)
	assert.False(t, got.PayoutsEnabled)

	byAcct, err := s.GetByPayoutAccount(ctx, "acct_123")
	require.NoError(t, err)
	assert.Equal(t, "u1", byAcct.ID)
	_, err = s.GetByPayoutAccount(ctx, "")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
	require.NoError(t, s.SetPayoutsEnabled(ctx, "u1", true))

	require.NoError(t, s.SetVerifiedPhone(ctx, "u1", "+61412345678"))
	got, err = s.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.PayoutsEnabled)
	assert.True(t, got.PhoneVerified)
	assert.Equal(t, "+61412345678", got.Phone)

	require.NoError(t, s.SetRefreshToken(ctx, "u1", "hash", time.Now().Add(time.Hour)))
	got, err = s.GetByRefreshToken(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	require.NoError(t, s.ClearRefreshToken(ctx, "u1"))
	_, err = s.GetByRefreshToken(ctx, "hash")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestAddPhotosCap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, &models.User{ID: "u1", Email: "a@example.com"}))

	u, err := s.AddPhotos(ctx, "u1", photos(7))
	require.NoError(t, err)
	assert.Len(t, u.Photos, 7)

	_, err = s.AddPhotos(ctx, "u1", photos(4))
	assert.ErrorIs(t, err, xerrors.ErrValidation)

	u, err = s.AddPhotos(ctx, "u1", photos(3))
	require.NoError(t, err)
	assert.Len(t, u.Photos, MaxPhotos)
}
