package identity

import (
	"testing"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-16"

func TestSignAndParseNormal(t *testing.T) {
	signer := NewSigner(testSecret, time.Hour)
	idc := New(principal(model.RoleAdmin))

	token, err := signer.Sign(idc)
	require.NoError(t, err)

	got, err := signer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, idc.Actor, got.Actor)
	assert.Nil(t, got.Frame)
}

func TestSignAndParseImpersonating(t *testing.T) {
	signer := NewSigner(testSecret, time.Hour)
	super := principal(model.RoleSuperadmin)
	target := principal(model.RoleUser)
	started := time.Now().UTC().Truncate(time.Second)

	imp, err := New(super).Start(target, started)
	require.NoError(t, err)
	imp.Frame.SessionID = uuid.New()

	token, err := signer.Sign(imp)
	require.NoError(t, err)

	got, err := signer.Parse(token)
	require.NoError(t, err)
	require.True(t, got.Impersonating())
	assert.Equal(t, target, got.Actor)
	assert.Equal(t, super, got.TrueActor())
	assert.True(t, started.Equal(got.Frame.StartedAt))
	assert.Equal(t, imp.Frame.SessionID, got.Frame.SessionID)
}

func TestParseRejects(t *testing.T) {
	signer := NewSigner(testSecret, time.Hour)
	idc := New(principal(model.RoleUser))

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewSigner("another-secret-value", time.Hour).Sign(idc)
		require.NoError(t, err)

		_, err = signer.Parse(token)
		assert.True(t, ierr.Is(err, ierr.ErrUnauthorized))
	})

	t.Run("expired", func(t *testing.T) {
		past := NewSigner(testSecret, time.Minute)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, err := past.Sign(idc)
		require.NoError(t, err)

		_, err = signer.Parse(token)
		assert.True(t, ierr.Is(err, ierr.ErrUnauthorized))
	})

	t.Run("other algorithm", func(t *testing.T) {
		claims := Claims{
			Role:             model.RoleSuperadmin,
			RegisteredClaims: jwt.RegisteredClaims{Subject: idc.Actor.ID.String()},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = signer.Parse(token)
		assert.True(t, ierr.Is(err, ierr.ErrUnauthorized))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := signer.Parse("not.a.token")
		assert.True(t, ierr.Is(err, ierr.ErrUnauthorized))
	})
}
