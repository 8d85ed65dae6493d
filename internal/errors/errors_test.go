package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/jrsteele09/go-patient-auth/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Run("classified error", func(t *testing.T) {
		err := errors.E(errors.ExpiredCredential, "Codec.Verify", stderrors.New("token is expired"))
		require.Equal(t, errors.ExpiredCredential, errors.KindOf(err))
	})

	t.Run("wrapped classified error", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", errors.E(errors.RevokedCredential, "op", nil))
		require.Equal(t, errors.RevokedCredential, errors.KindOf(err))
	})

	t.Run("plain error", func(t *testing.T) {
		require.Equal(t, errors.KindUnknown, errors.KindOf(stderrors.New("boom")))
		require.Equal(t, errors.KindUnknown, errors.KindOf(nil))
	})
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := errors.E(errors.MalformedCredential, "Codec.Verify", stderrors.New("bad segment"))
	require.ErrorIs(t, err, errors.ErrMalformedCredential)
	require.NotErrorIs(t, err, errors.ErrExpiredCredential)
}

func TestErrorMessageHidesCause(t *testing.T) {
	err := errors.E(errors.SignatureInvalid, "Codec.Verify", stderrors.New("crypto/rsa: verification error"))
	require.Equal(t, "[Codec.Verify] signature_invalid", err.Error())
	require.NotContains(t, err.Error(), "crypto/rsa")
}

func TestWrapf(t *testing.T) {
	require.NoError(t, errors.Wrapf(nil, "ignored"))
	err := errors.Wrapf(errors.ErrConflict, "register %s", "a@x.com")
	require.ErrorIs(t, err, errors.ErrConflict)
	require.Contains(t, err.Error(), "register a@x.com")
}
