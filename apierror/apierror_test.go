package apierror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusForKnownCodes(t *testing.T) {
	require.Equal(t, http.StatusUnauthorized, StatusFor(InvalidClient))
	require.Equal(t, http.StatusForbidden, StatusFor(AccessDotDenied))
	require.Equal(t, http.StatusConflict, StatusFor(Duplicate))
}

func TestStatusForUnknownCodeDefaultsTo500(t *testing.T) {
	require.Equal(t, http.StatusInternalServerError, StatusFor("something-made-up"))
}

func TestErrorStringIncludesDescriptionWhenPresent(t *testing.T) {
	err := New(InvalidGrant, "refresh token expired")
	require.Equal(t, "invalid_grant: refresh token expired", err.Error())

	bare := New(InvalidGrant, "")
	require.Equal(t, "invalid_grant", bare.Error())
}

func TestNewWithStatusOverridesStatusFor(t *testing.T) {
	err := NewWithStatus(http.StatusUnauthorized, InvalidSubject, "no such user")
	require.Equal(t, http.StatusBadRequest, StatusFor(InvalidSubject), "StatusFor itself is unaffected")
	require.Equal(t, http.StatusUnauthorized, err.Status(), "the override wins for this instance")
}

func TestAs(t *testing.T) {
	var err error = New(Duplicate, "already exists")
	ae, ok := As(err)
	require.True(t, ok)
	require.Equal(t, Duplicate, ae.Code)

	_, ok = As(errors.New("plain error"))
	require.False(t, ok)
}
