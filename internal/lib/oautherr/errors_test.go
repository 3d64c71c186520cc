package oautherr

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedirectLocation(t *testing.T) {
	t.Parallel()

	e := InvalidScope("scope not allowed").WithRedirect("https://rp.example/cb?keep=1", "xyz")
	require.True(t, e.Redirectable())

	loc, err := e.RedirectLocation()
	require.NoError(t, err)

	u, err := url.Parse(loc)
	require.NoError(t, err)
	assert.Equal(t, "rp.example", u.Host)
	assert.Equal(t, "1", u.Query().Get("keep"))
	assert.Equal(t, CodeInvalidScope, u.Query().Get("error"))
	assert.Equal(t, "scope not allowed", u.Query().Get("error_description"))
	assert.Equal(t, "xyz", u.Query().Get("state"))
}

func TestWithRedirectDoesNotMutate(t *testing.T) {
	t.Parallel()

	base := InvalidRequest("missing parameter")
	bound := base.WithRedirect("https://rp.example/cb", "")

	assert.False(t, base.Redirectable())
	assert.True(t, bound.Redirectable())
}

func TestFrom(t *testing.T) {
	t.Parallel()

	plain := errors.New("connection refused")
	converted := From(plain)
	assert.Equal(t, CodeServerError, converted.Code)
	assert.Equal(t, http.StatusInternalServerError, converted.Status)
	assert.NotContains(t, converted.Description, "connection refused")
	assert.ErrorIs(t, converted, plain)

	wrapped := fmt.Errorf("token: %w", InvalidGrant("bad code"))
	assert.Equal(t, CodeInvalidGrant, From(wrapped).Code)

	assert.Nil(t, From(nil))
}
