package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("admin@awkum.edu.pk", "Admin", "fixit-backend", "secret", time.Minute, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := Parse(pair.AccessToken, "secret", "fixit-backend")
	require.NoError(t, err)
	assert.Equal(t, "admin@awkum.edu.pk", claims.Subject)
	assert.Equal(t, "Admin", claims.Role)
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue("a@x.com", "Student", "fixit-backend", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other", "fixit-backend")
	assert.Error(t, err)
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	pair, err := Issue("a@x.com", "Student", "someone-else", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "fixit-backend")
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	pair, err := Issue("a@x.com", "Student", "fixit-backend", "secret", -time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "fixit-backend")
	assert.Error(t, err)
}
