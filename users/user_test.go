package users

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stashcast/database"
)

func TestEnsureAndAuthenticate(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), &User{})
	require.NoError(t, err)

	require.NoError(t, Ensure(db, "admin", "secret"))
	require.NoError(t, Ensure(db, "admin", "changed"), "existing user is kept")

	u, err := Authenticate(db, "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "admin", u.Username)
	assert.NotEqual(t, "secret", u.Password)

	_, err = Authenticate(db, "admin", "changed")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = Authenticate(db, "nobody", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
