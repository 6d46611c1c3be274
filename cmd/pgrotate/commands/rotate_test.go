package commands

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/systmms/pgrotate/internal/errors"
)

var uuidPattern = regexp.MustCompile(`version ([0-9a-f-]{36}) is now AWSCURRENT`)

func TestRotateCommand_GeneratesToken(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	out, err := e.execute(t, "", "rotate", testSecret)
	require.NoError(t, err)

	m := uuidPattern.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	assert.Equal(t, []string{"AWSCURRENT"}, e.sm.StagesOf(testSecret, m[1]))
	assert.Equal(t, "u_clone", e.current(t).Username)

	_, err = e.execute(t, "", "rotate", testSecret)
	require.NoError(t, err)
	assert.Equal(t, "u", e.current(t).Username)
}

func TestRotateCommand_ResumesWithToken(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.db.ApplyErr = &rerrors.DatabaseError{Message: "permission denied"}

	_, err := e.execute(t, "", "rotate", testSecret, "--token", "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resume with --token tok")
	assert.Equal(t, "u", e.current(t).Username)

	e.db.ApplyErr = nil
	out, err := e.execute(t, "", "rotate", testSecret, "--token", "tok")
	require.NoError(t, err)
	assert.Contains(t, out, "version tok is now AWSCURRENT")
	assert.Equal(t, "u_clone", e.current(t).Username)
}

func TestRotateCommand_RequiresSecret(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	_, err := e.execute(t, "", "rotate")
	assert.Error(t, err)
}
