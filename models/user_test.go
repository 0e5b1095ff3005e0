package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeforeSaveHashesPassword(t *testing.T) {
	user := User{Username: "alice", Password: "hunter2secret"}

	require.NoError(t, user.BeforeSave(nil))
	assert.NotEqual(t, "hunter2secret", user.Password)
	assert.NotEmpty(t, user.Password)
}

func TestValidatePassword(t *testing.T) {
	user := User{Username: "alice", Password: "hunter2secret"}
	require.NoError(t, user.BeforeSave(nil))

	assert.NoError(t, user.ValidatePassword("hunter2secret"))
	assert.Error(t, user.ValidatePassword("wrong"))
}
