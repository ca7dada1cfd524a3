package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePasswd(t *testing.T, content string) string {
	t.Helper()
	passwdFile := filepath.Join(t.TempDir(), ".passwd-ocifs")
	require.NoError(t, os.WriteFile(passwdFile, []byte(content), 0600))
	return passwdFile
}

func TestLoadFromPasswdFile(t *testing.T) {
	passwdFile := writePasswd(t, "TEST_ACCESS_KEY:TEST_SECRET_KEY\n")

	cred := NewCredentials()
	require.NoError(t, cred.LoadFromPasswdFile(passwdFile))
	assert.Equal(t, "TEST_ACCESS_KEY", cred.AccessKeyID)
	assert.Equal(t, "TEST_SECRET_KEY", cred.SecretAccessKey)
	assert.True(t, cred.IsValid())
}

func TestLoadFromPasswdFileInvalidFormat(t *testing.T) {
	passwdFile := writePasswd(t, "INVALID_FORMAT")

	cred := NewCredentials()
	assert.Error(t, cred.LoadFromPasswdFile(passwdFile))
	assert.False(t, cred.IsValid())
}

func TestLoadFromPasswdFileNotFound(t *testing.T) {
	cred := NewCredentials()
	assert.Error(t, cred.LoadFromPasswdFile("/nonexistent/file"))
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("OCIFS_ACCESS_KEY_ID", "ENV_ACCESS_KEY")
	t.Setenv("OCIFS_SECRET_ACCESS_KEY", "ENV_SECRET_KEY")

	cred := NewCredentials()
	require.NoError(t, cred.LoadFromEnvironment())
	assert.Equal(t, "ENV_ACCESS_KEY", cred.AccessKeyID)
	assert.Equal(t, "ENV_SECRET_KEY", cred.SecretAccessKey)
}

func TestLoadFromEnvironmentFallsBackToAWSNames(t *testing.T) {
	t.Setenv("OCIFS_ACCESS_KEY_ID", "")
	t.Setenv("OCIFS_SECRET_ACCESS_KEY", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "AWS_KEY")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "AWS_SECRET")

	cred := NewCredentials()
	require.NoError(t, cred.LoadFromEnvironment())
	assert.Equal(t, "AWS_KEY", cred.AccessKeyID)
}

func TestLoadFromEnvironmentMissing(t *testing.T) {
	for _, name := range []string{"OCIFS_ACCESS_KEY_ID", "OCIFS_SECRET_ACCESS_KEY", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"} {
		t.Setenv(name, "")
	}
	assert.Error(t, NewCredentials().LoadFromEnvironment())
}

func TestRetrieve(t *testing.T) {
	_, err := NewCredentials().Retrieve(context.Background())
	assert.Error(t, err)

	creds, err := Static("AK", "SK", "TOKEN").Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AK", creds.AccessKeyID)
	assert.Equal(t, "SK", creds.SecretAccessKey)
	assert.Equal(t, "TOKEN", creds.SessionToken)
}

func TestRefreshRereadsPasswdFile(t *testing.T) {
	passwdFile := writePasswd(t, "OLD:OLDSECRET")
	cred := NewCredentials()
	require.NoError(t, cred.LoadFromPasswdFile(passwdFile))

	require.NoError(t, os.WriteFile(passwdFile, []byte("NEW:NEWSECRET"), 0600))
	require.NoError(t, cred.Refresh(context.Background()))

	got, err := cred.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "NEW", got.AccessKeyID)
	assert.Equal(t, "NEWSECRET", got.SecretAccessKey)
}

func TestRefreshStaticIsNoop(t *testing.T) {
	cred := Static("AK", "SK", "")
	require.NoError(t, cred.Refresh(context.Background()))
	assert.Equal(t, "AK", cred.AccessKeyID)
}
