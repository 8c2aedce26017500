package shdeconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecretsRoundTrip(t *testing.T) {
	cfg := Default(t.TempDir())
	secrets := map[string]string{"ANTHROPIC_API_KEY": "sk-ant-test", "OPENAI_API_KEY": "sk-oai-test"}

	require.False(t, HasSecretsFile(cfg))
	require.NoError(t, EncryptSecrets(cfg, "correct horse battery staple", secrets))
	require.True(t, HasSecretsFile(cfg))

	got, err := DecryptSecrets(cfg, "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, secrets, got)
}

func TestDecryptSecretsWrongPasswordFails(t *testing.T) {
	cfg := Default(t.TempDir())
	require.NoError(t, EncryptSecrets(cfg, "right-password", map[string]string{"K": "v"}))

	_, err := DecryptSecrets(cfg, "wrong-password")
	require.Error(t, err)
}

func TestDecryptSecretsTruncatedFileFails(t *testing.T) {
	cfg := Default(t.TempDir())
	require.NoError(t, EncryptSecrets(cfg, "pw", map[string]string{"K": "v"}))
	require.NoError(t, os.WriteFile(cfg.SecretsPath(), []byte("short"), 0o600))

	_, err := DecryptSecrets(cfg, "pw")
	require.Error(t, err)
}
