package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"

	"go.uber.org/zap"
)

func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	setEnv(t, map[string]string{
		"DATABASE_URL":     "postgres://localhost/coordinator",
		"INDEXER_BASE_URL": "https://indexer.example",
		"INDEXER_API_KEY":  "key",
	})
	os.Unsetenv("PORT")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, c.Port)
	require.Equal(t, "CHANGE_ME", c.AdminKey)
	require.Equal(t, 3, c.BlockConfirmationsThreshold)
	require.Equal(t, 10, c.MaxParallelTx)
	require.Equal(t, 20, c.MaxHistoryLevels)
	require.Equal(t, int64(5000000), c.MinCollateralLovelace)
}

func TestLoadFailsWithoutRequiredFields(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("INDEXER_BASE_URL")
	os.Unsetenv("INDEXER_API_KEY")

	_, err := Load()
	require.Error(t, err)
}

func TestWarnIfInsecureLogsOnDefaultAdminKey(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)

	c := &Config{AdminKey: defaultAdminKey}
	c.WarnIfInsecure(log)

	require.Equal(t, 1, logs.Len())
	require.Contains(t, logs.All()[0].Message, "ADMIN_KEY")
}

func TestWarnIfInsecureSilentWithCustomAdminKey(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)

	c := &Config{AdminKey: "a-real-secret", BlockConfirmationsThreshold: 3}
	c.WarnIfInsecure(log)

	require.Equal(t, 0, logs.Len())
}
