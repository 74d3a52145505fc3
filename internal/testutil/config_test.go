package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func clearTestDBEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME", "DB_SSL_MODE"} {
		t.Setenv(key, "")
	}
}

func TestDefaultTestDBConfig(t *testing.T) {
	t.Run("local compose defaults", func(t *testing.T) {
		clearTestDBEnv(t)
		assert.Equal(t, TestDBConfig{
			Host:     "localhost",
			Port:     "55432",
			User:     "consult",
			Password: "consult",
			DBName:   "consult",
			SSLMode:  "disable",
		}, DefaultTestDBConfig())
	})

	t.Run("CI overrides", func(t *testing.T) {
		clearTestDBEnv(t)
		t.Setenv("TEST_DB_HOST", "postgres")
		t.Setenv("TEST_DB_PORT", "5432")

		cfg := DefaultTestDBConfig()
		assert.Equal(t, "postgres", cfg.Host)
		assert.Equal(t, "5432", cfg.Port)
		assert.Equal(t, "consult", cfg.DBName)
	})
}

func TestTestDBConfig_DSN(t *testing.T) {
	cfg := TestDBConfig{Host: "db", Port: "5432", User: "u", Password: "p@ss", DBName: "consult", SSLMode: "disable"}

	assert.Equal(t, "postgres://u:p%40ss@db:5432/consult?sslmode=disable", cfg.DSN(""))
	assert.Equal(t,
		"postgres://u:p%40ss@db:5432/consult?search_path=t_ab%2Cpublic&sslmode=disable",
		cfg.DSN("t_ab"))
}

func TestEnvBool(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", "y"} {
		t.Setenv("TESTUTIL_FLAG", v)
		assert.True(t, envBool("TESTUTIL_FLAG"), v)
	}
	t.Setenv("TESTUTIL_FLAG", "off")
	assert.False(t, envBool("TESTUTIL_FLAG"))
}
