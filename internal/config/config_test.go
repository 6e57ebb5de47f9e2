package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/nottu")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 168*time.Hour, cfg.JWT.Expire)
	assert.Equal(t, "NOTTU", cfg.WebAuthn.RPName)
	assert.Equal(t, "localhost", cfg.WebAuthn.RPID)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.WebAuthn.RPOrigins)
	assert.Equal(t, 24*time.Hour, cfg.S3.PhotoURLTTL)
	assert.Equal(t, 10, cfg.DB.MaxOpenConns)
	assert.Equal(t, 30*time.Minute, cfg.DB.ConnMaxLifetime)
	assert.Equal(t, 500, cfg.CleanupBatch)
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadBlankJWTSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET", "   ")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadOriginsTrimmed(t *testing.T) {
	setRequired(t)
	t.Setenv("WEBAUTHN_RP_ORIGINS", "https://a.example.com/, https://b.example.com,,")
	t.Setenv("WEBAUTHN_RP_ID", "example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.WebAuthn.RPOrigins)
	assert.Equal(t, "example.com", cfg.WebAuthn.RPID)
}

func TestLoadS3Settings(t *testing.T) {
	setRequired(t)
	t.Setenv("S3_BUCKET", "photos")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("S3_USE_PATH_STYLE", "true")
	t.Setenv("S3_PHOTO_URL_TTL", "1h")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "photos", cfg.S3.Bucket)
	assert.Equal(t, "http://minio:9000", cfg.S3.Endpoint)
	assert.True(t, cfg.S3.UsePathStyle)
	assert.Equal(t, time.Hour, cfg.S3.PhotoURLTTL)
	assert.Equal(t, "production", cfg.AppEnv)
}
