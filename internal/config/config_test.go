package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSecret = "this-is-a-sufficiently-long-jwt-secret"

func TestLoad(t *testing.T) {
	t.Run("默认值生效", func(t *testing.T) {
		t.Setenv("DEPTPORTAL_JWT_SECRET", validSecret)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Empty(t, cfg.Database.Type)
		assert.False(t, cfg.Redis.Enabled)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, int64(10*1024*1024), cfg.Blob.MaxSize)
	})

	t.Run("环境变量覆盖默认值", func(t *testing.T) {
		t.Setenv("DEPTPORTAL_JWT_SECRET", validSecret)
		t.Setenv("DEPTPORTAL_SERVER_PORT", "9090")
		t.Setenv("DEPTPORTAL_CORS_ALLOWED_ORIGINS", "https://a.gov.cn, https://b.gov.cn")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, []string{"https://a.gov.cn", "https://b.gov.cn"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("默认JWT密钥被拒绝", func(t *testing.T) {
		t.Setenv("DEPTPORTAL_JWT_SECRET", "change-me-in-production")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("过短的JWT密钥被拒绝", func(t *testing.T) {
		t.Setenv("DEPTPORTAL_JWT_SECRET", "short")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("配置了数据库类型必须带DSN", func(t *testing.T) {
		t.Setenv("DEPTPORTAL_JWT_SECRET", validSecret)
		t.Setenv("DEPTPORTAL_DATABASE_TYPE", "postgres")
		t.Setenv("DEPTPORTAL_DATABASE_DSN", "")

		_, err := Load()
		assert.Error(t, err)
	})
}
