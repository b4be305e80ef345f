package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv 清空测试涉及的环境变量，测试结束后由 t.Setenv 自动恢复
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

var envKeys = []string{
	"TICKETMAIL_SERVER_HOST",
	"TICKETMAIL_SERVER_PORT",
	"TICKETMAIL_DATABASE_TYPE",
	"TICKETMAIL_DATABASE_ENGINE",
	"TICKETMAIL_DATABASE_DSN",
	"TICKETMAIL_DATABASE_CONN_MAX_LIFETIME",
	"TICKETMAIL_IMAP_HOST",
	"TICKETMAIL_IMAP_USERNAME",
	"TICKETMAIL_IMAP_PASSWORD",
	"TICKETMAIL_IMAP_BACKEND",
	"TICKETMAIL_IMAP_COMMAND_TIMEOUT",
	"TICKETMAIL_SMTP_HOST",
	"TICKETMAIL_SMTP_USERNAME",
	"TICKETMAIL_SMTP_PASSWORD",
	"TICKETMAIL_SMTP_FROM",
	"TICKETMAIL_SMTP_BACKEND",
	"TICKETMAIL_CORS_ALLOWED_ORIGINS",
	"TICKETMAIL_REDIS_LOCK_TTL",
}

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		clearEnv(t, envKeys...)

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "", cfg.Database.Type)
		assert.Equal(t, 993, cfg.IMAP.Port)
		assert.True(t, cfg.IMAP.TLS)
		assert.Equal(t, "INBOX", cfg.IMAP.Mailbox)
		assert.Equal(t, "native", cfg.IMAP.Backend)
		assert.Equal(t, 60*time.Second, cfg.IMAP.CommandTimeout)
		assert.Equal(t, "[TICKET]", cfg.IMAP.TicketMarker)
		assert.Equal(t, 587, cfg.SMTP.Port)
		assert.Equal(t, "native", cfg.SMTP.Backend)
		assert.Equal(t, 15*time.Minute, cfg.Redis.LockTTL)
	})

	t.Run("从环境变量覆盖配置", func(t *testing.T) {
		clearEnv(t, envKeys...)
		t.Setenv("TICKETMAIL_SERVER_PORT", "9090")
		t.Setenv("TICKETMAIL_IMAP_HOST", "imap.example.com")
		t.Setenv("TICKETMAIL_IMAP_BACKEND", "IMAPV2")
		t.Setenv("TICKETMAIL_IMAP_COMMAND_TIMEOUT", "5s")
		t.Setenv("TICKETMAIL_SMTP_USERNAME", "support@example.com")
		t.Setenv("TICKETMAIL_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "imap.example.com", cfg.IMAP.Host)
		assert.Equal(t, "imapv2", cfg.IMAP.Backend)
		assert.Equal(t, 5*time.Second, cfg.IMAP.CommandTimeout)
		assert.Equal(t, "support@example.com", cfg.SMTP.From, "发件地址默认使用用户名")
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("sqlite 强制使用 sqlx", func(t *testing.T) {
		clearEnv(t, envKeys...)
		t.Setenv("TICKETMAIL_DATABASE_TYPE", "sqlite")
		t.Setenv("TICKETMAIL_DATABASE_ENGINE", "gorm")
		t.Setenv("TICKETMAIL_DATABASE_DSN", "file:tickets.db")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, "sqlx", cfg.Database.Engine)
	})

	t.Run("数据库缺少 DSN 失败", func(t *testing.T) {
		clearEnv(t, envKeys...)
		t.Setenv("TICKETMAIL_DATABASE_TYPE", "postgres")

		cfg, err := Load()

		assert.Nil(t, cfg)
		var missing *MissingError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, "TICKETMAIL_DATABASE_DSN", missing.Variable)
	})

	t.Run("不支持的数据库类型失败", func(t *testing.T) {
		clearEnv(t, envKeys...)
		t.Setenv("TICKETMAIL_DATABASE_TYPE", "oracle")

		_, err := Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "TICKETMAIL_DATABASE_TYPE")
	})

	t.Run("无效的超时格式失败", func(t *testing.T) {
		clearEnv(t, envKeys...)
		t.Setenv("TICKETMAIL_IMAP_COMMAND_TIMEOUT", "soon")

		_, err := Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "TICKETMAIL_IMAP_COMMAND_TIMEOUT")
	})

	t.Run("不支持的发送后端失败", func(t *testing.T) {
		clearEnv(t, envKeys...)
		t.Setenv("TICKETMAIL_SMTP_BACKEND", "sendmail")

		_, err := Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "TICKETMAIL_SMTP_BACKEND")
	})
}

func TestIMAPConfigValidate(t *testing.T) {
	valid := IMAPConfig{Host: "imap.example.com", Port: 993, Username: "u", Password: "p"}

	testCases := []struct {
		name     string
		mutate   func(c *IMAPConfig)
		variable string
	}{
		{name: "缺少主机", mutate: func(c *IMAPConfig) { c.Host = "" }, variable: "TICKETMAIL_IMAP_HOST"},
		{name: "缺少用户名", mutate: func(c *IMAPConfig) { c.Username = " " }, variable: "TICKETMAIL_IMAP_USERNAME"},
		{name: "缺少密码", mutate: func(c *IMAPConfig) { c.Password = "" }, variable: "TICKETMAIL_IMAP_PASSWORD"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)

			err := cfg.Validate()

			var missing *MissingError
			require.True(t, errors.As(err, &missing))
			assert.Equal(t, tc.variable, missing.Variable)
			assert.Contains(t, err.Error(), tc.variable)
		})
	}

	t.Run("完整配置通过", func(t *testing.T) {
		cfg := valid
		assert.NoError(t, cfg.Validate())
	})

	t.Run("端口越界失败", func(t *testing.T) {
		cfg := valid
		cfg.Port = 70000
		assert.Error(t, cfg.Validate())
	})
}

func TestSMTPConfigValidate(t *testing.T) {
	cfg := SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p"}

	err := cfg.Validate()

	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "TICKETMAIL_SMTP_FROM", missing.Variable)

	cfg.From = "support@example.com"
	assert.NoError(t, cfg.Validate())
}

func TestParseList(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "单个项目", input: "item1", expected: []string{"item1"}},
		{name: "多个项目", input: "item1,item2,item3", expected: []string{"item1", "item2", "item3"}},
		{name: "带空格的项目", input: " item1 , item2 , item3 ", expected: []string{"item1", "item2", "item3"}},
		{name: "空字符串", input: "", expected: []string{}},
		{name: "只有逗号", input: ",,,", expected: []string{}},
		{name: "混合空值", input: "item1,,item2,", expected: []string{"item1", "item2"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, parseList(tc.input))
		})
	}
}
