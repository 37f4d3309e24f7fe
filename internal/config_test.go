package formrelay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSenderEnv(t *testing.T) {
	t.Helper()
	t.Setenv("EMAIL", "admin@example.com")
	t.Setenv("PASSWORD", "admin-pass")
	t.Setenv("HR_EMAIL", "hr@example.com")
	t.Setenv("HR_PASSWORD", "hr-pass")
	t.Setenv("PROXY_EMAIL", "")
	t.Setenv("PROXY_PASSWORD", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	setSenderEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.ListenAddr())
	assert.Equal(t, SMTPCfg{Host: "smtp.gmail.com", Port: 587}, cfg.SMTP())
	assert.Equal(t, "uploads", cfg.UploadDir)
	assert.Equal(t, int64(5<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 3, cfg.SubmissionLimit)
	assert.Equal(t, 24*time.Hour, cfg.SubmissionWindow)
	assert.Equal(t, 30*time.Second, cfg.SendTimeout)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "hr@areta360.com", cfg.CareerRecipient)
	assert.Equal(t, "admin@areta360.com", cfg.ContactRecipient)
}

func TestLoadConfigOverrides(t *testing.T) {
	setSenderEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("SMTP_SSL", "true")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("SUBMISSION_WINDOW", "2h")
	t.Setenv("SUBMISSION_LIMIT", "5")
	t.Setenv("SEND_TIMEOUT", "5s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, SMTPCfg{Host: "smtp.gmail.com", Port: 465, SSL: true}, cfg.SMTP())
	assert.Equal(t, 2*time.Hour, cfg.SubmissionWindow)
	assert.Equal(t, 5, cfg.SubmissionLimit)
	assert.Equal(t, 5*time.Second, cfg.SendTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadConfigMissingCredentials(t *testing.T) {
	setSenderEnv(t)
	t.Setenv("HR_PASSWORD", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HR_PASSWORD")
}

func TestResolveSenders(t *testing.T) {
	base := Config{
		AdminEmail:    "admin@example.com",
		AdminPassword: "admin-pass",
		HREmail:       "hr@example.com",
		HRPassword:    "hr-pass",
	}

	t.Run("no proxy", func(t *testing.T) {
		cfg := base
		senders, err := cfg.ResolveSenders()
		require.NoError(t, err)
		assert.Equal(t, []SenderIdentity{
			{Name: SenderAdmin, Address: "admin@example.com", Username: "admin@example.com", Password: "admin-pass"},
			{Name: SenderHR, Address: "hr@example.com", Username: "hr@example.com", Password: "hr-pass"},
		}, senders)
	})

	t.Run("proxy overrides both", func(t *testing.T) {
		cfg := base
		cfg.ProxyEmail = "relay@example.com"
		cfg.ProxyPassword = "relay-pass"
		senders, err := cfg.ResolveSenders()
		require.NoError(t, err)
		for _, s := range senders {
			assert.Equal(t, "relay@example.com", s.Address)
			assert.Equal(t, "relay@example.com", s.Username)
			assert.Equal(t, "relay-pass", s.Password)
			assert.True(t, s.Proxied)
		}
	})

	t.Run("proxy address without password keeps own password", func(t *testing.T) {
		cfg := base
		cfg.ProxyEmail = "relay@example.com"
		senders, err := cfg.ResolveSenders()
		require.NoError(t, err)
		assert.Equal(t, "admin-pass", senders[0].Password)
		assert.Equal(t, "hr-pass", senders[1].Password)
	})

	t.Run("proxy fills missing hr credentials", func(t *testing.T) {
		cfg := base
		cfg.HREmail, cfg.HRPassword = "", ""
		cfg.ProxyEmail, cfg.ProxyPassword = "relay@example.com", "relay-pass"
		_, err := cfg.ResolveSenders()
		assert.NoError(t, err)
	})

	t.Run("missing admin", func(t *testing.T) {
		cfg := base
		cfg.AdminPassword = ""
		_, err := cfg.ResolveSenders()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "admin sender")
	})
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Config{Port: 0, SMTPHost: "", SubmissionLimit: 0}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"PORT", "SMTP_HOST", "UPLOAD_DIR", "SUBMISSION_LIMIT", "SUBMISSION_WINDOW", "admin sender", "hr sender"} {
		assert.Contains(t, err.Error(), want)
	}
}
