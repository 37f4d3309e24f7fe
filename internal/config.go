package formrelay

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/areta360/form-relay/env"
)

/*
ENV-ONLY CONFIG (optionally preloaded from .env):
  Required senders:
    EMAIL, PASSWORD          admin identity (contact form)
    HR_EMAIL, HR_PASSWORD    hr identity (career form)
  Optional proxy sender, replaces From and credentials of both identities:
    PROXY_EMAIL, PROXY_PASSWORD
  Transport:
    SMTP_HOST (default "smtp.gmail.com"), SMTP_PORT (587), SMTP_SSL (false)
    SEND_TIMEOUT (30s), SEND_RATE_PER_MINUTE (20, 0 disables), SEND_BURST (5)
  Forms:
    CAREER_RECIPIENT, CONTACT_RECIPIENT
    UPLOAD_DIR ("uploads"), MAX_UPLOAD_BYTES (5MiB)
    SUBMISSION_LIMIT (3), SUBMISSION_WINDOW (24h)
  HTTP:
    PORT (8080), ALLOWED_ORIGINS ("*"), ADMIN_TOKEN
  Stats:
    STATS_REDIS_ADDR, STATS_REDIS_PASSWORD, STATS_REDIS_DB, STATS_PREFIX
  Logging:
    LOG_LEVEL (info), LOG_FORMAT (text|json)
*/

type SMTPCfg struct {
	Host string
	Port int
	SSL  bool
}

type Config struct {
	Port int `mapstructure:"port"`

	AdminEmail    string `mapstructure:"email"`
	AdminPassword string `mapstructure:"password"`
	HREmail       string `mapstructure:"hr_email"`
	HRPassword    string `mapstructure:"hr_password"`
	ProxyEmail    string `mapstructure:"proxy_email"`
	ProxyPassword string `mapstructure:"proxy_password"`

	SMTPHost          string        `mapstructure:"smtp_host"`
	SMTPPort          int           `mapstructure:"smtp_port"`
	SMTPSSL           bool          `mapstructure:"smtp_ssl"`
	SendTimeout       time.Duration `mapstructure:"send_timeout"`
	SendRatePerMinute int           `mapstructure:"send_rate_per_minute"`
	SendBurst         int           `mapstructure:"send_burst"`

	CareerRecipient  string        `mapstructure:"career_recipient"`
	ContactRecipient string        `mapstructure:"contact_recipient"`
	UploadDir        string        `mapstructure:"upload_dir"`
	MaxUploadBytes   int64         `mapstructure:"max_upload_bytes"`
	SubmissionLimit  int           `mapstructure:"submission_limit"`
	SubmissionWindow time.Duration `mapstructure:"submission_window"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AdminToken     string   `mapstructure:"admin_token"`

	StatsRedisAddr     string `mapstructure:"stats_redis_addr"`
	StatsRedisPassword string `mapstructure:"stats_redis_password"`
	StatsRedisDB       int    `mapstructure:"stats_redis_db"`
	StatsPrefix        string `mapstructure:"stats_prefix"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)

	v.SetDefault("email", "")
	v.SetDefault("password", "")
	v.SetDefault("hr_email", "")
	v.SetDefault("hr_password", "")
	v.SetDefault("proxy_email", "")
	v.SetDefault("proxy_password", "")

	v.SetDefault("smtp_host", "smtp.gmail.com")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_ssl", false)
	v.SetDefault("send_timeout", 30*time.Second)
	v.SetDefault("send_rate_per_minute", 20)
	v.SetDefault("send_burst", 5)

	v.SetDefault("career_recipient", "hr@areta360.com")
	v.SetDefault("contact_recipient", "admin@areta360.com")
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("max_upload_bytes", DefaultMaxUploadBytes)
	v.SetDefault("submission_limit", DefaultSubmissionLimit)
	v.SetDefault("submission_window", DefaultSubmissionWindow)

	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("admin_token", "")

	v.SetDefault("stats_redis_addr", "")
	v.SetDefault("stats_redis_password", "")
	v.SetDefault("stats_redis_db", 0)
	v.SetDefault("stats_prefix", "formrelay:stats")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// LoadConfig reads the configuration from the environment and validates it.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	cfg.AllowedOrigins = splitOrigins(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.SMTPHost == "" || c.SMTPPort <= 0 {
		errs = append(errs, errors.New("SMTP_HOST and SMTP_PORT are required"))
	}
	if c.CareerRecipient == "" || c.ContactRecipient == "" {
		errs = append(errs, errors.New("CAREER_RECIPIENT and CONTACT_RECIPIENT must not be empty"))
	}
	if c.UploadDir == "" {
		errs = append(errs, errors.New("UPLOAD_DIR must not be empty"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.SubmissionLimit <= 0 {
		errs = append(errs, errors.New("SUBMISSION_LIMIT must be positive"))
	}
	if c.SubmissionWindow <= 0 {
		errs = append(errs, errors.New("SUBMISSION_WINDOW must be positive"))
	}
	if _, err := c.ResolveSenders(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ResolveSenders turns the credential variables into one SenderIdentity per
// logical sender. A configured proxy replaces the address and, independently,
// the username and password of both senders.
func (c *Config) ResolveSenders() ([]SenderIdentity, error) {
	admin := resolveSender(SenderAdmin, c.AdminEmail, c.AdminPassword, c.ProxyEmail, c.ProxyPassword)
	hr := resolveSender(SenderHR, c.HREmail, c.HRPassword, c.ProxyEmail, c.ProxyPassword)

	var errs []error
	if admin.Address == "" || admin.Password == "" {
		errs = append(errs, errors.New("admin sender needs EMAIL and PASSWORD (or PROXY_EMAIL and PROXY_PASSWORD)"))
	}
	if hr.Address == "" || hr.Password == "" {
		errs = append(errs, errors.New("hr sender needs HR_EMAIL and HR_PASSWORD (or PROXY_EMAIL and PROXY_PASSWORD)"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return []SenderIdentity{admin, hr}, nil
}

func resolveSender(name SenderName, address, password, proxyAddress, proxyPassword string) SenderIdentity {
	s := SenderIdentity{Name: name, Address: address, Username: address, Password: password}
	if proxyAddress != "" {
		s.Address = proxyAddress
		s.Username = proxyAddress
		s.Proxied = true
	}
	if proxyPassword != "" {
		s.Password = proxyPassword
	}
	return s
}

func (c *Config) SMTP() SMTPCfg {
	return SMTPCfg{Host: c.SMTPHost, Port: c.SMTPPort, SSL: c.SMTPSSL}
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// LogFields summarises the configuration with secrets masked.
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.Int("port", c.Port),
		zap.String("admin_email", c.AdminEmail),
		zap.String("admin_password", env.Masked(c.AdminPassword)),
		zap.String("hr_email", c.HREmail),
		zap.String("hr_password", env.Masked(c.HRPassword)),
		zap.String("proxy_email", c.ProxyEmail),
		zap.String("proxy_password", env.Masked(c.ProxyPassword)),
		zap.String("smtp", fmt.Sprintf("%s:%d", c.SMTPHost, c.SMTPPort)),
		zap.Bool("smtp_ssl", c.SMTPSSL),
		zap.String("career_recipient", c.CareerRecipient),
		zap.String("contact_recipient", c.ContactRecipient),
		zap.String("upload_dir", c.UploadDir),
		zap.Int("submission_limit", c.SubmissionLimit),
		zap.Duration("submission_window", c.SubmissionWindow),
		zap.Strings("allowed_origins", c.AllowedOrigins),
		zap.String("admin_token", env.Masked(c.AdminToken)),
		zap.String("stats_redis_addr", c.StatsRedisAddr),
	}
}

// splitOrigins flattens values that arrive as a single comma-separated string.
func splitOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
