package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	BaseURL     string   `mapstructure:"BASE_URL"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	SessionTTLHours    int     `mapstructure:"SESSION_TTL_HOURS"`
	OTPCodeTTLSeconds  int     `mapstructure:"OTP_CODE_TTL_SECONDS"`
	OTPResendCooldown  int     `mapstructure:"OTP_RESEND_COOLDOWN_SECONDS"`
	InviteTTLDays      int     `mapstructure:"INVITE_TTL_DAYS"`
	RoleTimeoutSeconds int     `mapstructure:"ROLE_TIMEOUT_SECONDS"`
	RateLimitRPS       float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int     `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("BASE_URL", "http://localhost:8000")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SESSION_TTL_HOURS", 24)
	v.SetDefault("OTP_CODE_TTL_SECONDS", 300)
	v.SetDefault("OTP_RESEND_COOLDOWN_SECONDS", 60)
	v.SetDefault("INVITE_TTL_DAYS", 7)
	v.SetDefault("ROLE_TIMEOUT_SECONDS", 8)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("BASE_URL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("SESSION_TTL_HOURS")
	v.BindEnv("OTP_CODE_TTL_SECONDS")
	v.BindEnv("OTP_RESEND_COOLDOWN_SECONDS")
	v.BindEnv("INVITE_TTL_DAYS")
	v.BindEnv("ROLE_TIMEOUT_SECONDS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-do-not-use-in-production"
		log.Println("WARNING: JWT_SECRET not set, using insecure development secret")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside development
// a real JWT secret is mandatory so that sessions cannot be forged.
func (c *Config) Validate() error {
	if !c.IsDev() && (c.JWTSecret == "" || c.JWTSecret == "dev-secret-do-not-use-in-production") {
		return fmt.Errorf("JWT_SECRET must be set when ENV is %q", c.Env)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.InviteTTLDays <= 0 {
		return fmt.Errorf("INVITE_TTL_DAYS must be positive, got %d", c.InviteTTLDays)
	}
	if c.OTPResendCooldown <= 0 {
		return fmt.Errorf("OTP_RESEND_COOLDOWN_SECONDS must be positive, got %d", c.OTPResendCooldown)
	}
	return nil
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) OTPCodeTTL() time.Duration {
	return time.Duration(c.OTPCodeTTLSeconds) * time.Second
}

func (c *Config) ResendCooldown() time.Duration {
	return time.Duration(c.OTPResendCooldown) * time.Second
}

func (c *Config) InviteTTL() time.Duration {
	return time.Duration(c.InviteTTLDays) * 24 * time.Hour
}

func (c *Config) RoleTimeout() time.Duration {
	return time.Duration(c.RoleTimeoutSeconds) * time.Second
}
