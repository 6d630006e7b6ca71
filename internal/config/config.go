package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreID               string
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string

	LogLevel  string
	LogFormat string
	LogOutput string

	Mpesa     MpesaConfig
	Twilio    TwilioConfig
	Scheduler SchedulerConfig

	// Defaults seed the per-operation Settings snapshot before store overrides apply.
	Defaults Settings
}

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	CallbackToken  string
	RequestTimeout time.Duration
}

// Enabled reports whether enough credentials are present to talk to Daraja.
func (m MpesaConfig) Enabled() bool {
	return m.ConsumerKey != "" && m.ConsumerSecret != "" && m.ShortCode != "" && m.PassKey != ""
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	AlertPhone string
}

func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.FromNumber != "" && t.AlertPhone != ""
}

type SchedulerConfig struct {
	Enabled            bool
	ExpirySweepSpec    string
	DailySummarySpec   string
	DailySummaryTZName string
}

// Load reads configuration from the environment, an optional .env file and an
// optional config.yaml. Environment variables win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	v.AutomaticEnv()
	setDefaults(v)

	tokenTTL := v.GetInt("access_token_ttl_minutes")
	if tokenTTL < 1 {
		tokenTTL = 480
	}

	defaults := DefaultSettings()
	defaults.TaxRatePercent = v.GetFloat64("tax_rate_percent")
	defaults.MpesaShortCode = strings.TrimSpace(v.GetString("mpesa_shortcode"))
	if timeout := v.GetDuration("mpesa_push_timeout"); timeout > 0 {
		defaults.MpesaPushTimeout = timeout
	}
	if err := defaults.Validate(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:                  v.GetString("port"),
		AllowedOrigin:         v.GetString("allowed_origin"),
		DatabaseURL:           v.GetString("database_url"),
		RedisAddr:             v.GetString("redis_addr"),
		RedisPassword:         v.GetString("redis_password"),
		RedisDB:               v.GetInt("redis_db"),
		StoreID:               v.GetString("default_store_id"),
		AuthSecret:            strings.TrimSpace(v.GetString("auth_secret")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(v.GetString("manager_pin")),
		LogLevel:              v.GetString("log_level"),
		LogFormat:             v.GetString("log_format"),
		LogOutput:             v.GetString("log_output"),
		Mpesa: MpesaConfig{
			BaseURL:        strings.TrimRight(v.GetString("mpesa_base_url"), "/"),
			ConsumerKey:    v.GetString("mpesa_consumer_key"),
			ConsumerSecret: v.GetString("mpesa_consumer_secret"),
			ShortCode:      defaults.MpesaShortCode,
			PassKey:        v.GetString("mpesa_passkey"),
			CallbackURL:    v.GetString("mpesa_callback_url"),
			CallbackToken:  strings.TrimSpace(v.GetString("mpesa_callback_token")),
			RequestTimeout: v.GetDuration("mpesa_request_timeout"),
		},
		Twilio: TwilioConfig{
			AccountSID: v.GetString("twilio_account_sid"),
			AuthToken:  v.GetString("twilio_auth_token"),
			FromNumber: v.GetString("twilio_from_number"),
			AlertPhone: v.GetString("alert_phone"),
		},
		Scheduler: SchedulerConfig{
			Enabled:            v.GetBool("scheduler_enabled"),
			ExpirySweepSpec:    v.GetString("mpesa_expiry_sweep"),
			DailySummarySpec:   v.GetString("daily_summary_cron"),
			DailySummaryTZName: v.GetString("daily_summary_tz"),
		},
		Defaults: defaults,
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("redis_db", 0)
	v.SetDefault("default_store_id", "main-store")
	v.SetDefault("access_token_ttl_minutes", 480)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_output", "stdout")
	v.SetDefault("tax_rate_percent", 16)
	v.SetDefault("mpesa_base_url", "https://sandbox.safaricom.co.ke")
	v.SetDefault("mpesa_push_timeout", "90s")
	v.SetDefault("mpesa_request_timeout", "15s")
	v.SetDefault("scheduler_enabled", true)
	v.SetDefault("mpesa_expiry_sweep", "@every 15s")
	v.SetDefault("daily_summary_cron", "0 21 * * *")
	v.SetDefault("daily_summary_tz", "Africa/Nairobi")
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
