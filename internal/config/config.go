package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Login strategies accepted by LOGIN_STRATEGY.
const (
	StrategyHardened = "hardened"
	StrategyLegacy   = "legacy"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	AppBaseURL     string   // used to build links in outgoing mail
	AllowedOrigins []string // CORS allowed origins

	AxiamAPIBase     string
	AxiamAPIKey      string
	AxiamSecretKey   string
	AxiamDomain      string
	AxiamSiteID      string // empty when the site identity is only known from vendor responses
	AxiamHTTPTimeout time.Duration

	CacheURL string // redis URL; empty in dev falls back to an in-process store

	LoginChannelPrefix  string
	DeviceChannelPrefix string
	ChannelNamespace    string // prepended to relay channel names on the shared bus; empty in prod
	RelayURL            string // public websocket URL handed to the browser
	RelayJWTSecret      string
	RelayTokenTTL       time.Duration

	VerificationTokenTTL time.Duration
	ReplayGuardTTL       time.Duration
	SignupTTL            time.Duration
	LoginStrategy        string
	ValidateSession      bool // ask the vendor to confirm client_session_token on hardened logins

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users    string
	Sessions string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	secret := getEnv("AXIAM_SECRET_KEY", "")
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AppBaseURL:     strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:3000"), "/"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),

		AxiamAPIBase:     strings.TrimRight(getEnv("AXIAM_API_BASE", "http://localhost:3000"), "/"),
		AxiamAPIKey:      getEnv("AXIAM_API_KEY", ""),
		AxiamSecretKey:   secret,
		AxiamDomain:      getEnv("AXIAM_DOMAIN", "localhost"),
		AxiamSiteID:      getEnv("AXIAM_SITE_ID", ""),
		AxiamHTTPTimeout: getEnvDuration("AXIAM_HTTP_TIMEOUT", 10*time.Second),

		CacheURL: getEnv("CACHE_URL", ""),

		LoginChannelPrefix:  getEnv("CHANNEL_PREFIX", "facial_sign_on_login"),
		DeviceChannelPrefix: getEnv("DEVICE_CHANNEL_PREFIX", "facial_sign_on_device"),
		ChannelNamespace:    getEnv("CHANNEL_NAMESPACE", ""),
		RelayURL:            getEnv("SERVER_URL", "ws://localhost:3000/cable"),
		RelayJWTSecret:      getEnv("RELAY_JWT_SECRET", secret),
		RelayTokenTTL:       getEnvDuration("RELAY_TOKEN_TTL", time.Hour),

		VerificationTokenTTL: getEnvDuration("VERIFICATION_TOKEN_TTL", 5*time.Minute),
		ReplayGuardTTL:       getEnvDuration("REPLAY_GUARD_TTL", 5*time.Minute),
		SignupTTL:            getEnvDuration("SIGNUP_TTL", time.Hour),
		LoginStrategy:        strings.ToLower(getEnv("LOGIN_STRATEGY", StrategyHardened)),
		ValidateSession:      getEnvBool("FACIAL_VALIDATE_SESSION", true),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:    getEnv("DYNAMO_TABLE_USERS", "users"),
			Sessions: getEnv("DYNAMO_TABLE_SESSIONS", "sessions"),
		},
		S3BucketName: getEnv("S3_BUCKET_NAME", "facial-sign-on-avatars"),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("MAILER_FROM", "noreply@axiam.io"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
	}
}

// LegacyLogin reports whether the less secure legacy verification path is enabled.
func (c *Config) LegacyLogin() bool {
	return c.LoginStrategy == StrategyLegacy
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("5m") or plain seconds ("300").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
