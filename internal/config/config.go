package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the callsync process.
// Values come from env (a local .env file is loaded first when present).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Telephony TelephonyConfig
	CRM       CRMConfig
	Sync      SyncConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// DBConfig is only required when SYNC_CURSOR_BACKEND=postgres.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is only required when SYNC_CURSOR_BACKEND=redis.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

// AuthConfig protects the manual trigger API with operator bearer tokens.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// TelephonyConfig describes the call-log provider (RingCentral).
type TelephonyConfig struct {
	Server       string
	ClientID     string
	ClientSecret string
	// JWTAssertion is the provider-issued JWT credential exchanged for an access token.
	JWTAssertion string

	PageSize int
	MaxPages int
	Timeout  time.Duration
}

// CRMConfig describes the CRM backend (Salesforce) and its JWT bearer flow.
type CRMConfig struct {
	LoginURL    string
	ConsumerKey string
	Username    string
	// PrivateKeyPEM may be provided with literal "\n" sequences; they are expanded on load.
	PrivateKeyPEM string
	APIVersion    string

	Timeout           time.Duration
	RequestsPerSecond float64
}

type SyncConfig struct {
	Interval        time.Duration
	InitialLookback time.Duration
	RunOnStart      bool

	// CursorBackend is one of memory, redis, postgres, sqlite.
	CursorBackend string
	SQLitePath    string
	HandledKeyTTL time.Duration

	// Distributed pass lock (redis backend only).
	LockTTL time.Duration

	NamePrefixes      []string
	ExtensionPrefixes []string
}

const (
	CursorBackendMemory   = "memory"
	CursorBackendRedis    = "redis"
	CursorBackendPostgres = "postgres"
	CursorBackendSQLite   = "sqlite"
)

// Generic department names that never identify the acting party.
var (
	DefaultNamePrefixes      = []string{"corporate", "gear", "stores", "health", "pk", "customer service"}
	DefaultExtensionPrefixes = []string{"corporate", "gear", "stores", "health", "pk", "customer service", "accounts receivable"}
)

func Load() (Config, error) {
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT", 5432)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))

	c.Telephony.Server = strings.TrimRight(strings.TrimSpace(os.Getenv("RC_SERVER")), "/")
	c.Telephony.ClientID = strings.TrimSpace(os.Getenv("RC_CLIENT_ID"))
	c.Telephony.ClientSecret = os.Getenv("RC_CLIENT_SECRET")
	c.Telephony.JWTAssertion = strings.TrimSpace(os.Getenv("RC_JWT_TOKEN"))
	{
		n, err := optionalInt("RC_PAGE_SIZE", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Telephony.PageSize = n
	}
	{
		n, err := optionalInt("RC_MAX_PAGES", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Telephony.MaxPages = n
	}
	c.Telephony.Timeout = mustDuration("RC_TIMEOUT")

	c.CRM.LoginURL = strings.TrimRight(strings.TrimSpace(os.Getenv("SF_LOGIN_URL")), "/")
	c.CRM.ConsumerKey = strings.TrimSpace(os.Getenv("SF_CONSUMER_KEY"))
	c.CRM.Username = strings.TrimSpace(os.Getenv("SF_USERNAME"))
	c.CRM.PrivateKeyPEM = expandNewlines(os.Getenv("SF_PRIVATE_KEY"))
	c.CRM.APIVersion = strings.TrimSpace(os.Getenv("SF_API_VERSION"))
	c.CRM.Timeout = mustDuration("SF_TIMEOUT")
	{
		f, err := optionalFloat("SF_REQUESTS_PER_SECOND", 0)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.CRM.RequestsPerSecond = f
	}

	c.Sync.Interval = mustDuration("SYNC_INTERVAL")
	c.Sync.InitialLookback = mustDuration("SYNC_INITIAL_LOOKBACK")
	c.Sync.RunOnStart = strings.EqualFold(strings.TrimSpace(os.Getenv("SYNC_RUN_ON_START")), "true")
	c.Sync.CursorBackend = strings.ToLower(strings.TrimSpace(os.Getenv("SYNC_CURSOR_BACKEND")))
	c.Sync.SQLitePath = strings.TrimSpace(os.Getenv("SYNC_SQLITE_PATH"))
	c.Sync.HandledKeyTTL = mustDuration("SYNC_HANDLED_KEY_TTL")
	c.Sync.LockTTL = mustDuration("SYNC_LOCK_TTL")
	c.Sync.NamePrefixes = splitCSV(os.Getenv("SYNC_GENERIC_NAME_PREFIXES"))
	c.Sync.ExtensionPrefixes = splitCSV(os.Getenv("SYNC_GENERIC_EXTENSION_PREFIXES"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and applies defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Telephony.Server == "" {
		errs = append(errs, errors.New("RC_SERVER is required"))
	}
	if c.Telephony.ClientID == "" {
		errs = append(errs, errors.New("RC_CLIENT_ID is required"))
	}
	if c.Telephony.ClientSecret == "" {
		errs = append(errs, errors.New("RC_CLIENT_SECRET is required"))
	}
	if c.Telephony.JWTAssertion == "" {
		errs = append(errs, errors.New("RC_JWT_TOKEN is required"))
	}
	if c.Telephony.PageSize <= 0 {
		c.Telephony.PageSize = 50
	}
	if c.Telephony.PageSize > 1000 {
		errs = append(errs, fmt.Errorf("RC_PAGE_SIZE must be <= 1000, got %d", c.Telephony.PageSize))
	}
	if c.Telephony.MaxPages <= 0 {
		c.Telephony.MaxPages = 20
	}
	if c.Telephony.Timeout <= 0 {
		c.Telephony.Timeout = 15 * time.Second
	}

	if c.CRM.LoginURL == "" {
		c.CRM.LoginURL = "https://login.salesforce.com"
	}
	if c.CRM.ConsumerKey == "" {
		errs = append(errs, errors.New("SF_CONSUMER_KEY is required"))
	}
	if c.CRM.Username == "" {
		errs = append(errs, errors.New("SF_USERNAME is required"))
	}
	if strings.TrimSpace(c.CRM.PrivateKeyPEM) == "" {
		errs = append(errs, errors.New("SF_PRIVATE_KEY is required"))
	}
	if c.CRM.APIVersion == "" {
		c.CRM.APIVersion = "v61.0"
	}
	if c.CRM.Timeout <= 0 {
		c.CRM.Timeout = 15 * time.Second
	}
	if c.CRM.RequestsPerSecond <= 0 {
		c.CRM.RequestsPerSecond = 10
	}

	if c.Sync.Interval <= 0 {
		c.Sync.Interval = 15 * time.Minute
	}
	if c.Sync.InitialLookback <= 0 {
		c.Sync.InitialLookback = 24 * time.Hour
	}
	if c.Sync.HandledKeyTTL <= 0 {
		c.Sync.HandledKeyTTL = 7 * 24 * time.Hour
	}
	if c.Sync.LockTTL <= 0 {
		c.Sync.LockTTL = 30 * time.Minute
	}
	if len(c.Sync.NamePrefixes) == 0 {
		c.Sync.NamePrefixes = DefaultNamePrefixes
	}
	if len(c.Sync.ExtensionPrefixes) == 0 {
		c.Sync.ExtensionPrefixes = DefaultExtensionPrefixes
	}
	if c.Sync.CursorBackend == "" {
		c.Sync.CursorBackend = CursorBackendMemory
	}

	switch c.Sync.CursorBackend {
	case CursorBackendMemory:
	case CursorBackendSQLite:
		if c.Sync.SQLitePath == "" {
			c.Sync.SQLitePath = "callsync.db"
		}
	case CursorBackendRedis:
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required for the redis cursor backend"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	case CursorBackendPostgres:
		errs = append(errs, c.validateDB()...)
	default:
		errs = append(errs, fmt.Errorf("SYNC_CURSOR_BACKEND must be one of memory, redis, postgres, sqlite, got %q", c.Sync.CursorBackend))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, fallback int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return fallback, nil
	}
	return mustInt(key)
}

func optionalFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func expandNewlines(v string) string {
	if strings.Contains(v, `\n`) {
		return strings.ReplaceAll(v, `\n`, "\n")
	}
	return v
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
