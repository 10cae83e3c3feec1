package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Let's Encrypt directory URLs, selected by the run environment.
const (
	DefaultProductionDirectory = "https://acme-v02.api.letsencrypt.org/directory"
	DefaultStagingDirectory    = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// Config holds all configuration
type Config struct {
	MySQL       MySQLConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Admin       AdminConfig
	Migrate     bool
	HTTPAddr    string
	ACME        ACMEConfig
	DNS         DNSConfig
	SecretStore SecretStoreConfig
	Target      TargetConfig
	Worker      WorkerConfig
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	DSN string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// ACMEConfig holds ACME client configuration
type ACMEConfig struct {
	ProductionDirectory string
	StagingDirectory    string
	Contact             string // mailto contact for account registration
	PollIntervalSec     int    // order/authorization status polling
	PollMaxAttempts     int
	LeaseTTLSec         int // per-domain challenge lease
}

// DNSConfig holds DNS challenge configuration
type DNSConfig struct {
	ZoneID          string
	PollIntervalSec int // propagation polling
	PollMaxAttempts int
	Resolvers       []string
}

// SecretStoreConfig holds secret store configuration
type SecretStoreConfig struct {
	Kind  string // vault|env
	Addr  string
	Mount string
	Path  string
	Token string
}

// AdminConfig holds the operator credentials for API login
type AdminConfig struct {
	Username     string
	PasswordHash string // bcrypt hash
}

// TargetConfig holds target server admin API configuration
type TargetConfig struct {
	BaseURL    string
	TimeoutSec int
	MTLS       MTLSConfig
}

// MTLSConfig holds mTLS configuration for the target admin API
type MTLSConfig struct {
	Enabled    bool
	ClientCert string
	ClientKey  string
	CACert     string
}

// WorkerConfig holds pipeline worker configuration
type WorkerConfig struct {
	Enabled     bool
	IntervalSec int
	BatchSize   int
	Concurrency int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getEnv("MYSQL_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASS", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:        os.Getenv("JWT_SECRET"),
			ExpireMinutes: getEnvInt("JWT_EXPIRE_MINUTES", 1440),
			Issuer:        getEnv("JWT_ISSUER", "certops"),
		},
		Admin: AdminConfig{
			Username:     getEnv("ADMIN_USERNAME", "admin"),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Migrate:  getEnv("MIGRATE", "0") == "1",
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		ACME: ACMEConfig{
			ProductionDirectory: getEnv("ACME_DIRECTORY_PRODUCTION", DefaultProductionDirectory),
			StagingDirectory:    getEnv("ACME_DIRECTORY_STAGING", DefaultStagingDirectory),
			Contact:             getEnv("ACME_CONTACT", ""),
			PollIntervalSec:     getEnvInt("ACME_POLL_INTERVAL_SEC", 5),
			PollMaxAttempts:     getEnvInt("ACME_POLL_MAX_ATTEMPTS", 24),
			LeaseTTLSec:         getEnvInt("ACME_LEASE_TTL_SEC", 600),
		},
		DNS: DNSConfig{
			ZoneID:          getEnv("DNS_ZONE_ID", ""),
			PollIntervalSec: getEnvInt("DNS_POLL_INTERVAL_SEC", 5),
			PollMaxAttempts: getEnvInt("DNS_POLL_MAX_ATTEMPTS", 24),
			Resolvers:       splitList(getEnv("DNS_RESOLVERS", "8.8.8.8:53,1.1.1.1:53")),
		},
		SecretStore: SecretStoreConfig{
			Kind:  getEnv("SECRET_STORE_KIND", "vault"),
			Addr:  getEnv("SECRET_STORE_ADDR", ""),
			Mount: getEnv("SECRET_STORE_MOUNT", "secret"),
			Path:  getEnv("SECRET_STORE_PATH", "certops"),
			Token: getEnv("SECRET_STORE_TOKEN", ""),
		},
		Target: TargetConfig{
			BaseURL:    getEnv("TARGET_BASE_URL", ""),
			TimeoutSec: getEnvInt("TARGET_TIMEOUT_SEC", 60),
			MTLS: MTLSConfig{
				Enabled:    getEnv("TARGET_MTLS_ENABLED", "0") == "1",
				ClientCert: getEnv("TARGET_CLIENT_CERT", ""),
				ClientKey:  getEnv("TARGET_CLIENT_KEY", ""),
				CACert:     getEnv("TARGET_CA_CERT", ""),
			},
		},
		Worker: WorkerConfig{
			Enabled:     getEnv("PIPELINE_WORKER_ENABLED", "1") == "1",
			IntervalSec: getEnvInt("PIPELINE_WORKER_INTERVAL_SEC", 30),
			BatchSize:   getEnvInt("PIPELINE_WORKER_BATCH_SIZE", 10),
			Concurrency: getEnvInt("PIPELINE_WORKER_CONCURRENCY", 4),
		},
	}

	return cfg, nil
}

// LoadFromINI loads configuration from INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}

	// Priority: ENV > INI > default
	getValue := func(envKey, iniSection, iniKey, defaultValue string) string {
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		if value := cfgFile.Section(iniSection).Key(iniKey).String(); value != "" {
			return value
		}
		return defaultValue
	}

	getValueInt := func(envKey, iniSection, iniKey string, defaultValue int) int {
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		if cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int(); err == nil {
				return value
			}
		}
		return defaultValue
	}

	getValueBool := func(envKey, iniSection, iniKey string, defaultValue bool) bool {
		if value := os.Getenv(envKey); value != "" {
			return value == "1" || value == "true"
		}
		if value, err := cfgFile.Section(iniSection).Key(iniKey).Bool(); err == nil {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getValue("MYSQL_DSN", "mysql", "dsn", ""),
		},
		Redis: RedisConfig{
			Addr:     getValue("REDIS_ADDR", "redis", "addr", "localhost:6379"),
			Password: getValue("REDIS_PASS", "redis", "pass", ""),
			DB:       getValueInt("REDIS_DB", "redis", "db", 0),
		},
		JWT: JWTConfig{
			Secret:        getValue("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: getValueInt("JWT_EXPIRE_MINUTES", "jwt", "expire_minutes", 1440),
			Issuer:        getValue("JWT_ISSUER", "jwt", "issuer", "certops"),
		},
		Admin: AdminConfig{
			Username:     getValue("ADMIN_USERNAME", "admin", "username", "admin"),
			PasswordHash: getValue("ADMIN_PASSWORD_HASH", "admin", "password_hash", ""),
		},
		Migrate:  getValueBool("MIGRATE", "app", "migrate", false),
		HTTPAddr: getValue("HTTP_ADDR", "http", "addr", ":8080"),
		ACME: ACMEConfig{
			ProductionDirectory: getValue("ACME_DIRECTORY_PRODUCTION", "acme", "production_directory", DefaultProductionDirectory),
			StagingDirectory:    getValue("ACME_DIRECTORY_STAGING", "acme", "staging_directory", DefaultStagingDirectory),
			Contact:             getValue("ACME_CONTACT", "acme", "contact", ""),
			PollIntervalSec:     getValueInt("ACME_POLL_INTERVAL_SEC", "acme", "poll_interval_sec", 5),
			PollMaxAttempts:     getValueInt("ACME_POLL_MAX_ATTEMPTS", "acme", "poll_max_attempts", 24),
			LeaseTTLSec:         getValueInt("ACME_LEASE_TTL_SEC", "acme", "lease_ttl_sec", 600),
		},
		DNS: DNSConfig{
			ZoneID:          getValue("DNS_ZONE_ID", "dns", "zone_id", ""),
			PollIntervalSec: getValueInt("DNS_POLL_INTERVAL_SEC", "dns", "poll_interval_sec", 5),
			PollMaxAttempts: getValueInt("DNS_POLL_MAX_ATTEMPTS", "dns", "poll_max_attempts", 24),
			Resolvers:       splitList(getValue("DNS_RESOLVERS", "dns", "resolvers", "8.8.8.8:53,1.1.1.1:53")),
		},
		SecretStore: SecretStoreConfig{
			Kind:  getValue("SECRET_STORE_KIND", "secret_store", "kind", "vault"),
			Addr:  getValue("SECRET_STORE_ADDR", "secret_store", "addr", ""),
			Mount: getValue("SECRET_STORE_MOUNT", "secret_store", "mount", "secret"),
			Path:  getValue("SECRET_STORE_PATH", "secret_store", "path", "certops"),
			Token: getValue("SECRET_STORE_TOKEN", "secret_store", "token", ""),
		},
		Target: TargetConfig{
			BaseURL:    getValue("TARGET_BASE_URL", "target", "base_url", ""),
			TimeoutSec: getValueInt("TARGET_TIMEOUT_SEC", "target", "timeout_sec", 60),
			MTLS: MTLSConfig{
				Enabled:    getValueBool("TARGET_MTLS_ENABLED", "target", "mtls_enabled", false),
				ClientCert: getValue("TARGET_CLIENT_CERT", "target", "client_cert", ""),
				ClientKey:  getValue("TARGET_CLIENT_KEY", "target", "client_key", ""),
				CACert:     getValue("TARGET_CA_CERT", "target", "ca_cert", ""),
			},
		},
		Worker: WorkerConfig{
			Enabled:     getValueBool("PIPELINE_WORKER_ENABLED", "worker", "enabled", true),
			IntervalSec: getValueInt("PIPELINE_WORKER_INTERVAL_SEC", "worker", "interval_sec", 30),
			BatchSize:   getValueInt("PIPELINE_WORKER_BATCH_SIZE", "worker", "batch_size", 10),
			Concurrency: getValueInt("PIPELINE_WORKER_CONCURRENCY", "worker", "concurrency", 4),
		},
	}

	return cfg, nil
}

// DirectoryURL returns the ACME directory URL for the given environment.
func (c *ACMEConfig) DirectoryURL(environment string) string {
	if environment == "staging" {
		return c.StagingDirectory
	}
	return c.ProductionDirectory
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
