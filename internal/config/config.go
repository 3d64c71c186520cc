package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Environment names
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Storage and key backends
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverVault    = "vault"
)

type Config struct {
	Env     string        `yaml:"env" env:"ENV" env-default:"local"`
	Issuer  string        `yaml:"issuer" env:"ISSUER" env-required:"true"`
	HTTP    HTTPConfig    `yaml:"http"`
	GRPC    GRPCConfig    `yaml:"grpc"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Keys    KeysConfig    `yaml:"keys"`
	OAuth   OAuthConfig   `yaml:"oauth"`
}

type HTTPConfig struct {
	Address        string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env-default:"10s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env-default:"15s"`
	RequestTimeout time.Duration `yaml:"request_timeout" env-default:"10s"`
}

type GRPCConfig struct {
	Port    int           `yaml:"port" env:"GRPC_PORT" env-default:"9090"`
	Timeout time.Duration `yaml:"timeout" env-default:"5s"`
}

type StorageConfig struct {
	Driver        string        `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	DSN           string        `yaml:"dsn" env:"STORAGE_DSN"`
	QueryTimeout  time.Duration `yaml:"query_timeout" env-default:"3s"`
	PurgeInterval time.Duration `yaml:"purge_interval" env-default:"10m"`
}

type RedisConfig struct {
	Enabled        bool          `yaml:"enabled" env:"REDIS_ENABLED"`
	Host           string        `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port           int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password       string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB             int           `yaml:"db" env:"REDIS_DB"`
	ClientCacheTTL time.Duration `yaml:"client_cache_ttl" env-default:"5m"`
}

type KeysConfig struct {
	Backend       string        `yaml:"backend" env:"KEYS_BACKEND" env-default:"postgres"`
	WatchInterval time.Duration `yaml:"watch_interval" env-default:"30s"`
	Vault         VaultConfig   `yaml:"vault"`
}

type VaultConfig struct {
	Address  string        `yaml:"address" env:"VAULT_ADDR" env-default:"http://vault:8200"`
	Token    string        `yaml:"token" env:"VAULT_TOKEN"`
	RoleID   string        `yaml:"role_id" env:"VAULT_ROLE_ID"`
	SecretID string        `yaml:"secret_id" env:"VAULT_SECRET_ID"`
	Mount    string        `yaml:"mount" env-default:"secret"`
	Path     string        `yaml:"path" env-default:"oidc/signing-keys"`
	Timeout  time.Duration `yaml:"timeout" env-default:"10s"`
}

type OAuthConfig struct {
	CodeTTL           time.Duration `yaml:"code_ttl" env-default:"12m"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl" env-default:"1h"`
	RefreshTokenTTL   time.Duration `yaml:"refresh_token_ttl" env-default:"2160h"`
	PendingTTL        time.Duration `yaml:"pending_ttl" env-default:"10m"`
	SubjectSecret     string        `yaml:"subject_secret" env:"OAUTH_SUBJECT_SECRET" env-required:"true"`
	LoginURL          string        `yaml:"login_url" env:"OAUTH_LOGIN_URL" env-required:"true"`
	ConsentURL        string        `yaml:"consent_url" env:"OAUTH_CONSENT_URL" env-required:"true"`
	RegistrableScopes []string      `yaml:"registrable_scopes" env-default:"openid,email,profile,offline_access,game_data,achievements,user_id"`
	MaxClientsPerUser int           `yaml:"max_clients_per_user" env-default:"5"`
	SessionMaxAge     time.Duration `yaml:"session_max_age" env-default:"720h"`
}

// minCodeTTL is the OpenID Connect recommended floor for authorization code lifetime
const minCodeTTL = 10 * time.Minute

// Validate rejects configurations the provider cannot run safely with
func (c *Config) Validate() error {
	if c.OAuth.CodeTTL < minCodeTTL {
		return fmt.Errorf("oauth.code_ttl must be at least %s", minCodeTTL)
	}
	if len(c.OAuth.SubjectSecret) < 32 {
		return errors.New("oauth.subject_secret must be at least 32 bytes")
	}
	if c.Storage.PurgeInterval <= 0 {
		return errors.New("storage.purge_interval must be positive")
	}
	if c.Keys.WatchInterval <= 0 {
		return errors.New("keys.watch_interval must be positive")
	}
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Keys.Backend {
	case DriverPostgres:
		if c.Storage.Driver != DriverPostgres {
			return errors.New("keys.backend postgres requires the postgres storage driver")
		}
	case DriverVault, DriverMemory:
	default:
		return fmt.Errorf("unknown key backend %q", c.Keys.Backend)
	}
	return nil
}

func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config path is empty")
	}
	return MustLoadPath(path)
}

func MustLoadPath(path string) *Config {
	if path == "" {
		panic("config path is empty")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config path does not exist: " + path)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	return &cfg
}

// Priority: flag > env > default
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}
	return res
}
