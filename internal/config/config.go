package config

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
)

// Store and mail drivers.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"

	MailSMTP = "smtp"
	MailLog  = "log"
)

// SMTPConfig holds the relay settings used when MailDriver is "smtp".
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Config holds runtime configuration. It is built once at startup and
// passed by value into constructors.
type Config struct {
	Port          string
	StoreDriver   string
	DatabaseURL   string
	MongoURL      string
	MongoDatabase string
	JWTSecret     string
	JWTIssuer     string
	JWTTTL        time.Duration
	BcryptCost    int
	CORSOrigins   []string
	AppBaseURL    string
	LogFormat     string
	MailDriver    string
	SMTP          SMTPConfig
}

// rawConfig mirrors the flat keys shared by the YAML file, the environment
// (upper-cased) and the command line (dashes instead of underscores).
type rawConfig struct {
	Port          string `koanf:"port"`
	StoreDriver   string `koanf:"store_driver"`
	DatabaseURL   string `koanf:"database_url"`
	MongoURL      string `koanf:"mongo_url"`
	MongoDatabase string `koanf:"mongo_database"`
	JWTSecret     string `koanf:"jwt_secret"`
	JWTIssuer     string `koanf:"jwt_issuer"`
	JWTTTLMinutes int    `koanf:"jwt_ttl_minutes"`
	BcryptCost    int    `koanf:"bcrypt_cost"`
	CORSOrigins   string `koanf:"cors_allowed_origins"`
	AppBaseURL    string `koanf:"app_base_url"`
	LogFormat     string `koanf:"log_format"`
	MailDriver    string `koanf:"mail_driver"`
	SMTPHost      string `koanf:"smtp_host"`
	SMTPPort      int    `koanf:"smtp_port"`
	SMTPUsername  string `koanf:"smtp_username"`
	SMTPPassword  string `koanf:"smtp_password"`
	MailFrom      string `koanf:"mail_from"`
}

func defaults() map[string]any {
	return map[string]any{
		"port":                 "8080",
		"store_driver":         StorePostgres,
		"mongo_database":       "tours",
		"jwt_issuer":           "tours-be",
		"jwt_ttl_minutes":      90 * 24 * 60,
		"bcrypt_cost":          bcrypt.DefaultCost,
		"cors_allowed_origins": "*",
		"log_format":           "json",
		"mail_driver":          MailLog,
		"smtp_port":            587,
		"mail_from":            "Tours <noreply@tours.example.com>",
	}
}

// RegisterFlags defines the command-line overrides on fs. Secrets are only
// accepted from the environment or the config file.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file (env CONFIG_FILE)")
	fs.String("port", "", "HTTP listen port")
	fs.String("store-driver", "", "user store: postgres, mongo or memory")
	fs.String("database-url", "", "Postgres connection URL")
	fs.String("mongo-url", "", "MongoDB connection URL")
	fs.String("mongo-database", "", "MongoDB database name")
	fs.String("jwt-issuer", "", "issuer claim of session tokens")
	fs.Int("jwt-ttl-minutes", 0, "session token lifetime in minutes")
	fs.Int("bcrypt-cost", 0, "bcrypt work factor")
	fs.String("cors-allowed-origins", "", "comma separated CORS origins")
	fs.String("app-base-url", "", "public base URL used in password reset links")
	fs.String("log-format", "", "log format: json or text")
	fs.String("mail-driver", "", "mail delivery: smtp or log")
}

// Load layers defaults, an optional YAML file, the environment (after
// reading .env when present) and changed flags, in that order.
func Load(fs *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path := configPath(fs); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(".", env.Opt{TransformFunc: envKey}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagKey), nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}

	var raw rawConfig
	if err := k.UnmarshalWithConf("", &raw, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return raw.build()
}

func (r rawConfig) build() (Config, error) {
	cfg := Config{
		Port:          fallback(r.Port, "8080"),
		StoreDriver:   strings.ToLower(strings.TrimSpace(r.StoreDriver)),
		DatabaseURL:   strings.TrimSpace(r.DatabaseURL),
		MongoURL:      strings.TrimSpace(r.MongoURL),
		MongoDatabase: strings.TrimSpace(r.MongoDatabase),
		JWTSecret:     strings.TrimSpace(r.JWTSecret),
		JWTIssuer:     strings.TrimSpace(r.JWTIssuer),
		JWTTTL:        time.Duration(r.JWTTTLMinutes) * time.Minute,
		BcryptCost:    r.BcryptCost,
		CORSOrigins:   parseCSV(r.CORSOrigins),
		AppBaseURL:    strings.TrimRight(strings.TrimSpace(r.AppBaseURL), "/"),
		LogFormat:     strings.ToLower(fallback(r.LogFormat, "json")),
		MailDriver:    strings.ToLower(strings.TrimSpace(r.MailDriver)),
		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(r.SMTPHost),
			Port:     r.SMTPPort,
			Username: strings.TrimSpace(r.SMTPUsername),
			Password: r.SMTPPassword,
			From:     strings.TrimSpace(r.MailFrom),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL_MINUTES must be positive"))
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreMongo:
		if c.MongoURL == "" {
			errs = append(errs, errors.New("MONGO_URL is required for the mongo store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.MailDriver {
	case MailSMTP:
		if c.SMTP.Host == "" {
			errs = append(errs, errors.New("SMTP_HOST is required for the smtp mail driver"))
		}
	case MailLog:
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_DRIVER %q", c.MailDriver))
	}
	for _, origin := range c.CORSOrigins {
		if origin == "*" || !strings.ContainsAny(origin, "*?[") {
			continue
		}
		if _, err := glob.Compile(strings.ToLower(origin), '.'); err != nil {
			errs = append(errs, fmt.Errorf("CORS_ALLOWED_ORIGINS pattern %q: %w", origin, err))
		}
	}
	if c.AppBaseURL != "" {
		if u, err := url.Parse(c.AppBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("APP_BASE_URL %q must be an absolute URL", c.AppBaseURL))
		}
	}
	return errors.Join(errs...)
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

// LogValue keeps secrets out of structured logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("port", c.Port),
		slog.String("store_driver", c.StoreDriver),
		slog.String("jwt_issuer", c.JWTIssuer),
		slog.Duration("jwt_ttl", c.JWTTTL),
		slog.Int("bcrypt_cost", c.BcryptCost),
		slog.Any("cors_origins", c.CORSOrigins),
		slog.String("app_base_url", c.AppBaseURL),
		slog.String("mail_driver", c.MailDriver),
	)
}

func configPath(fs *pflag.FlagSet) string {
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			return f.Value.String()
		}
	}
	return strings.TrimSpace(os.Getenv("CONFIG_FILE"))
}

func flagKey(f *pflag.Flag) (string, any) {
	if f.Name == "config" {
		return "", nil
	}
	return strings.ReplaceAll(f.Name, "-", "_"), f.Value.String()
}

// configKeys are the koanf keys of rawConfig.
var configKeys = func() map[string]struct{} {
	t := reflect.TypeFor[rawConfig]()
	keys := make(map[string]struct{}, t.NumField())
	for i := range t.NumField() {
		keys[t.Field(i).Tag.Get("koanf")] = struct{}{}
	}
	return keys
}()

// envKey maps an environment variable to its config key. Unknown variables
// and empty values are dropped.
func envKey(name, value string) (string, any) {
	key := strings.ToLower(name)
	if _, ok := configKeys[key]; !ok {
		return "", nil
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	return key, value
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
