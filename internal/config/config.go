// Package config assembles service configuration from an optional YAML file
// and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user"
	"github.com/ovaphlow/pitchfork/service-user-graphql/pkg/database"
	"github.com/ovaphlow/pitchfork/service-user-graphql/pkg/utilities"
)

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type Crypto struct {
	Algo       string `yaml:"algo"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

type Explorer struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type GraphQL struct {
	Path     string   `yaml:"path"`
	Tracing  bool     `yaml:"tracing"`
	Explorer Explorer `yaml:"explorer"`
}

type Password struct {
	MinLength     int  `yaml:"min_length"`
	RequireSymbol bool `yaml:"require_symbol"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// fileDatabase is the YAML view of the database section. The full
// database.Config comes from database.ConfigFromEnv.
type fileDatabase struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	Migrate  *bool  `yaml:"migrate"`
}

type Config struct {
	Server        Server       `yaml:"server"`
	FileDatabase  fileDatabase `yaml:"database"`
	Crypto        Crypto       `yaml:"crypto"`
	GraphQL       GraphQL      `yaml:"graphql"`
	Password      Password     `yaml:"password"`
	RateLimit     RateLimit    `yaml:"rate_limit"`
	SnowflakeNode int64        `yaml:"snowflake_node"`

	Database database.Config  `yaml:"-"`
	Log      utilities.Config `yaml:"-"`
}

func Default() Config {
	return Config{
		Server:        Server{Host: "0.0.0.0", Port: 8431},
		Crypto:        Crypto{Algo: "bcrypt", BcryptCost: 12},
		GraphQL:       GraphQL{Path: "/graphql", Explorer: Explorer{Enabled: true, Path: "/playground"}},
		Password:      Password{MinLength: 8},
		RateLimit:     RateLimit{Burst: 10},
		SnowflakeNode: 1,
	}
}

// PasswordPolicy is the default strength policy adjusted by the password
// section.
func (c Config) PasswordPolicy() user.StrengthPolicy {
	p := user.DefaultPasswordPolicy()
	p.MinLength = c.Password.MinLength
	p.RequireSymbol = c.Password.RequireSymbol
	return p
}

// Load reads .env (best effort), then CONFIG_FILE if set, then the
// environment, and validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("SERVER_HOST", &c.Server.Host)
	num("SERVER_PORT", &c.Server.Port)
	str("CRYPTO_ALGO", &c.Crypto.Algo)
	num("CRYPTO_BCRYPT_COST", &c.Crypto.BcryptCost)
	str("GRAPHQL_PATH", &c.GraphQL.Path)
	flag("GRAPHQL_TRACING", &c.GraphQL.Tracing)
	flag("GRAPHQL_EXPLORER_ENABLED", &c.GraphQL.Explorer.Enabled)
	str("GRAPHQL_EXPLORER_PATH", &c.GraphQL.Explorer.Path)
	num("PASSWORD_MIN_LENGTH", &c.Password.MinLength)
	flag("PASSWORD_REQUIRE_SYMBOL", &c.Password.RequireSymbol)
	num("RATE_LIMIT_BURST", &c.RateLimit.Burst)
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: %w", err))
		} else {
			c.RateLimit.RPS = f
		}
	}
	if _, ok := os.LookupEnv("SNOWFLAKE_NODE"); ok {
		c.SnowflakeNode = utilities.NodeFromEnv()
	}

	// Database: the file supplies values the environment leaves unset.
	c.Database = database.ConfigFromEnv()
	if os.Getenv("DATABASE_URL") == "" && c.FileDatabase.URL != "" {
		c.Database.DSN = c.FileDatabase.URL
	}
	if os.Getenv("DATABASE_MAX_CONNS") == "" && c.FileDatabase.MaxConns > 0 {
		c.Database.MaxConns = c.FileDatabase.MaxConns
	}
	if os.Getenv("DATABASE_MIGRATE") == "" && c.FileDatabase.Migrate != nil {
		c.Database.Migrate = *c.FileDatabase.Migrate
	}
	c.Log = utilities.ConfigFromEnv()

	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.GraphQL.Path, "/") {
		errs = append(errs, fmt.Errorf("graphql path %q must start with /", c.GraphQL.Path))
	}
	if c.GraphQL.Explorer.Enabled {
		if !strings.HasPrefix(c.GraphQL.Explorer.Path, "/") {
			errs = append(errs, fmt.Errorf("explorer path %q must start with /", c.GraphQL.Explorer.Path))
		}
		if c.GraphQL.Explorer.Path == c.GraphQL.Path {
			errs = append(errs, fmt.Errorf("explorer path and graphql path are both %q", c.GraphQL.Path))
		}
	}
	switch c.Crypto.Algo {
	case "bcrypt":
		if c.Crypto.BcryptCost < bcrypt.MinCost || c.Crypto.BcryptCost > bcrypt.MaxCost {
			errs = append(errs, fmt.Errorf("bcrypt cost %d outside [%d, %d]", c.Crypto.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost))
		}
	case "argon2id":
	default:
		errs = append(errs, fmt.Errorf("unknown crypto algo %q", c.Crypto.Algo))
	}
	if c.Password.MinLength < 1 {
		errs = append(errs, fmt.Errorf("password min length %d must be positive", c.Password.MinLength))
	}
	if maxLen := user.DefaultPasswordPolicy().MaxLength; c.Password.MinLength > maxLen {
		errs = append(errs, fmt.Errorf("password min length %d exceeds max length %d", c.Password.MinLength, maxLen))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("rate limit rps %v must not be negative", c.RateLimit.RPS))
	}
	return errors.Join(errs...)
}
