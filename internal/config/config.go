// Package config provides runtime configuration values for the service.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds configuration knobs for the scheduler, remote API clients,
// data source, status server and telemetry.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	Workers         int
	SleepTime       time.Duration
	RoundRetryDelay time.Duration

	RequestTimeout   time.Duration
	RequestRPS       float64
	RetryCeiling     time.Duration
	RetryDefaultWait time.Duration
	EnrichTopN       int

	GraphQLURL  string
	AuthURL     string
	AuthID      string
	AuthSecret  string
	ClientID    string
	ProxySecret string

	SourceDriver string
	DatabaseURL  string
	SQLitePath   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OTLPEndpoint string
	OTLPInsecure bool
	ServiceName  string

	LogLevel  string
	LogFormat string
}

// loader resolves a key from the environment first and the optional YAML
// file second.
type loader struct {
	file map[string]string
}

func (l loader) getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v, ok := l.file[key]; ok && v != "" {
		return v
	}
	return def
}

func (l loader) atoienv(key string, def int) int {
	v := l.getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (l loader) floatenv(key string, def float64) float64 {
	v := l.getenv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func (l loader) boolenv(key string, def bool) bool {
	v := l.getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (l loader) durenvs(key string, defSec int) time.Duration {
	sec := l.atoienv(key, defSec)
	return time.Duration(sec) * time.Second
}

// Load collects configuration from the environment with defaults. When
// CONFIG_FILE names a YAML file its values sit beneath the environment.
func Load() (Config, error) {
	l := loader{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		l.file = file
	}
	return Config{
		HTTPAddr:         l.getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout:  l.durenvs("SHUTDOWN_TIMEOUT", 15),
		Workers:          l.atoienv("WORKERS", 5),
		SleepTime:        l.durenvs("SLEEP_TIME", 60),
		RoundRetryDelay:  l.durenvs("ROUND_RETRY_DELAY", 30),
		RequestTimeout:   l.durenvs("REQUEST_TIMEOUT", 30),
		RequestRPS:       l.floatenv("REQUEST_RPS", 0),
		RetryCeiling:     l.durenvs("RETRY_CEILING", 60),
		RetryDefaultWait: l.durenvs("RETRY_DEFAULT_WAIT", 5),
		EnrichTopN:       l.atoienv("ENRICH_TOP_N", 4),
		GraphQLURL:       l.getenv("GRAPHQL_URL", ""),
		AuthURL:          l.getenv("AUTH_URL", ""),
		AuthID:           l.getenv("AUTH_ID", ""),
		AuthSecret:       l.getenv("AUTH_SECRET", ""),
		ClientID:         l.getenv("CLIENT_ID", ""),
		ProxySecret:      l.getenv("PROXY_SECRET", ""),
		SourceDriver:     strings.ToLower(l.getenv("SOURCE_DRIVER", "sqlite")),
		DatabaseURL:      l.getenv("DATABASE_URL", ""),
		SQLitePath:       l.getenv("SQLITE_PATH", "price-follower.db"),
		RedisAddr:        l.getenv("REDIS_ADDR", ""),
		RedisPassword:    l.getenv("REDIS_PASSWORD", ""),
		RedisDB:          l.atoienv("REDIS_DB", 0),
		OTLPEndpoint:     l.getenv("OTLP_ENDPOINT", ""),
		OTLPInsecure:     l.boolenv("OTLP_INSECURE", true),
		ServiceName:      l.getenv("SERVICE_NAME", "price-follower"),
		LogLevel:         l.getenv("LOG_LEVEL", "info"),
		LogFormat:        l.getenv("LOG_FORMAT", "json"),
	}, nil
}

// readFile parses a flat YAML mapping of KEY: value pairs.
func readFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

// LoadDotenv exports the variables of a .env file without overriding ones
// already set. A missing file is not an error.
func LoadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate reports every setting the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers))
	}
	if c.GraphQLURL == "" {
		errs = append(errs, errors.New("GRAPHQL_URL is required"))
	}
	if c.AuthURL == "" {
		errs = append(errs, errors.New("AUTH_URL is required"))
	}
	switch c.SourceDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres source"))
		}
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SOURCE_DRIVER %q", c.SourceDriver))
	}
	if c.RequestRPS < 0 {
		errs = append(errs, errors.New("REQUEST_RPS cannot be negative"))
	}
	return errors.Join(errs...)
}
