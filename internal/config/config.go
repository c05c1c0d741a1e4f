package config

import (
	"errors"
	"fmt"
	"log"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"INFO"`

	HTTP struct {
		Address string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
		Timeout time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"5s"`
		// addresses or CIDRs allowed to set X-Forwarded-For
		TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" env-separator:","`
	} `yaml:"http"`

	DB struct {
		Driver string `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`
		DSN    string `yaml:"dsn" env:"DB_DSN" env-required:"true"`
	} `yaml:"db"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
		TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL" env-default:"24h"`
		// attempts per client IP for register and login
		Limit  int           `yaml:"limit" env:"AUTH_RATE_LIMIT" env-default:"5"`
		Window time.Duration `yaml:"window" env:"AUTH_RATE_WINDOW" env-default:"15m"`
	} `yaml:"auth"`

	WS struct {
		AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:","`
		Limit          int           `yaml:"limit" env:"WS_RATE_LIMIT" env-default:"20"`
		Window         time.Duration `yaml:"window" env:"WS_RATE_WINDOW" env-default:"1m"`
	} `yaml:"ws"`

	// TimeZone decides the calendar day of "today" views, e.g. Europe/Paris.
	TimeZone string `yaml:"time_zone" env:"TIME_ZONE" env-default:"Local"`
}

// Load reads configPath when it exists and the environment otherwise.
// A .env file in the working directory is loaded first when present.
func Load(configPath string) (Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return cfg, fmt.Errorf("read env: %w", err)
		}
		return cfg, cfg.Validate()
	}

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		var pe *os.PathError
		if !errors.As(err, &pe) {
			return cfg, fmt.Errorf("read config %q: %w", configPath, err)
		}
		// no file, env only
		cfg = Config{}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return cfg, fmt.Errorf("read env: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

func MustLoad(configPath string) Config {
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot load config: %s", err)
	}
	return cfg
}

func (c Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters")
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("HTTP_TIMEOUT must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if c.Auth.Limit <= 0 || c.WS.Limit <= 0 || c.Auth.Window <= 0 || c.WS.Window <= 0 {
		return errors.New("rate limits and their windows must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Proxies(); err != nil {
		return err
	}
	return nil
}

// Proxies parses HTTP.TrustedProxies. A bare address is a single-host prefix.
func (c Config) Proxies() ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, raw := range c.HTTP.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", raw, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", raw, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}
