// Package config loads the rpcserve server configuration.
//
// Values are layered: built-in defaults, then the YAML file, then RPCSERVE_*
// environment variables. Variables may also come from a .env file; those
// never override the real environment.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transports.
const (
	TransportNetHTTP  = "nethttp"
	TransportFastHTTP = "fasthttp"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RPCSERVE_"

// sessionKeySize is the XChaCha20-Poly1305 key length.
const sessionKeySize = 32

type Config struct {
	Listen      string `yaml:"listen"`
	Transport   string `yaml:"transport"`
	Path        string `yaml:"path"`
	ContentType string `yaml:"content_type"`
	LogLevel    string `yaml:"log_level"`

	RateLimit RateLimit `yaml:"rate_limit"`
	Session   Session   `yaml:"session"`
	OIDC      OIDC      `yaml:"oidc"`
	CORS      CORS      `yaml:"cors"`
}

// RateLimit configures the global token bucket; RPS 0 disables it.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Session configures the encrypted session cookie. Sessions are off when
// no keys are configured.
type Session struct {
	KeyID string `yaml:"key_id"`
	// Keys maps key ids to hex encoded 32 byte keys.
	Keys     map[string]string `yaml:"keys"`
	Insecure bool              `yaml:"insecure"`
}

// OIDC configures bearer token verification. It is off without an issuer.
type OIDC struct {
	Issuer   string `yaml:"issuer"`
	ClientID string `yaml:"client_id"`
	Required bool   `yaml:"required"`
}

type CORS struct {
	Origins []string `yaml:"origins"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Listen:      ":8080",
		Transport:   TransportNetHTTP,
		Path:        "/rpc",
		ContentType: "application/json-rpc",
		LogLevel:    "info",
		RateLimit:   RateLimit{Burst: 1},
	}
}

// Load reads the YAML file at path (skipped when empty), applies
// environment overrides and validates the result.
//
// envFiles are loaded into the environment first; with none given, a .env
// file in the working directory is loaded when present.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cfg.parseYAML(b); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("config: load env files: %w", err)
	}
	return nil
}

func (c *Config) parseYAML(b []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("LISTEN", &c.Listen)
	str("TRANSPORT", &c.Transport)
	str("PATH", &c.Path)
	str("CONTENT_TYPE", &c.ContentType)
	str("LOG_LEVEL", &c.LogLevel)
	str("OIDC_ISSUER", &c.OIDC.Issuer)
	str("OIDC_CLIENT_ID", &c.OIDC.ClientID)
	str("SESSION_KEY_ID", &c.Session.KeyID)

	if v, ok := lookup(EnvPrefix + "RATE_RPS"); ok {
		rps, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("config: %sRATE_RPS: %w", EnvPrefix, err)
		}
		c.RateLimit.RPS = rps
	}
	if v, ok := lookup(EnvPrefix + "RATE_BURST"); ok {
		burst, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %sRATE_BURST: %w", EnvPrefix, err)
		}
		c.RateLimit.Burst = burst
	}
	if v, ok := lookup(EnvPrefix + "OIDC_REQUIRED"); ok {
		required, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %sOIDC_REQUIRED: %w", EnvPrefix, err)
		}
		c.OIDC.Required = required
	}
	// RPCSERVE_SESSION_KEY sets the key for the current key id.
	if v, ok := lookup(EnvPrefix + "SESSION_KEY"); ok {
		if c.Session.Keys == nil {
			c.Session.Keys = map[string]string{}
		}
		c.Session.Keys[c.Session.KeyID] = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok {
		c.CORS.Origins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.CORS.Origins = append(c.CORS.Origins, origin)
			}
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportNetHTTP, TransportFastHTTP:
	default:
		return fmt.Errorf("config: transport %q: want %q or %q", c.Transport, TransportNetHTTP, TransportFastHTTP)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("config: path %q must start with '/'", c.Path)
	}
	if c.ContentType == "" {
		return errors.New("config: content_type must not be empty")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return errors.New("config: rate_limit values must not be negative")
	}
	if c.OIDC.Issuer != "" && c.OIDC.ClientID == "" {
		return errors.New("config: oidc.client_id is required with oidc.issuer")
	}
	if c.OIDC.Required && c.OIDC.Issuer == "" {
		return errors.New("config: oidc.required needs oidc.issuer")
	}
	if _, err := c.SessionKeys(); err != nil {
		return err
	}
	return nil
}

// SessionEnabled reports whether session keys are configured.
func (c *Config) SessionEnabled() bool {
	return len(c.Session.Keys) > 0
}

// SessionKeys decodes the session keys.
func (c *Config) SessionKeys() (map[string][]byte, error) {
	if !c.SessionEnabled() {
		return nil, nil
	}
	if _, ok := c.Session.Keys[c.Session.KeyID]; !ok || c.Session.KeyID == "" {
		return nil, fmt.Errorf("config: session.key_id %q has no key", c.Session.KeyID)
	}
	keys := make(map[string][]byte, len(c.Session.Keys))
	for id, encoded := range c.Session.Keys {
		key, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("config: session key %q is not hex: %w", id, err)
		}
		if len(key) != sessionKeySize {
			return nil, fmt.Errorf("config: session key %q is %d bytes, want %d", id, len(key), sessionKeySize)
		}
		keys[id] = key
	}
	return keys, nil
}

// Level returns LogLevel as a slog.Level.
func (c *Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
	}
}
