// Package config loads mini-idp's runtime configuration from MINI_IDP_*
// environment variables, applying sensible defaults and soft caps on the
// token TTLs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ghodss/yaml"
)

const (
	defaultAccessTokenTTL  = 1800 * time.Second
	softCapAccessTokenTTL  = 86400 * time.Second
	defaultRefreshTokenTTL = 43200 * time.Second
	softCapRefreshTokenTTL = 604800 * time.Second

	defaultPrivateKeyFile = "private.pem"
	defaultPublicKeyFile  = "public.pem"

	// VerificationTTL is the device-flow user_code/device_code validity
	// window. It isn't exposed as a MINI_IDP_* env var, following the same
	// 30-minute default used elsewhere for device flows; tests override it
	// directly on the constructed Config.
	defaultVerificationTTL = 30 * time.Minute
)

// Config is the immutable, validated configuration every component is wired
// from at startup — never read from package-level globals after Load
// returns.
type Config struct {
	PrivateKeyFile string
	PublicKeyFile  string

	SelfRefURI string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	VerificationTTL time.Duration

	BootingOptions []string

	BootstrapOwnerUserName string
	BootstrapOwnerEmail    string
	BootstrapOwnerPassword string
	BootstrapOwnerID       string

	DatabaseDriver string // "postgres" or "sqlite3"
	DatabaseDSN    string

	ListenAddr string
	HealthAddr string
}

// Load reads configuration from the environment, applying this package's
// defaults and soft caps. An optional configPath names a YAML (or JSON) file
// whose keys are MINI_IDP_* variable names; its values fill in for any
// variable not already set in the environment, so a set environment variable
// always wins over the file, and the file always wins over the built-in
// default.
func Load(configPath ...string) (*Config, error) {
	fileValues, err := loadConfigFile(firstOrEmpty(configPath))
	if err != nil {
		return nil, err
	}

	c := &Config{
		PrivateKeyFile:  resolve(fileValues, "MINI_IDP_PRIVATE_KEY_FILE", defaultPrivateKeyFile),
		PublicKeyFile:   resolve(fileValues, "MINI_IDP_PUBLIC_KEY_FILE", defaultPublicKeyFile),
		SelfRefURI:      resolve(fileValues, "MINI_IDP_SELF_REF_URI", "http://localhost:8080/"),
		VerificationTTL: defaultVerificationTTL,

		BootstrapOwnerUserName: resolve(fileValues, "MINI_IDP_BOOTSTRAP_OWNER_USER_NAME", "root"),
		BootstrapOwnerEmail:    resolve(fileValues, "MINI_IDP_BOOTSTRAP_OWNER_EMAIL", "root@localhost"),
		BootstrapOwnerPassword: resolve(fileValues, "MINI_IDP_BOOTSTRAP_OWNER_PASSWORD", ""),
		BootstrapOwnerID:       resolve(fileValues, "MINI_IDP_BOOTSTRAP_OWNER_ID", ""),

		DatabaseDriver: resolve(fileValues, "MINI_IDP_DB_DRIVER", "sqlite3"),
		DatabaseDSN:    resolve(fileValues, "MINI_IDP_DB_DSN", "mini-idp.sqlite3"),

		ListenAddr: resolve(fileValues, "MINI_IDP_LISTEN_ADDR", ":8080"),
		HealthAddr: resolve(fileValues, "MINI_IDP_HEALTH_ADDR", ":8081"),
	}

	if !strings.HasSuffix(c.SelfRefURI, "/") {
		return nil, fmt.Errorf("config: MINI_IDP_SELF_REF_URI must end with /, got %q", c.SelfRefURI)
	}

	accessTTL, err := resolveDurationSeconds(fileValues, "MINI_IDP_ACCESS_TOKEN_TTL", defaultAccessTokenTTL)
	if err != nil {
		return nil, err
	}
	if accessTTL > softCapAccessTokenTTL {
		accessTTL = softCapAccessTokenTTL
	}
	c.AccessTokenTTL = accessTTL

	refreshTTL, err := resolveDurationSeconds(fileValues, "MINI_IDP_REFRESH_TOKEN_TTL", defaultRefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	if refreshTTL > softCapRefreshTokenTTL {
		refreshTTL = softCapRefreshTokenTTL
	}
	c.RefreshTokenTTL = refreshTTL

	if raw := resolve(fileValues, "MINI_IDP_BOOTING_OPTIONS", ""); raw != "" {
		for _, opt := range strings.Split(raw, ",") {
			if opt = strings.TrimSpace(opt); opt != "" {
				c.BootingOptions = append(c.BootingOptions, opt)
			}
		}
	}

	return c, nil
}

// HasBootingOption reports whether opt (e.g. "bootstrap",
// "bootstrap:data-reset") was named in MINI_IDP_BOOTING_OPTIONS.
func (c *Config) HasBootingOption(opt string) bool {
	for _, o := range c.BootingOptions {
		if o == opt {
			return true
		}
	}
	return false
}

func firstOrEmpty(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

// loadConfigFile reads a YAML (or JSON, which is valid YAML) file of
// MINI_IDP_* key/value pairs. A missing path is not an error; it simply
// yields no file-sourced overrides.
func loadConfigFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var values map[string]string
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return values, nil
}

func resolve(fileValues map[string]string, name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	if v, ok := fileValues[name]; ok && v != "" {
		return v
	}
	return def
}

func resolveDurationSeconds(fileValues map[string]string, name string, def time.Duration) (time.Duration, error) {
	raw := resolve(fileValues, name, "")
	if raw == "" {
		return def, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer number of seconds: %w", name, err)
	}
	return time.Duration(seconds) * time.Second, nil
}
