package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"mousedb/internal/identity"
	"mousedb/pkg/domain"
)

// EnvPrefix prefixes every environment override, e.g. MOUSEDB_STORAGE_LOCATION.
const EnvPrefix = "MOUSEDB"

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "mousedb.yaml"

func setDefaults(v *viper.Viper) {
	policy := identity.DefaultPolicy()
	schema := domain.DefaultSchema()

	v.SetDefault("storage.location", "colony.json")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("schema.genotypes", schema.Genotypes())
	v.SetDefault("schema.sexes", schema.Sexes())
	v.SetDefault("identity.fields", policy.Fields)
	v.SetDefault("identity.required", policy.Required)
	v.SetDefault("identity.immutable", policy.Immutable)
	v.SetDefault("identity.prefix", policy.Prefix)
	v.SetDefault("rules.cage_capacity", "warn")
	v.SetDefault("rules.lineage", "warn")
	v.SetDefault("metrics.driver", "none")
	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs_root", "blobdata")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
}

// Load reads configuration. path names an explicit file; when empty,
// ./mousedb.yaml and then $HOME/.config/mousedb/config.yaml are tried, and a
// missing file is not an error. Environment variables take precedence over
// file values, which take precedence over defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file, err := resolveFile(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	candidates := []string{DefaultFile}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "mousedb", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("config file: %w", err)
		}
	}
	return "", nil
}

var validate = validator.New()

// Validate checks field tags and the cross-field constraints tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		return fmt.Errorf("invalid config: blob.s3.bucket is required for the s3 driver")
	}
	if _, err := c.DomainSchema(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := identity.NewAssigner(c.IdentityPolicy()); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
