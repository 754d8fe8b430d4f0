// Package config loads mousedb settings from an optional YAML file and
// MOUSEDB_ environment variables.
package config

import (
	"mousedb/internal/blob"
	"mousedb/internal/identity"
	"mousedb/pkg/domain"
)

// Config holds all mousedb configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	Identity IdentityConfig `mapstructure:"identity"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Blob     BlobConfig     `mapstructure:"blob"`
}

// StorageConfig selects where the colony is saved and loaded.
type StorageConfig struct {
	// Location is a path, file://, sqlite://, postgres:// or blob:// location.
	Location string `mapstructure:"location" validate:"required"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// SchemaConfig lists the allowed category values.
type SchemaConfig struct {
	Genotypes []string `mapstructure:"genotypes" validate:"required,min=1,dive,required"`
	Sexes     []string `mapstructure:"sexes" validate:"required,min=1,dive,required"`
}

// IdentityConfig mirrors identity.Policy.
type IdentityConfig struct {
	Fields    []string `mapstructure:"fields" validate:"required,min=1,dive,required"`
	Required  []string `mapstructure:"required" validate:"dive,required"`
	Immutable []string `mapstructure:"immutable" validate:"dive,required"`
	Prefix    string   `mapstructure:"prefix" validate:"required,alphanum"`
}

// RulesConfig sets the severity of each built-in rule; "off" disables it.
type RulesConfig struct {
	CageCapacity string `mapstructure:"cage_capacity" validate:"required,oneof=block warn log off"`
	Lineage      string `mapstructure:"lineage" validate:"required,oneof=block warn log off"`
}

// MetricsConfig selects the metrics exporter.
type MetricsConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=none expvar prometheus"`
}

// BlobConfig configures the store behind blob:// locations.
type BlobConfig struct {
	Driver string   `mapstructure:"driver" validate:"required,oneof=fs memory s3"`
	FSRoot string   `mapstructure:"fs_root"`
	S3     S3Config `mapstructure:"s3"`
}

// S3Config holds bucket settings for the s3 blob driver.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// DomainSchema builds the injected category schema.
func (c *Config) DomainSchema() (domain.Schema, error) {
	return domain.NewSchema(c.Schema.Genotypes, c.Schema.Sexes)
}

// IdentityPolicy builds the identity assigner policy.
func (c *Config) IdentityPolicy() identity.Policy {
	return identity.Policy{
		Fields:    append([]string(nil), c.Identity.Fields...),
		Required:  append([]string(nil), c.Identity.Required...),
		Immutable: append([]string(nil), c.Identity.Immutable...),
		Prefix:    c.Identity.Prefix,
	}
}

// RuleSeverities returns the configured severities of the cage capacity and
// lineage rules. A disabled rule has an empty severity.
func (c *Config) RuleSeverities() (capacity, lineage domain.Severity) {
	return severity(c.Rules.CageCapacity), severity(c.Rules.Lineage)
}

func severity(s string) domain.Severity {
	if s == "off" {
		return ""
	}
	return domain.Severity(s)
}

// BlobStoreConfig converts the blob section for blob.Open.
func (c *Config) BlobStoreConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:          c.Blob.S3.Bucket,
			Region:          c.Blob.S3.Region,
			Endpoint:        c.Blob.S3.Endpoint,
			PathStyle:       c.Blob.S3.PathStyle,
			AccessKeyID:     c.Blob.S3.AccessKeyID,
			SecretAccessKey: c.Blob.S3.SecretAccessKey,
		},
	}
}
