package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mousedb/internal/blob"
	"mousedb/internal/identity"
	"mousedb/pkg/domain"
)

// isolate runs the test in an empty working directory with an empty HOME so
// no config file is picked up by accident.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "colony.json", cfg.Storage.Location)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "none", cfg.Metrics.Driver)
	assert.Equal(t, identity.DefaultPolicy(), cfg.IdentityPolicy())

	schema, err := cfg.DomainSchema()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSchema().Genotypes(), schema.Genotypes())

	capacity, lineage := cfg.RuleSeverities()
	assert.Equal(t, domain.SeverityWarn, capacity)
	assert.Equal(t, domain.SeverityWarn, lineage)
	assert.Equal(t, blob.DriverFilesystem, cfg.BlobStoreConfig().Driver)
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, `
storage:
  location: sqlite://lab.db
log:
  level: debug
schema:
  genotypes: [WT, KO]
  sexes: [M, F]
rules:
  cage_capacity: block
  lineage: "off"
blob:
  driver: s3
  s3:
    bucket: colony
    endpoint: http://localhost:9000
    path_style: true
`)
	t.Setenv("MOUSEDB_LOG_LEVEL", "error")
	t.Setenv("MOUSEDB_IDENTITY_PREFIX", "LAB")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite://lab.db", cfg.Storage.Location)
	assert.Equal(t, "error", cfg.Log.Level, "env overrides file")
	assert.Equal(t, "LAB", cfg.IdentityPolicy().Prefix)
	assert.Equal(t, []string{"WT", "KO"}, cfg.Schema.Genotypes)

	capacity, lineage := cfg.RuleSeverities()
	assert.Equal(t, domain.SeverityBlock, capacity)
	assert.Equal(t, domain.Severity(""), lineage)

	bc := cfg.BlobStoreConfig()
	assert.Equal(t, blob.DriverS3, bc.Driver)
	assert.Equal(t, "colony", bc.S3.Bucket)
	assert.True(t, bc.S3.PathStyle)
}

func TestLoadDiscoversWorkingDirectoryFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, DefaultFile), "storage:\n  location: blob://lab\n")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "blob://lab", cfg.Storage.Location)
}

func TestLoadDiscoversHomeFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".config", "mousedb", "config.yaml"), "metrics:\n  driver: prometheus\n")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "prometheus", cfg.Metrics.Driver)
}

func TestEnvSliceOverride(t *testing.T) {
	isolate(t)
	t.Setenv("MOUSEDB_SCHEMA_SEXES", "M,F,U")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"M", "F", "U"}, cfg.Schema.Sexes)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown format":      "log:\n  format: xml\n",
		"unknown severity":    "rules:\n  lineage: sometimes\n",
		"metrics driver":      "metrics:\n  driver: statsd\n",
		"empty genotype":      "schema:\n  genotypes: [WT, \"\"]\n",
		"duplicate sex":       "schema:\n  sexes: [M, M]\n",
		"s3 without bucket":   "blob:\n  driver: s3\n",
		"prefix":              "identity:\n  prefix: \"M-\"\n",
		"required not hashed": "identity:\n  fields: [toe]\n  required: [birth_date]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := isolate(t)
			path := filepath.Join(dir, "bad.yaml")
			writeFile(t, path, body)
			_, err := Load(path)
			assert.ErrorContains(t, err, "invalid config")
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load("nope.yaml")
	assert.ErrorContains(t, err, "config file")
}

func TestLoadMalformedFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "broken.yaml")
	writeFile(t, path, "storage: [unterminated\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "read config")
}
