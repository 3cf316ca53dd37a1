package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Access.SimilarityThreshold)
	assert.Equal(t, 10, cfg.Conversation.HistoryTurns)
	assert.Equal(t, []string{"reset", "clear", "/reset"}, cfg.Commands.ResetPhrases)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
	assert.Equal(t, 4, cfg.Auth.AdminMinTier)
	assert.Empty(t, cfg.Auth.AdminUsers)
}

func TestLoadFileThenEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
[access]
source = "file"
file_path = "rbac.yaml"
similarity_threshold = 0.9

[search]
backend = "weaviate"

[search.filter_fields]
category = "policies"

[retrieval.keyword_weights]
policy = 7
`), 0o600))
	t.Setenv("CONFIG_FILE", file)
	t.Setenv("ACCESS_SIMILARITY_THRESHOLD", "0.85")
	t.Setenv("MYSQL_ENABLED", "false")
	t.Setenv("RETRIEVAL_TOP_K", "not-a-number")
	t.Setenv("ADMIN_USERS", " ops@corp, ,analyst@corp")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Access.Source)
	assert.Equal(t, 0.85, cfg.Access.SimilarityThreshold)
	assert.False(t, cfg.MySQL.Enabled)
	assert.Equal(t, 5, cfg.Retrieval.TopK, "unparsable env values keep the previous value")
	assert.Equal(t, map[string]string{"category": "policies"}, cfg.Search.FilterFields)
	assert.Equal(t, map[string]int{"policy": 7}, cfg.Retrieval.KeywordWeights)
	assert.Equal(t, []string{"ops@corp", "analyst@corp"}, cfg.Auth.AdminUsers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown access source", func(c *Config) { c.Access.Source = "ldap" }},
		{"unknown search backend", func(c *Config) { c.Search.Backend = "elastic" }},
		{"unknown tables backend", func(c *Config) { c.Tables.Backend = "s3" }},
		{"mysql rbac without mysql", func(c *Config) { c.MySQL.Enabled = false }},
		{"sql search without mysql", func(c *Config) {
			c.Access.Source = "file"
			c.Search.Backend = "sql"
			c.MySQL.Enabled = false
		}},
		{"threshold out of range", func(c *Config) { c.Access.SimilarityThreshold = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
