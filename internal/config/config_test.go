package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ddbstore "github.com/dwsmith1983/conveyor/internal/store/dynamodb"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "conveyor.yaml"), []byte(content), 0o644)
	require.NoError(t, err)
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeConfig(t, `store: dynamodb
dynamodb:
  tableName: conveyor-runs
  region: us-east-1
pipelineFile: ci/pipeline.yaml
logUrlBase: https://ci.example.com/logs
recipients:
  - dev-team@example.com
server:
  addr: ":3000"
notifiers:
  - type: console
  - type: webhook
    url: https://hooks.example.com/ci
archive:
  path: ./archive
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "dynamodb", cfg.Store)
	dc, ok := cfg.DynamoDB.(*ddbstore.Config)
	require.True(t, ok, "DynamoDB config should be *dynamodb.Config")
	assert.Equal(t, "conveyor-runs", dc.TableName)
	assert.Equal(t, "us-east-1", dc.Region)
	assert.Equal(t, "ci/pipeline.yaml", cfg.PipelineFile)
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Len(t, cfg.Notifiers, 2)

	// Archive defaults fill in when the section is present but sparse.
	require.NotNil(t, cfg.Archive)
	assert.Equal(t, 24*7, cfg.Archive.RetentionHours)
	assert.Equal(t, 60, cfg.Archive.IntervalMinutes)
}

func TestLoadDefaults(t *testing.T) {
	dir := writeConfig(t, `notifiers:
  - type: console
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "pipeline.yaml", cfg.PipelineFile)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "invalid: [yaml")
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidation_DynamoDBRequiresTable(t *testing.T) {
	dir := writeConfig(t, `store: dynamodb
dynamodb:
  region: us-east-1
`)
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tableName")
}

func TestValidation_UnknownStore(t *testing.T) {
	dir := writeConfig(t, "store: etcd\n")
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store")
}

func TestValidation_NotifierRequirements(t *testing.T) {
	cases := map[string]string{
		"webhook missing url": `notifiers:
  - type: webhook
`,
		"file missing path": `notifiers:
  - type: file
`,
		"sns missing topic": `notifiers:
  - type: sns
`,
		"unknown type": `notifiers:
  - type: pager
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			dir := writeConfig(t, content)
			_, err := Load(dir)
			assert.Error(t, err)
		})
	}
}

func TestValidation_ArchiveRequiresPath(t *testing.T) {
	dir := writeConfig(t, `archive:
  retentionHours: 48
`)
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive.path")
}
