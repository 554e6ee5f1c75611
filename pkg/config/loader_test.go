package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnv struct {
	vars map[string]string
}

func newFakeEnv(vars map[string]string) *fakeEnv { return &fakeEnv{vars: vars} }

func (f *fakeEnv) Getenv(key string) string { return f.vars[key] }

func (f *fakeEnv) Environ() []string {
	out := make([]string, 0, len(f.vars))
	for k, v := range f.vars {
		out = append(out, k+"="+v)
	}
	return out
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp_config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadDocument_missingFileIsEmptyRegistry(t *testing.T) {
	t.Parallel()
	l := NewLoader(newFakeEnv(nil))
	specs, err := l.LoadDocument(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestLoadDocument_interpolatesKnownTokens(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"mcpServers":{"fs":{"type":"http","url":"${BASE_URL}/mcp"}}}`)
	l := NewLoader(newFakeEnv(map[string]string{"BASE_URL": "https://example.test"}))

	specs, err := l.LoadDocument(path)
	require.NoError(t, err)
	require.Contains(t, specs, "fs")
	assert.Equal(t, "https://example.test/mcp", specs["fs"].URL)
}

func TestLoadDocument_preservesUnresolvedTokens(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"mcpServers":{"fs":{"type":"http","url":"${MISSING_TOKEN}/mcp"}}}`)
	l := NewLoader(newFakeEnv(nil))

	specs, err := l.LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "${MISSING_TOKEN}/mcp", specs["fs"].URL)
}

func TestLoadDocument_highRiskWithoutIsolationDowngradesToMedium(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"mcpServers":{"fs":{"type":"stdio","command":"node","riskLevel":3}}}`)
	l := NewLoader(newFakeEnv(nil))

	specs, err := l.LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, specs["fs"].RiskLevel)
}

func TestLoadDocument_highRiskWithIsolationStaysHigh(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"mcpServers":{"fs":{"type":"stdio","command":"node","riskLevel":3,
		"isolation":{"image":"mcp/fs:latest"}}}}`)
	l := NewLoader(newFakeEnv(nil))

	specs, err := l.LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, specs["fs"].RiskLevel)
	require.NotNil(t, specs["fs"].Isolation)
	assert.Equal(t, "mcp/fs:latest", specs["fs"].Isolation.Image)
}

func TestLoadDocument_malformedIsolationDowngradesToMedium(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"mcpServers":{"fs":{"type":"stdio","command":"node","riskLevel":3,
		"isolation":"not-an-object"}}}`)
	l := NewLoader(newFakeEnv(nil))

	specs, err := l.LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, specs["fs"].RiskLevel)
	assert.Nil(t, specs["fs"].Isolation)
}

func TestLoadDocument_unknownRiskLevelIsDropped(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"mcpServers":{"fs":{"type":"stdio","command":"node","riskLevel":"extreme"}}}`)
	l := NewLoader(newFakeEnv(nil))

	specs, err := l.LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, RiskUnspecified, specs["fs"].RiskLevel)
}

func TestLoadDocument_envOverridesApplyOnTopOfFile(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"mcpServers":{"fs":{"type":"stdio","command":"old-node","args":["a.js"]}}}`)
	l := NewLoader(newFakeEnv(map[string]string{
		"MCP_SERVER_FS_COMMAND": "node",
		"MCP_SERVER_FS_ARGS":    "b.js, c.js",
	}))

	specs, err := l.LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "node", specs["fs"].Command)
	assert.Equal(t, []string{"b.js", "c.js"}, specs["fs"].Args)
}

func TestLoadDocument_envOverridesCanCreateNewBackend(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"mcpServers":{}}`)
	l := NewLoader(newFakeEnv(map[string]string{
		"MCP_SERVER_NEW_COMMAND": "python",
	}))

	specs, err := l.LoadDocument(path)
	require.NoError(t, err)
	require.Contains(t, specs, "NEW")
	assert.Equal(t, "python", specs["NEW"].Command)
}

func TestLoadDocument_envRiskLevelOverrideUnrecognizedIsDropped(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"mcpServers":{"fs":{"type":"stdio","command":"node"}}}`)
	l := NewLoader(newFakeEnv(map[string]string{
		"MCP_SERVER_FS_RISK_LEVEL": "nonsense",
	}))

	specs, err := l.LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, RiskUnspecified, specs["fs"].RiskLevel)
}
