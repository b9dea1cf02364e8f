package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- ParseConfigPath extended tests ---

func TestParseConfigPath_Extended(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"single segment", "server", []string{"server"}, false},
		{"two segments", "server.port", []string{"server", "port"}, false},
		{"three segments", "server.auth.mode", []string{"server", "tls", "mode"}, false},
		{"empty", "", nil, true},
		{"empty segment", "server..port", nil, true},
		{"leading dot", ".server", nil, true},
		{"trailing dot", "server.", nil, true},
		{"blocked __proto__", "foo.__proto__.bar", nil, true},
		{"blocked prototype", "prototype.x", nil, true},
		{"blocked constructor", "constructor", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				var ce *ConfigError
				assert.ErrorAs(t, err, &ce)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// --- GetValueAtPath extended tests ---

func TestGetValueAtPath_Extended(t *testing.T) {
	root := map[string]any{
		"server": map[string]any{
			"port": 8090,
			"tls": map[string]any{
				"mode": "strict",
			},
		},
		"simple": "value",
	}

	tests := []struct {
		name string
		path []string
		want any
		ok   bool
	}{
		{"nested value", []string{"server", "port"}, 8090, true},
		{"deeply nested", []string{"server", "tls", "mode"}, "strict", true},
		{"top level", []string{"simple"}, "value", true},
		{"missing key", []string{"nonexistent"}, nil, false},
		{"missing nested", []string{"server", "nonexistent"}, nil, false},
		{"non-map intermediate", []string{"simple", "sub"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, ok := GetValueAtPath(root, tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, val)
			}
		})
	}
}

// --- SetValueAtPath extended tests ---

func TestSetValueAtPath_Update(t *testing.T) {
	root := map[string]any{
		"server": map[string]any{
			"port": 8090,
		},
	}

	SetValueAtPath(root, []string{"server", "port"}, 9999)
	val, ok := GetValueAtPath(root, []string{"server", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)
}

func TestSetValueAtPath_CreatesIntermediates(t *testing.T) {
	root := map[string]any{}

	SetValueAtPath(root, []string{"a", "b", "c"}, "deep")
	val, ok := GetValueAtPath(root, []string{"a", "b", "c"})
	assert.True(t, ok)
	assert.Equal(t, "deep", val)
}

func TestSetValueAtPath_OverwritesNonMap(t *testing.T) {
	root := map[string]any{
		"server": "string-not-map",
	}

	SetValueAtPath(root, []string{"server", "port"}, 8080)
	val, ok := GetValueAtPath(root, []string{"server", "port"})
	assert.True(t, ok)
	assert.Equal(t, 8080, val)
}

func TestSetValueAtPath_SingleKey(t *testing.T) {
	root := map[string]any{}

	SetValueAtPath(root, []string{"version"}, "1.0.0")
	assert.Equal(t, "1.0.0", root["version"])
}

// --- UnsetValueAtPath extended tests ---

func TestUnsetValueAtPath_PreserveSiblings(t *testing.T) {
	root := map[string]any{
		"server": map[string]any{
			"port": 8090,
			"bind": "loopback",
		},
	}

	ok := UnsetValueAtPath(root, []string{"server", "port"})
	assert.True(t, ok)

	_, found := GetValueAtPath(root, []string{"server", "port"})
	assert.False(t, found)

	val, found := GetValueAtPath(root, []string{"server", "bind"})
	assert.True(t, found)
	assert.Equal(t, "loopback", val)
}

func TestUnsetValueAtPath_NotFound(t *testing.T) {
	root := map[string]any{
		"server": map[string]any{
			"port": 8090,
		},
	}

	ok := UnsetValueAtPath(root, []string{"server", "nonexistent"})
	assert.False(t, ok)
}

func TestUnsetValueAtPath_MissingIntermediate(t *testing.T) {
	root := map[string]any{}
	ok := UnsetValueAtPath(root, []string{"a", "b", "c"})
	assert.False(t, ok)
}

func TestUnsetValueAtPath_NonMapIntermediate(t *testing.T) {
	root := map[string]any{
		"server": "string",
	}
	ok := UnsetValueAtPath(root, []string{"server", "port"})
	assert.False(t, ok)
}

// --- ResolvePaths extended tests ---

func TestResolvePaths_AllFields(t *testing.T) {
	t.Setenv("COURIER_HOME", "")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".courier")
	assert.Equal(t, base, paths.Base)
	assert.Equal(t, filepath.Join(base, "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(base, ".env"), paths.EnvFile)
	assert.Equal(t, filepath.Join(base, "data"), paths.Data)
	assert.Equal(t, filepath.Join(base, "data", "courier.db"), paths.Database)
	assert.Equal(t, filepath.Join(base, "knowledge"), paths.Knowledge)
	assert.Equal(t, filepath.Join(base, "logs"), paths.Logs)
}

func TestResolvePaths_CustomHomeAllFields(t *testing.T) {
	t.Setenv("COURIER_HOME", "/tmp/testcourier")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/testcourier", paths.Base)
	assert.Equal(t, "/tmp/testcourier/config.yaml", paths.Config)
	assert.Equal(t, "/tmp/testcourier/data/courier.db", paths.Database)
	assert.Equal(t, "/tmp/testcourier/logs", paths.Logs)
}

func testPaths(dir string) Paths {
	return Paths{
		Base:      dir,
		Data:      filepath.Join(dir, "data"),
		Knowledge: filepath.Join(dir, "knowledge"),
		Logs:      filepath.Join(dir, "logs"),
	}
}

func TestEnsureDirs_CreatesAll(t *testing.T) {
	paths := testPaths(t.TempDir())

	err := paths.EnsureDirs()
	require.NoError(t, err)

	for _, dir := range []string{paths.Base, paths.Data, paths.Knowledge, paths.Logs} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestEnsureDirs_Idempotent(t *testing.T) {
	paths := testPaths(t.TempDir())

	require.NoError(t, paths.EnsureDirs())
	require.NoError(t, paths.EnsureDirs()) // second call should succeed
}

// --- blockedKeys tests ---

func TestBlockedKeys(t *testing.T) {
	assert.True(t, blockedKeys["__proto__"])
	assert.True(t, blockedKeys["prototype"])
	assert.True(t, blockedKeys["constructor"])
	assert.False(t, blockedKeys["server"])
	assert.False(t, blockedKeys["port"])
}
