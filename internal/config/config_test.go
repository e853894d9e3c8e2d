package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("input:\n  paths: [\"/var/quarantine\"]\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"/var/quarantine"}, cfg.Input.Paths)
	assert.Equal(t, int64(DefaultMaxSize), cfg.Input.MaxSize)
	assert.Equal(t, ".", cfg.Output.Dir)
	assert.Equal(t, "none", cfg.Output.Compress)
	assert.Equal(t, "default", cfg.Output.CompressLevel)
	assert.Equal(t, DefaultWorkers, cfg.Scan.Workers)
	assert.Equal(t, "json", cfg.Report.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 500*time.Millisecond, cfg.DebounceDuration())
}

func TestParseFull(t *testing.T) {
	data := `
input:
  paths: ["/q1", "/q2/file.bin"]
  recursive: true
  max_size: 1024
output:
  dir: /tmp/out
  compress: LZ4
  compress_level: Slowest
  keep_meta: true
  overwrite: true
scan:
  workers: 8
watch:
  enabled: true
  debounce: 2s
report:
  format: yaml
logging:
  level: DEBUG
metrics:
  listen: 127.0.0.1:9310
  auth_token: secret
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.True(t, cfg.Input.Recursive)
	assert.Equal(t, int64(1024), cfg.Input.MaxSize)
	assert.Equal(t, "/tmp/out", cfg.Output.Dir)
	assert.Equal(t, "lz4", cfg.Output.Compress)
	assert.Equal(t, "slowest", cfg.Output.CompressLevel)
	assert.True(t, cfg.Output.KeepMeta)
	assert.True(t, cfg.Output.Overwrite)
	assert.Equal(t, 8, cfg.Scan.Workers)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 2*time.Second, cfg.DebounceDuration())
	assert.Equal(t, "yaml", cfg.Report.Format)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9310", cfg.Metrics.Listen)
	assert.Equal(t, "secret", cfg.Metrics.AuthToken)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults ok", func(c *Config) {}, ""},
		{"bad compress", func(c *Config) { c.Output.Compress = "zstd" }, "output.compress"},
		{"bad compress level", func(c *Config) { c.Output.CompressLevel = "max" }, "output.compress_level"},
		{"bad format", func(c *Config) { c.Report.Format = "xml" }, "report.format"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad debounce", func(c *Config) { c.Watch.Debounce = "soon" }, "watch.debounce"},
		{"too many workers", func(c *Config) { c.Scan.Workers = 1000 }, "scan.workers"},
		{"negative max size", func(c *Config) { c.Input.MaxSize = -1 }, "input.max_size"},
		{"empty path", func(c *Config) { c.Input.Paths = []string{" "} }, "input.paths[0]"},
		{"watch without inputs", func(c *Config) { c.Watch.Enabled = true }, "watch.enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Output.Compress = "rar"
	cfg.Report.Format = "csv"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output.compress")
	assert.Contains(t, err.Error(), "report.format")
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("input: [unterminated"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateTransition(t *testing.T) {
	old := Default()
	next := Default()
	next.Logging.Level = "debug"
	next.Output.Compress = "zlib"
	assert.NoError(t, validateTransition(old, next))

	next.Output.Dir = "/elsewhere"
	assert.Error(t, validateTransition(old, next))

	next = Default()
	next.Metrics.Listen = "127.0.0.1:1"
	assert.Error(t, validateTransition(old, next))
}

func TestReloadableReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	r, err := NewReloadable(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "info", r.Get().Logging.Level)

	changed := make(chan *Config, 1)
	r.Watch(func(old, next *Config) {
		select {
		case changed <- next:
		default:
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	// the write is picked up by the file watcher, not an explicit Reload
	require.Eventually(t, func() bool {
		return r.Get().Logging.Level == "debug"
	}, 3*time.Second, 20*time.Millisecond)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher callback not invoked")
	}
}

func TestReloadableRejectsRestartOnlyChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  dir: /a\n"), 0o600))

	r, err := NewReloadable(path)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, os.WriteFile(path, []byte("output:\n  dir: /b\n"), 0o600))
	err = r.Reload()
	require.Error(t, err)
	assert.Equal(t, "/a", r.Get().Output.Dir)
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}

// FuzzParse feeds malformed YAML to Parse; it must return an error or a
// validated config, never panic.
func FuzzParse(f *testing.F) {
	f.Add([]byte(`
input:
  paths: [/var/quarantine]
  recursive: true
output:
  dir: /srv/out
  compress: lz4
watch:
  enabled: true
  debounce: 2s
`))
	f.Add([]byte(""))
	f.Add([]byte("{}"))
	f.Add([]byte("[]"))
	f.Add([]byte("null"))
	f.Add([]byte("---"))
	f.Add([]byte("scan: {workers: -3}\n---\nscan: {workers: 3}"))

	f.Fuzz(func(t *testing.T, data []byte) {
		cfg, err := Parse(data)
		if err != nil {
			return
		}
		if cfg.Scan.Workers <= 0 {
			t.Fatalf("workers not defaulted: %d", cfg.Scan.Workers)
		}
		if cfg.DebounceDuration() < 0 {
			t.Fatalf("negative debounce")
		}
	})
}
